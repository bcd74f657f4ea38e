package neo

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
)

// WitnessScope 约束见证在执行中的生效范围。
type WitnessScope byte

const (
	// ScopeNone 仅允许为交易本身背书，不授权任何合约调用。
	ScopeNone WitnessScope = 0x00
	// ScopeCalledByEntry 只在入口脚本直接调用的合约内生效。
	ScopeCalledByEntry WitnessScope = 0x01
	// ScopeCustomContracts 只在 AllowedContracts 列出的合约内生效。
	ScopeCustomContracts WitnessScope = 0x10
	// ScopeGlobal 全局生效，中继构造的交易不会使用。
	ScopeGlobal WitnessScope = 0x80
)

// AttrHighPriority 是高优先级交易属性。
const AttrHighPriority byte = 0x01

// Signer 声明一个需要见证的账户及其范围。
type Signer struct {
	Account          UInt160
	Scopes           WitnessScope
	AllowedContracts []UInt160
}

// Witness 是一对调用脚本与验证脚本。
type Witness struct {
	Invocation   []byte
	Verification []byte
}

// Attribute 是交易属性，当前只用到无负载的类型。
type Attribute struct {
	Type byte
}

// Transaction 是一笔 N3 交易，字段顺序即序列化顺序。
// 中继只负责构造与签名，不做反序列化。
type Transaction struct {
	Version         uint8
	Nonce           uint32
	SystemFee       int64
	NetworkFee      int64
	ValidUntilBlock uint32
	Signers         []Signer
	Attributes      []Attribute
	Script          []byte
	Witnesses       []Witness
}

func writeVarUint(buf *bytes.Buffer, v uint64) {
	switch {
	case v < 0xFD:
		buf.WriteByte(byte(v))
	case v <= 0xFFFF:
		buf.WriteByte(0xFD)
		var tmp [2]byte
		binary.LittleEndian.PutUint16(tmp[:], uint16(v))
		buf.Write(tmp[:])
	case v <= 0xFFFFFFFF:
		buf.WriteByte(0xFE)
		var tmp [4]byte
		binary.LittleEndian.PutUint32(tmp[:], uint32(v))
		buf.Write(tmp[:])
	default:
		buf.WriteByte(0xFF)
		var tmp [8]byte
		binary.LittleEndian.PutUint64(tmp[:], v)
		buf.Write(tmp[:])
	}
}

func writeVarBytes(buf *bytes.Buffer, data []byte) {
	writeVarUint(buf, uint64(len(data)))
	buf.Write(data)
}

func (s Signer) encode(buf *bytes.Buffer) {
	buf.Write(s.Account.BytesLE())
	buf.WriteByte(byte(s.Scopes))
	if s.Scopes&ScopeCustomContracts != 0 {
		writeVarUint(buf, uint64(len(s.AllowedContracts)))
		for _, c := range s.AllowedContracts {
			buf.Write(c.BytesLE())
		}
	}
}

// UnsignedBytes 序列化不含见证的交易体，交易哈希与签名摘要都基于它。
func (t *Transaction) UnsignedBytes() []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(t.Version)

	var u32 [4]byte
	binary.LittleEndian.PutUint32(u32[:], t.Nonce)
	buf.Write(u32[:])

	var u64 [8]byte
	binary.LittleEndian.PutUint64(u64[:], uint64(t.SystemFee))
	buf.Write(u64[:])
	binary.LittleEndian.PutUint64(u64[:], uint64(t.NetworkFee))
	buf.Write(u64[:])

	binary.LittleEndian.PutUint32(u32[:], t.ValidUntilBlock)
	buf.Write(u32[:])

	writeVarUint(buf, uint64(len(t.Signers)))
	for _, s := range t.Signers {
		s.encode(buf)
	}

	writeVarUint(buf, uint64(len(t.Attributes)))
	for _, a := range t.Attributes {
		buf.WriteByte(a.Type)
	}

	writeVarBytes(buf, t.Script)
	return buf.Bytes()
}

// Bytes 序列化完整交易，见证顺序必须与签名者顺序一致。
func (t *Transaction) Bytes() []byte {
	buf := bytes.NewBuffer(t.UnsignedBytes())
	writeVarUint(buf, uint64(len(t.Witnesses)))
	for _, w := range t.Witnesses {
		writeVarBytes(buf, w.Invocation)
		writeVarBytes(buf, w.Verification)
	}
	return buf.Bytes()
}

// Hash 返回交易哈希，即无见证交易体的 SHA-256。
func (t *Transaction) Hash() UInt256 {
	var u UInt256
	sum := sha256.Sum256(t.UnsignedBytes())
	copy(u[:], sum[:])
	return u
}

// TxID 返回 0x 前缀的交易号。
func (t *Transaction) TxID() string {
	return t.Hash().String()
}

// SigningDigest 返回签名摘要: sha256(网络魔数小端序 || 交易哈希)。
func (t *Transaction) SigningDigest(magic uint32) [32]byte {
	hash := t.Hash()
	buf := make([]byte, 4+UInt256Size)
	binary.LittleEndian.PutUint32(buf[:4], magic)
	copy(buf[4:], hash[:])
	return sha256.Sum256(buf)
}
