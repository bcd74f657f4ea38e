package neo

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/btcsuite/btcutil/base58"
	"github.com/ethereum/go-ethereum/crypto"

	"NeoGas-Relay/internal/neovm"
)

// WIF 编码常量。
const (
	wifVersion         byte = 0x80
	wifCompressionFlag byte = 0x01
)

// Account 持有代理热钱包的签名密钥以及派生出的脚本哈希与地址。
// 所有派生量在构造时计算一次，之后只读。
type Account struct {
	privateKey   *ecdsa.PrivateKey
	publicKey    []byte
	verification []byte
	scriptHash   UInt160
	address      string
}

// NewAccountFromWIF 解析 WIF 私钥并派生账户。
// 负载必须是 32 字节私钥加压缩标志，N3 账户总是使用压缩公钥。
func NewAccountFromWIF(wif string) (*Account, error) {
	payload, version, err := base58.CheckDecode(wif)
	if err != nil {
		return nil, fmt.Errorf("解析 WIF: %w", err)
	}
	if version != wifVersion {
		return nil, fmt.Errorf("WIF 版本前缀不匹配: %#x", version)
	}
	if len(payload) != 33 || payload[32] != wifCompressionFlag {
		return nil, fmt.Errorf("WIF 负载非法: 长度 %d", len(payload))
	}
	return NewAccountFromPrivateKey(payload[:32])
}

// NewAccountFromPrivateKey 从 32 字节原始私钥派生账户。
func NewAccountFromPrivateKey(raw []byte) (*Account, error) {
	priv, err := crypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("加载私钥: %w", err)
	}
	pub := crypto.CompressPubkey(&priv.PublicKey)
	verification, err := VerificationScript(pub)
	if err != nil {
		return nil, err
	}
	hash := Hash160(verification)
	return &Account{
		privateKey:   priv,
		publicKey:    pub,
		verification: verification,
		scriptHash:   hash,
		address:      AddressFromScriptHash(hash),
	}, nil
}

// Address 返回 N3 地址。
func (a *Account) Address() string {
	return a.address
}

// ScriptHash 返回账户脚本哈希。
func (a *Account) ScriptHash() UInt160 {
	return a.scriptHash
}

// PublicKey 返回压缩公钥的副本。
func (a *Account) PublicKey() []byte {
	out := make([]byte, len(a.publicKey))
	copy(out, a.publicKey)
	return out
}

// VerificationScript 返回单签验证脚本的副本。
func (a *Account) VerificationScript() []byte {
	out := make([]byte, len(a.verification))
	copy(out, a.verification)
	return out
}

// SignDigest 对 32 字节摘要做 ECDSA 签名，返回链上使用的 64 字节 r||s。
func (a *Account) SignDigest(digest []byte) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("摘要应为 32 字节, 实际 %d", len(digest))
	}
	sig, err := crypto.Sign(digest, a.privateKey)
	if err != nil {
		return nil, fmt.Errorf("签名: %w", err)
	}
	return sig[:64], nil
}

// WitnessFor 对交易签名并返回标准单签见证。
func (a *Account) WitnessFor(tx *Transaction, magic uint32) (Witness, error) {
	digest := tx.SigningDigest(magic)
	sig, err := a.SignDigest(digest[:])
	if err != nil {
		return Witness{}, err
	}
	invocation, err := neovm.NewScriptBuilder().PushBytes(sig).Bytes()
	if err != nil {
		return Witness{}, err
	}
	return Witness{Invocation: invocation, Verification: a.VerificationScript()}, nil
}
