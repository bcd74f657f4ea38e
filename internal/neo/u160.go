package neo

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // N3 脚本哈希标准要求 RIPEMD-160
)

// 哈希长度。
const (
	UInt160Size = 20
	UInt256Size = 32
)

// UInt160 是 20 字节的脚本哈希。内部按小端序存放，与脚本中
// 入栈的原始字节以及地址负载一致；0x 前缀的展示形式是反转后的大端序。
type UInt160 [UInt160Size]byte

// ParseUInt160 解析 0x 前缀（或裸十六进制）的大端序脚本哈希。
func ParseUInt160(s string) (UInt160, error) {
	var u UInt160
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return u, fmt.Errorf("解析脚本哈希 %q: %w", s, err)
	}
	if len(raw) != UInt160Size {
		return u, fmt.Errorf("脚本哈希应为 %d 字节, 实际 %d", UInt160Size, len(raw))
	}
	for i, b := range raw {
		u[UInt160Size-1-i] = b
	}
	return u, nil
}

// BytesLE 返回内部小端序字节的副本。
func (u UInt160) BytesLE() []byte {
	out := make([]byte, UInt160Size)
	copy(out, u[:])
	return out
}

// BytesBE 返回大端序（展示序）字节的副本。
func (u UInt160) BytesBE() []byte {
	out := make([]byte, UInt160Size)
	for i, b := range u {
		out[UInt160Size-1-i] = b
	}
	return out
}

// String 返回 0x 前缀的大端序十六进制表示。
func (u UInt160) String() string {
	return "0x" + hex.EncodeToString(u.BytesBE())
}

// IsZero 报告哈希是否为全零。
func (u UInt160) IsZero() bool {
	return u == UInt160{}
}

// UInt256 是 32 字节哈希，交易号使用该类型。展示约定与 UInt160 相同。
type UInt256 [UInt256Size]byte

// ParseUInt256 解析 0x 前缀（或裸十六进制）的大端序哈希。
func ParseUInt256(s string) (UInt256, error) {
	var u UInt256
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return u, fmt.Errorf("解析交易哈希 %q: %w", s, err)
	}
	if len(raw) != UInt256Size {
		return u, fmt.Errorf("交易哈希应为 %d 字节, 实际 %d", UInt256Size, len(raw))
	}
	for i, b := range raw {
		u[UInt256Size-1-i] = b
	}
	return u, nil
}

// String 返回 0x 前缀的大端序十六进制表示。
func (u UInt256) String() string {
	out := make([]byte, UInt256Size)
	for i, b := range u {
		out[UInt256Size-1-i] = b
	}
	return "0x" + hex.EncodeToString(out)
}

// Hash160 先做 SHA-256 再做 RIPEMD-160，结果即脚本哈希的内部序。
func Hash160(data []byte) UInt160 {
	sha := sha256.Sum256(data)
	h := ripemd160.New()
	h.Write(sha[:])
	var u UInt160
	copy(u[:], h.Sum(nil))
	return u
}
