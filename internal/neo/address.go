package neo

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/base58"

	"NeoGas-Relay/internal/neovm"
)

// AddressVersion 是 N3 地址的版本前缀字节。
const AddressVersion byte = 0x35

// CompressedPubKeySize 是压缩公钥的字节数。
const CompressedPubKeySize = 33

// VerificationScript 构造单签验证脚本：压缩公钥入栈后调用 CheckSig。
func VerificationScript(compressedPubKey []byte) ([]byte, error) {
	if len(compressedPubKey) != CompressedPubKeySize {
		return nil, fmt.Errorf("公钥应为 %d 字节压缩格式, 实际 %d", CompressedPubKeySize, len(compressedPubKey))
	}
	if compressedPubKey[0] != 0x02 && compressedPubKey[0] != 0x03 {
		return nil, fmt.Errorf("压缩公钥前缀非法: %#x", compressedPubKey[0])
	}
	return neovm.NewScriptBuilder().
		PushBytes(compressedPubKey).
		EmitSyscall(neovm.SyscallCryptoCheckSig).
		Bytes()
}

// ScriptHashFromPubKey 返回压缩公钥对应的单签脚本哈希。
func ScriptHashFromPubKey(compressedPubKey []byte) (UInt160, error) {
	script, err := VerificationScript(compressedPubKey)
	if err != nil {
		return UInt160{}, err
	}
	return Hash160(script), nil
}

// AddressFromScriptHash 按 base58check(version || hash) 编码地址。
func AddressFromScriptHash(h UInt160) string {
	return base58.CheckEncode(h.BytesLE(), AddressVersion)
}

// ScriptHashFromAddress 解码 N3 地址并校验版本前缀。
func ScriptHashFromAddress(addr string) (UInt160, error) {
	payload, version, err := base58.CheckDecode(addr)
	if err != nil {
		return UInt160{}, fmt.Errorf("解析地址 %q: %w", addr, err)
	}
	if version != AddressVersion {
		return UInt160{}, fmt.Errorf("地址 %q 版本前缀不匹配: %#x", addr, version)
	}
	if len(payload) != UInt160Size {
		return UInt160{}, fmt.Errorf("地址 %q 负载应为 %d 字节, 实际 %d", addr, UInt160Size, len(payload))
	}
	var u UInt160
	copy(u[:], payload)
	return u, nil
}

// ParseAccount 同时接受 N3 地址与 0x 脚本哈希两种写法，
// 意图里的 from/to 字段允许任意一种。
func ParseAccount(s string) (UInt160, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return UInt160{}, fmt.Errorf("账户不能为空")
	}
	if strings.HasPrefix(trimmed, "0x") {
		return ParseUInt160(trimmed)
	}
	if len(trimmed) == UInt160Size*2 {
		if u, err := ParseUInt160(trimmed); err == nil {
			return u, nil
		}
	}
	return ScriptHashFromAddress(trimmed)
}
