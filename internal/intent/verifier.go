package intent

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	xerrors "NeoGas-Relay/internal/errors"
	"NeoGas-Relay/internal/neo"
)

// Verifier 从可恢复签名推导公钥并核对发送方地址。
// 纯函数，无共享状态，可并发使用。
type Verifier struct{}

// NewVerifier 创建意图验签器。
func NewVerifier() Verifier {
	return Verifier{}
}

// Verify 校验意图授权。签名解析失败、公钥恢复失败或派生地址
// 与 from 不符都按签名无效处理，绝不放行。
func (Verifier) Verify(it TransferIntent) error {
	if err := it.Validate(); err != nil {
		return err
	}

	payload, err := CanonicalPayload(it)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode intent payload", xerrors.WithStage(StageVerify))
	}
	digest := sha256.Sum256(payload)

	sig, err := DecodeSignature(it.Signature)
	if err != nil {
		return xerrors.Wrap(CodeInvalidSignature, err, "intent signature does not match sender", xerrors.WithStage(StageVerify))
	}

	pub, err := crypto.SigToPub(digest[:], sig)
	if err != nil {
		return xerrors.Wrap(CodeInvalidSignature, err, "intent signature does not match sender", xerrors.WithStage(StageVerify))
	}

	derived, err := neo.ScriptHashFromPubKey(crypto.CompressPubkey(pub))
	if err != nil {
		return xerrors.Wrap(CodeInvalidSignature, err, "intent signature does not match sender", xerrors.WithStage(StageVerify))
	}

	claimed, err := neo.ParseAccount(it.From)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid sender account", xerrors.WithStage(StageVerify))
	}

	if derived != claimed {
		return ErrInvalidSignature
	}
	return nil
}

// DecodeSignature 解析十六进制的 65 字节可恢复签名并归一化恢复位。
// 见证脚本直接携带归一化后的签名字节，两处必须使用同一套解码。
func DecodeSignature(s string) ([]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	sig, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("解析签名十六进制失败: %w", err)
	}
	if len(sig) != 65 {
		return nil, fmt.Errorf("可恢复签名应为 65 字节, 实际 %d", len(sig))
	}
	out := make([]byte, 65)
	copy(out, sig)
	// 兼容把恢复位编码成 27/28 的签名工具。
	if out[64] >= 27 {
		out[64] -= 27
	}
	return out, nil
}
