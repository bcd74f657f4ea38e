package intent

import (
	"encoding/json"
	"strings"

	xerrors "NeoGas-Relay/internal/errors"
)

// TransferIntent 是用户离线签署的转账意图，由中继代付网络费后提交上链。
// 创建后不可变，一个意图编号至多执行一次。
type TransferIntent struct {
	From        string `json:"from"`
	To          string `json:"to"`
	AssetHash   string `json:"asset_hash"`
	GrossAmount int64  `json:"gross_amount"`
	FeeInAsset  int64  `json:"fee_in_asset"`
	IntentID    string `json:"intent_id"`
	Signature   string `json:"user_signature"`
}

const (
	CodeInvalidSignature xerrors.Code = "INVALID_SIGNATURE"
	CodeDuplicateIntent  xerrors.Code = "DUPLICATE_INTENT"
)

var (
	// ErrInvalidSignature 表示意图签名与声称的发送方不符。
	ErrInvalidSignature = xerrors.New(CodeInvalidSignature, "intent signature does not match sender", xerrors.WithStage(StageVerify))
	// ErrDuplicateIntent 表示该意图编号已被受理过。
	ErrDuplicateIntent = xerrors.New(CodeDuplicateIntent, "intent already accepted", xerrors.WithStage(StageVerify), xerrors.WithSeverity(xerrors.SeverityWarning))
)

// StageVerify 是意图校验阶段的标识。
const StageVerify = "verify"

func init() {
	xerrors.Register(CodeInvalidSignature, xerrors.Attributes{
		Message:   "intent signature does not match sender",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeDuplicateIntent, xerrors.Attributes{
		Message:   "intent already accepted",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
}

// Validate 检查意图的静态字段，签名验证之前先挡掉明显残缺的请求。
func (it TransferIntent) Validate() error {
	if strings.TrimSpace(it.From) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "from address is required", xerrors.WithStage(StageVerify))
	}
	if strings.TrimSpace(it.To) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "to address is required", xerrors.WithStage(StageVerify))
	}
	if strings.TrimSpace(it.AssetHash) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "asset hash is required", xerrors.WithStage(StageVerify))
	}
	if strings.TrimSpace(it.IntentID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "intent id is required", xerrors.WithStage(StageVerify))
	}
	if strings.TrimSpace(it.Signature) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "user signature is required", xerrors.WithStage(StageVerify))
	}
	if it.GrossAmount <= 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "gross amount must be positive", xerrors.WithStage(StageVerify))
	}
	if it.FeeInAsset < 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "fee must not be negative", xerrors.WithStage(StageVerify))
	}
	return nil
}

// canonicalPayload 的字段声明顺序即签名载荷的键序，按字典序排列。
type canonicalPayload struct {
	FeeInAsset  int64  `json:"fee_in_asset"`
	From        string `json:"from"`
	GrossAmount int64  `json:"gross_amount"`
	IntentID    string `json:"intent_id"`
	To          string `json:"to"`
}

// CanonicalPayload 生成签名与验签双方约定的字节串：
// 键按字典序排列且不含多余空白，两侧必须逐字节一致。
func CanonicalPayload(it TransferIntent) ([]byte, error) {
	return json.Marshal(canonicalPayload{
		FeeInAsset:  it.FeeInAsset,
		From:        it.From,
		GrossAmount: it.GrossAmount,
		IntentID:    it.IntentID,
		To:          it.To,
	})
}
