package track

import (
	xerrors "NeoGas-Relay/internal/errors"
)

// Status 表示确认轮询在生命周期中的状态。
type Status string

const (
	// StatusPending 表示交易仍在等待上链。
	StatusPending Status = "pending"
	// StatusConfirmed 表示交易已达到要求的确认深度。
	StatusConfirmed Status = "confirmed"
	// StatusExpired 表示轮询次数耗尽时交易仍未上链。
	StatusExpired Status = "expired"
)

// StageConfirm 是确认环节在错误与告警中的阶段标识。
const StageConfirm = "confirm"

// Confirmation 描述一笔已广播交易的确认轮询进度。记录以自身编号为主键，
// 交易号上有唯一约束，同一交易重复登记会复用已有记录。
type Confirmation struct {
	ID          string `json:"id"`
	TxID        string `json:"txid"`
	IntentID    string `json:"intent_id,omitempty"`
	Status      Status `json:"status"`
	Attempts    int    `json:"attempts"`
	MaxAttempts int    `json:"max_attempts"`
	Height      uint32 `json:"height,omitempty"`
	LastError   string `json:"last_error,omitempty"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

var (
	// ErrConfirmationNotFound 表示指定的确认记录不存在。
	ErrConfirmationNotFound = xerrors.New(CodeTrackNotFound, "confirmation not found")
	// ErrConfirmationConflict 表示确认记录在当前状态下无法进行所请求的操作。
	ErrConfirmationConflict = xerrors.New(CodeTrackConflict, "confirmation conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrConfirmationSettled 表示确认记录已经进入终态。
	ErrConfirmationSettled = xerrors.New(CodeTrackSettled, "confirmation already settled", xerrors.WithSeverity(xerrors.SeverityInfo))
	// ErrConfirmationExhausted 表示轮询次数已经耗尽。
	ErrConfirmationExhausted = xerrors.New(CodeTrackExhausted, "confirmation attempts exhausted", xerrors.WithSeverity(xerrors.SeverityWarning))
)

const (
	CodeTrackNotFound   xerrors.Code = "TRACK_NOT_FOUND"
	CodeTrackConflict   xerrors.Code = "TRACK_CONFLICT"
	CodeTrackSettled    xerrors.Code = "TRACK_SETTLED"
	CodeTrackExhausted  xerrors.Code = "TRACK_ATTEMPTS_EXHAUSTED"
	CodeTrackValidation xerrors.Code = "TRACK_VALIDATION_FAILED"
	CodeTrackPublish    xerrors.Code = "TRACK_PUBLISH_FAILED"
)

func init() {
	xerrors.Register(CodeTrackNotFound, xerrors.Attributes{
		Message:   "confirmation not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeTrackConflict, xerrors.Attributes{
		Message:   "confirmation conflict",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeTrackSettled, xerrors.Attributes{
		Message:   "confirmation already settled",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeTrackExhausted, xerrors.Attributes{
		Message:   "transaction confirmation window elapsed",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeTrackValidation, xerrors.Attributes{
		Message:   "confirmation request invalid",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeTrackPublish, xerrors.Attributes{
		Message:   "failed to enqueue confirmation",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
}

// IsValidStatus 检查给定的确认状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusConfirmed, StatusExpired:
		return true
	default:
		return false
	}
}

func cloneConfirmation(conf *Confirmation) *Confirmation {
	clone := *conf
	return &clone
}
