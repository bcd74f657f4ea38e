package relay

import (
	"context"

	xerrors "NeoGas-Relay/internal/errors"
)

// Status 表示一笔代付转账在台账中的状态。
type Status string

const (
	// StatusSent 表示交易已广播，等待确认。
	StatusSent Status = "sent"
	// StatusConfirmed 表示交易已在链上确认。
	StatusConfirmed Status = "confirmed"
	// StatusRejected 表示意向在校验阶段被拒绝。
	StatusRejected Status = "rejected"
	// StatusFailed 表示流水线在校验之后的阶段失败。
	StatusFailed Status = "failed"
	// StatusExpired 表示交易在确认窗口内始终未上链。
	StatusExpired Status = "expired"
)

// IsValidStatus 判断状态值是否合法。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusSent, StatusConfirmed, StatusRejected, StatusFailed, StatusExpired:
		return true
	default:
		return false
	}
}

// RelayRecord 是一次代付转账在台账中的落盘形态。记录以意向编号为主键，
// 同一意向的重复写入会覆盖旧值，因此被拒绝的意向修复后重新提交不会残留脏数据。
type RelayRecord struct {
	IntentID        string `json:"intent_id"`
	TxID            string `json:"txid,omitempty"`
	Sender          string `json:"sender"`
	Recipient       string `json:"recipient"`
	AssetHash       string `json:"asset_hash"`
	AssetSymbol     string `json:"asset_symbol,omitempty"`
	GrossAmount     int64  `json:"gross_amount"`
	NetAmount       int64  `json:"net_amount"`
	BurnAmount      int64  `json:"burn_amount"`
	SystemFee       int64  `json:"system_fee,omitempty"`
	NetworkFee      int64  `json:"network_fee,omitempty"`
	ValidUntilBlock uint32 `json:"valid_until_block,omitempty"`
	ConfirmedHeight uint32 `json:"confirmed_height,omitempty"`
	Status          Status `json:"status"`
	Stage           string `json:"stage,omitempty"`
	ErrorCode       string `json:"error_code,omitempty"`
	LastError       string `json:"last_error,omitempty"`
	CreatedAt       int64  `json:"created_at"`
	UpdatedAt       int64  `json:"updated_at"`
}

var (
	// ErrRecordNotFound 表示台账中不存在指定意向的记录。
	ErrRecordNotFound = xerrors.New(xerrors.CodeNotFound, "relay record not found")
)

// JournalStats 聚合了台账的统计信息，常用于仪表盘或健康检查。
type JournalStats struct {
	Total           int              `json:"total"`
	Sent            int              `json:"sent"`
	Confirmed       int              `json:"confirmed"`
	Rejected        int              `json:"rejected"`
	Failed          int              `json:"failed"`
	Expired         int              `json:"expired"`
	BurnedByAsset   map[string]int64 `json:"burned_by_asset,omitempty"`
	OldestUpdatedAt int64            `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64            `json:"newest_updated_at,omitempty"`
}

// Journal 抽象了中继台账的持久化接口。Confirmed 与 Expired 供确认轮询
// 回写终态使用，签名刻意不依赖本包类型。
type Journal interface {
	Record(ctx context.Context, rec *RelayRecord) error
	Get(ctx context.Context, intentID string) (*RelayRecord, error)
	Confirmed(ctx context.Context, intentID string, height uint32) error
	Expired(ctx context.Context, intentID string, reason string) error
	List(ctx context.Context, opts ListOptions) ([]*RelayRecord, error)
	Stats(ctx context.Context, opts ListOptions) (JournalStats, error)
	Close() error
}
