package track

import "context"

// Store 定义确认记录的持久化接口。实现必须保证同一交易号只存在一条
// 记录，并在并发的 Claim 之间维持尝试次数的单调递增。
type Store interface {
	// Create 新增一条确认记录，交易号冲突时返回 ErrConfirmationConflict。
	Create(ctx context.Context, conf *Confirmation) error
	// Get 按记录编号取回确认记录，不存在时返回 ErrConfirmationNotFound。
	Get(ctx context.Context, id string) (*Confirmation, error)
	// GetByTxID 按交易号取回确认记录，不存在时返回 ErrConfirmationNotFound。
	GetByTxID(ctx context.Context, txID string) (*Confirmation, error)
	// Claim 以原子方式为一次轮询占用记录并递增尝试次数。记录已进入终态时
	// 返回 ErrConfirmationSettled，次数耗尽时连同当前记录返回
	// ErrConfirmationExhausted，便于调用方执行过期处理。
	Claim(ctx context.Context, id string) (*Confirmation, error)
	// MarkConfirmed 将记录置为已确认并写入上链高度。
	MarkConfirmed(ctx context.Context, id string, height uint32) error
	// MarkExpired 将记录置为过期并记录原因。
	MarkExpired(ctx context.Context, id string, reason string) error
	// RecordFailure 记录一次瞬时失败，保持 pending 状态等待下一轮。
	RecordFailure(ctx context.Context, id string, lastError string) error
	// List 按过滤条件返回确认记录。
	List(ctx context.Context, opts ListOptions) ([]*Confirmation, error)
	// Stats 统计满足过滤条件的确认记录。
	Stats(ctx context.Context, opts ListOptions) (Stats, error)
	// Close 释放底层资源。
	Close() error
}
