package intent

import (
	"context"
	"sync"
)

// Registry 记录已受理的意图编号。Claim 必须是原子操作，
// 并发提交同一编号时只允许一个成功，这是防重放的底线。
type Registry interface {
	// Claim 尝试占用一个意图编号，已被占用时返回 false。
	Claim(ctx context.Context, intentID string) (bool, error)
	// Release 释放占用，执行失败后允许用户重新提交同一意图。
	Release(ctx context.Context, intentID string) error
	Close() error
}

// MemoryRegistry 在进程内存中跟踪意图编号，适合单实例部署与测试。
type MemoryRegistry struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewMemoryRegistry 创建内存去重表。
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{seen: make(map[string]struct{})}
}

// Claim 尝试占用意图编号。
func (r *MemoryRegistry) Claim(_ context.Context, intentID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.seen[intentID]; exists {
		return false, nil
	}
	r.seen[intentID] = struct{}{}
	return true, nil
}

// Release 释放意图编号的占用。
func (r *MemoryRegistry) Release(_ context.Context, intentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.seen, intentID)
	return nil
}

// Close 实现 Registry 接口，内存实现无需清理。
func (r *MemoryRegistry) Close() error {
	return nil
}

var _ Registry = (*MemoryRegistry)(nil)
