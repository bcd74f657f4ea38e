package track

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	xerrors "NeoGas-Relay/internal/errors"
)

// MemoryStore 将确认记录保存在进程内存中，适合单机部署和测试。
// 记录一律以副本读写，调用方拿到的指针互不影响。
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Confirmation
	byTxID  map[string]string
}

// NewMemoryStore 创建空的内存确认存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Confirmation),
		byTxID:  make(map[string]string),
	}
}

// Create 实现 Store 接口。
func (s *MemoryStore) Create(ctx context.Context, conf *Confirmation) error {
	if conf == nil {
		return xerrors.New(CodeTrackValidation, "确认记录不能为空")
	}
	if strings.TrimSpace(conf.ID) == "" || strings.TrimSpace(conf.TxID) == "" {
		return xerrors.New(CodeTrackValidation, "确认记录缺少编号或交易号")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[conf.ID]; ok {
		return ErrConfirmationConflict
	}
	if _, ok := s.byTxID[conf.TxID]; ok {
		return ErrConfirmationConflict
	}

	stored := cloneConfirmation(conf)
	if stored.Status == "" {
		stored.Status = StatusPending
	}
	now := time.Now().Unix()
	if stored.CreatedAt == 0 {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	s.records[stored.ID] = stored
	s.byTxID[stored.TxID] = stored.ID
	return nil
}

// Get 实现 Store 接口。
func (s *MemoryStore) Get(ctx context.Context, id string) (*Confirmation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conf, ok := s.records[id]
	if !ok {
		return nil, ErrConfirmationNotFound
	}
	return cloneConfirmation(conf), nil
}

// GetByTxID 实现 Store 接口。
func (s *MemoryStore) GetByTxID(ctx context.Context, txID string) (*Confirmation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byTxID[txID]
	if !ok {
		return nil, ErrConfirmationNotFound
	}
	conf, ok := s.records[id]
	if !ok {
		return nil, ErrConfirmationNotFound
	}
	return cloneConfirmation(conf), nil
}

// Claim 实现 Store 接口。
func (s *MemoryStore) Claim(ctx context.Context, id string) (*Confirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conf, ok := s.records[id]
	if !ok {
		return nil, ErrConfirmationNotFound
	}
	if conf.Status == StatusConfirmed || conf.Status == StatusExpired {
		return cloneConfirmation(conf), ErrConfirmationSettled
	}
	if conf.MaxAttempts > 0 && conf.Attempts >= conf.MaxAttempts {
		return cloneConfirmation(conf), ErrConfirmationExhausted
	}

	conf.Attempts++
	conf.UpdatedAt = time.Now().Unix()
	return cloneConfirmation(conf), nil
}

// MarkConfirmed 实现 Store 接口。
func (s *MemoryStore) MarkConfirmed(ctx context.Context, id string, height uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conf, ok := s.records[id]
	if !ok {
		return ErrConfirmationNotFound
	}
	conf.Status = StatusConfirmed
	conf.Height = height
	conf.LastError = ""
	conf.UpdatedAt = time.Now().Unix()
	return nil
}

// MarkExpired 实现 Store 接口。
func (s *MemoryStore) MarkExpired(ctx context.Context, id string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conf, ok := s.records[id]
	if !ok {
		return ErrConfirmationNotFound
	}
	conf.Status = StatusExpired
	conf.LastError = reason
	conf.UpdatedAt = time.Now().Unix()
	return nil
}

// RecordFailure 实现 Store 接口。
func (s *MemoryStore) RecordFailure(ctx context.Context, id string, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conf, ok := s.records[id]
	if !ok {
		return ErrConfirmationNotFound
	}
	conf.LastError = lastError
	conf.UpdatedAt = time.Now().Unix()
	return nil
}

// List 实现 Store 接口。
func (s *MemoryStore) List(ctx context.Context, opts ListOptions) ([]*Confirmation, error) {
	opts.applyDefaults()

	s.mu.RLock()
	matched := make([]*Confirmation, 0, len(s.records))
	for _, conf := range s.records {
		if matchesFilter(conf, opts) {
			matched = append(matched, conf)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].UpdatedAt == matched[j].UpdatedAt {
			return matched[i].ID < matched[j].ID
		}
		if opts.Order == SortByUpdatedAsc {
			return matched[i].UpdatedAt < matched[j].UpdatedAt
		}
		return matched[i].UpdatedAt > matched[j].UpdatedAt
	})

	if opts.Offset >= len(matched) {
		return []*Confirmation{}, nil
	}
	matched = matched[opts.Offset:]
	if len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}

	result := make([]*Confirmation, 0, len(matched))
	for _, conf := range matched {
		result = append(result, cloneConfirmation(conf))
	}
	return result, nil
}

// Stats 实现 Store 接口。
func (s *MemoryStore) Stats(ctx context.Context, opts ListOptions) (Stats, error) {
	opts.applyDefaults()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats Stats
	for _, conf := range s.records {
		if !matchesFilter(conf, opts) {
			continue
		}
		stats.Total++
		switch conf.Status {
		case StatusPending:
			stats.Pending++
		case StatusConfirmed:
			stats.Confirmed++
		case StatusExpired:
			stats.Expired++
		}
		if stats.OldestUpdatedAt == 0 || conf.UpdatedAt < stats.OldestUpdatedAt {
			stats.OldestUpdatedAt = conf.UpdatedAt
		}
		if conf.UpdatedAt > stats.NewestUpdatedAt {
			stats.NewestUpdatedAt = conf.UpdatedAt
		}
	}
	return stats, nil
}

// Close 实现 Store 接口。内存存储没有需要释放的资源。
func (s *MemoryStore) Close() error {
	return nil
}

func matchesFilter(conf *Confirmation, opts ListOptions) bool {
	if len(opts.Statuses) > 0 {
		found := false
		for _, status := range opts.Statuses {
			if conf.Status == status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if opts.IntentID != "" && conf.IntentID != opts.IntentID {
		return false
	}
	if opts.TxID != "" && conf.TxID != opts.TxID {
		return false
	}
	if opts.UpdatedGTE > 0 && conf.UpdatedAt < opts.UpdatedGTE {
		return false
	}
	if opts.UpdatedLTE > 0 && conf.UpdatedAt > opts.UpdatedLTE {
		return false
	}
	return true
}

var _ Store = (*MemoryStore)(nil)
