package relay

import (
	"context"
	"sort"
	"sync"
	"time"

	xerrors "NeoGas-Relay/internal/errors"
)

// MemoryJournal 以内存方式保存中继台账，主要用于测试。
type MemoryJournal struct {
	mu      sync.RWMutex
	records map[string]*RelayRecord
}

// NewMemoryJournal 创建 MemoryJournal。
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{records: make(map[string]*RelayRecord)}
}

// Record 以意向编号为主键写入记录，已存在时覆盖旧值并保留创建时间。
func (m *MemoryJournal) Record(_ context.Context, rec *RelayRecord) error {
	if rec == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "记录不能为空")
	}
	if rec.IntentID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "意向编号不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().Unix()
	clone := *rec
	if existing, ok := m.records[rec.IntentID]; ok {
		clone.CreatedAt = existing.CreatedAt
	} else if clone.CreatedAt == 0 {
		clone.CreatedAt = now
	}
	clone.UpdatedAt = now
	m.records[rec.IntentID] = &clone
	return nil
}

// Get 返回指定意向的记录。
func (m *MemoryJournal) Get(_ context.Context, intentID string) (*RelayRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[intentID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	clone := *rec
	return &clone, nil
}

// Confirmed 将已广播的记录标记为链上确认。
func (m *MemoryJournal) Confirmed(_ context.Context, intentID string, height uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[intentID]
	if !ok {
		return ErrRecordNotFound
	}
	rec.Status = StatusConfirmed
	rec.ConfirmedHeight = height
	rec.UpdatedAt = time.Now().Unix()
	return nil
}

// Expired 将已广播的记录标记为确认超时。
func (m *MemoryJournal) Expired(_ context.Context, intentID string, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[intentID]
	if !ok {
		return ErrRecordNotFound
	}
	rec.Status = StatusExpired
	rec.LastError = reason
	rec.UpdatedAt = time.Now().Unix()
	return nil
}

// List 返回符合过滤条件的记录。
func (m *MemoryJournal) List(_ context.Context, opts ListOptions) ([]*RelayRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.ApplyDefaults()

	results := make([]*RelayRecord, 0, len(m.records))
	for _, rec := range m.records {
		if !matchesListFilters(rec, opts) {
			continue
		}
		clone := *rec
		results = append(results, &clone)
	}

	sort.Slice(results, func(i, j int) bool {
		if opts.Order == SortByUpdatedAsc {
			if results[i].UpdatedAt == results[j].UpdatedAt {
				return results[i].IntentID < results[j].IntentID
			}
			return results[i].UpdatedAt < results[j].UpdatedAt
		}
		if results[i].UpdatedAt == results[j].UpdatedAt {
			return results[i].IntentID < results[j].IntentID
		}
		return results[i].UpdatedAt > results[j].UpdatedAt
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(results) {
			return []*RelayRecord{}, nil
		}
		results = results[opts.Offset:]
	}
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// Stats 统计符合过滤条件的记录数量、燃烧量与更新时间范围。
func (m *MemoryJournal) Stats(_ context.Context, opts ListOptions) (JournalStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.ApplyDefaults()

	stats := JournalStats{}
	for _, rec := range m.records {
		if !matchesListFilters(rec, opts) {
			continue
		}
		stats.Total++
		switch rec.Status {
		case StatusSent:
			stats.Sent++
		case StatusConfirmed:
			stats.Confirmed++
		case StatusRejected:
			stats.Rejected++
		case StatusFailed:
			stats.Failed++
		case StatusExpired:
			stats.Expired++
		}
		if rec.Status == StatusSent || rec.Status == StatusConfirmed {
			if stats.BurnedByAsset == nil {
				stats.BurnedByAsset = make(map[string]int64)
			}
			stats.BurnedByAsset[burnKey(rec)] += rec.BurnAmount
		}
		if rec.UpdatedAt > stats.NewestUpdatedAt {
			stats.NewestUpdatedAt = rec.UpdatedAt
		}
		if stats.OldestUpdatedAt == 0 || (rec.UpdatedAt != 0 && rec.UpdatedAt < stats.OldestUpdatedAt) {
			stats.OldestUpdatedAt = rec.UpdatedAt
		}
	}
	if stats.Total == 0 {
		stats.OldestUpdatedAt = 0
		stats.NewestUpdatedAt = 0
	}
	return stats, nil
}

// Close 对内存台账无需操作。
func (m *MemoryJournal) Close() error {
	return nil
}

func matchesListFilters(rec *RelayRecord, opts ListOptions) bool {
	if len(opts.Statuses) > 0 {
		matched := false
		for _, status := range opts.Statuses {
			if rec.Status == status {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if opts.Sender != "" && rec.Sender != opts.Sender {
		return false
	}
	if opts.Asset != "" && rec.AssetSymbol != opts.Asset && rec.AssetHash != opts.Asset {
		return false
	}
	if opts.UpdatedGTE > 0 && rec.UpdatedAt < opts.UpdatedGTE {
		return false
	}
	if opts.UpdatedLTE > 0 && rec.UpdatedAt > opts.UpdatedLTE {
		return false
	}
	return true
}

func burnKey(rec *RelayRecord) string {
	if rec.AssetSymbol != "" {
		return rec.AssetSymbol
	}
	return rec.AssetHash
}

var _ Journal = (*MemoryJournal)(nil)
