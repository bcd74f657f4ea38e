package relay

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	xerrors "NeoGas-Relay/internal/errors"
)

// FileJournal 在 MemoryJournal 之上追加一份 JSON 行日志，重启时整盘回放，
// 适合没有 MySQL 的单机部署。同一意向的多行以最后一行为准，发现重复或
// 损坏的行时会在回放后压缩日志文件。
type FileJournal struct {
	mu       sync.Mutex
	dataFile string
	mem      *MemoryJournal
}

// NewFileJournal 创建 FileJournal 并回放既有日志。
func NewFileJournal(dataDir string) (*FileJournal, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建数据目录失败")
	}
	journal := &FileJournal{
		dataFile: filepath.Join(dataDir, "journal.log"),
		mem:      NewMemoryJournal(),
	}
	if err := journal.loadFromDisk(); err != nil {
		return nil, err
	}
	return journal, nil
}

// Record 先写入内存台账，再把落盘形态追加到日志。
func (f *FileJournal) Record(ctx context.Context, rec *RelayRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.mem.Record(ctx, rec); err != nil {
		return err
	}
	stored, err := f.mem.Get(ctx, rec.IntentID)
	if err != nil {
		return err
	}
	return f.appendRecord(stored)
}

// Get 返回指定意向的记录。
func (f *FileJournal) Get(ctx context.Context, intentID string) (*RelayRecord, error) {
	return f.mem.Get(ctx, intentID)
}

// Confirmed 将记录标记为链上确认并追加日志。
func (f *FileJournal) Confirmed(ctx context.Context, intentID string, height uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.mem.Confirmed(ctx, intentID, height); err != nil {
		return err
	}
	stored, err := f.mem.Get(ctx, intentID)
	if err != nil {
		return err
	}
	return f.appendRecord(stored)
}

// Expired 将记录标记为确认超时并追加日志。
func (f *FileJournal) Expired(ctx context.Context, intentID string, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.mem.Expired(ctx, intentID, reason); err != nil {
		return err
	}
	stored, err := f.mem.Get(ctx, intentID)
	if err != nil {
		return err
	}
	return f.appendRecord(stored)
}

// List 返回符合过滤条件的记录。
func (f *FileJournal) List(ctx context.Context, opts ListOptions) ([]*RelayRecord, error) {
	return f.mem.List(ctx, opts)
}

// Stats 统计符合过滤条件的记录。
func (f *FileJournal) Stats(ctx context.Context, opts ListOptions) (JournalStats, error) {
	return f.mem.Stats(ctx, opts)
}

// Close 实现 Journal 接口。日志文件按次打开，这里没有需要释放的资源。
func (f *FileJournal) Close() error {
	return nil
}

func (f *FileJournal) appendRecord(rec *RelayRecord) error {
	file, err := os.OpenFile(f.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开台账日志失败")
	}
	defer file.Close()

	encoded, err := json.Marshal(rec)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化台账记录失败")
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入台账日志失败")
	}
	return nil
}

func (f *FileJournal) loadFromDisk() error {
	file, err := os.OpenFile(f.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取台账日志失败")
	}
	defer file.Close()

	restored := make(map[string]*RelayRecord)
	lines := 0
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		lines++
		var rec RelayRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		if rec.IntentID == "" {
			continue
		}
		clone := rec
		restored[rec.IntentID] = &clone
	}
	if err := scanner.Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析台账日志失败")
	}

	f.mem.mu.Lock()
	f.mem.records = restored
	f.mem.mu.Unlock()

	if lines > len(restored) {
		return f.compact()
	}
	return nil
}

// compact 把当前内存状态重写为每个意向一行的新日志。
func (f *FileJournal) compact() error {
	f.mem.mu.RLock()
	records := make([]*RelayRecord, 0, len(f.mem.records))
	for _, rec := range f.mem.records {
		clone := *rec
		records = append(records, &clone)
	}
	f.mem.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		if records[i].UpdatedAt == records[j].UpdatedAt {
			return records[i].IntentID < records[j].IntentID
		}
		return records[i].UpdatedAt < records[j].UpdatedAt
	})

	tmp, err := os.CreateTemp(filepath.Dir(f.dataFile), "journal-*.log")
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建压缩日志失败")
	}
	for _, rec := range records {
		encoded, err := json.Marshal(rec)
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化台账记录失败")
		}
		if _, err := tmp.Write(append(encoded, '\n')); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入压缩日志失败")
		}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "关闭压缩日志失败")
	}
	if err := os.Rename(tmp.Name(), f.dataFile); err != nil {
		os.Remove(tmp.Name())
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "替换台账日志失败")
	}
	return nil
}

var _ Journal = (*FileJournal)(nil)
