package track

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	xerrors "NeoGas-Relay/internal/errors"
	"github.com/go-sql-driver/mysql"
)

// MySQLStore 使用 MySQL 记录确认轮询状态，多副本部署时依赖
// 条件更新保证同一记录的尝试次数不会重复递增。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 创建一个新的 MySQLStore。
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store := &MySQLStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *MySQLStore) initSchema() error {
	const schema = `CREATE TABLE IF NOT EXISTS confirmations (
        id VARCHAR(64) PRIMARY KEY,
        txid VARCHAR(80) NOT NULL,
        intent_id VARCHAR(64) DEFAULT '',
        status VARCHAR(16) NOT NULL,
        attempts INT NOT NULL DEFAULT 0,
        max_attempts INT NOT NULL DEFAULT 40,
        height INT UNSIGNED NOT NULL DEFAULT 0,
        last_error TEXT,
        created_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        UNIQUE KEY uq_confirmations_txid (txid),
        INDEX idx_confirmations_status (status),
        INDEX idx_confirmations_updated (updated_at)
)`

	if _, err := s.db.Exec(schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 confirmations 表失败")
	}
	if _, err := s.db.Exec(`ALTER TABLE confirmations ADD COLUMN intent_id VARCHAR(64) DEFAULT '' AFTER txid`); err != nil {
		var mysqlErr *mysql.MySQLError
		if !(stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1060) {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "扩展 confirmations.intent_id 失败")
		}
	}
	return nil
}

const confirmationColumns = `id, txid, intent_id, status, attempts, max_attempts, height, last_error, created_at, updated_at`

// Create 插入新的确认记录。
func (s *MySQLStore) Create(ctx context.Context, conf *Confirmation) error {
	if conf == nil {
		return xerrors.New(CodeTrackValidation, "确认记录不能为空")
	}
	if strings.TrimSpace(conf.ID) == "" || strings.TrimSpace(conf.TxID) == "" {
		return xerrors.New(CodeTrackValidation, "确认记录缺少编号或交易号")
	}
	if conf.Status == "" {
		conf.Status = StatusPending
	}

	now := time.Now().Unix()
	if conf.CreatedAt == 0 {
		conf.CreatedAt = now
	}
	conf.UpdatedAt = now

	const stmt = `INSERT INTO confirmations
        (id, txid, intent_id, status, attempts, max_attempts, height, last_error, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, 0, '', ?, ?)`

	_, err := s.db.ExecContext(ctx, stmt,
		conf.ID,
		conf.TxID,
		conf.IntentID,
		conf.Status,
		conf.Attempts,
		conf.MaxAttempts,
		conf.CreatedAt,
		conf.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrConfirmationConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入确认记录失败")
	}
	return nil
}

// Get 按记录编号查询确认记录。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Confirmation, error) {
	return s.queryConfirmation(ctx, `SELECT `+confirmationColumns+` FROM confirmations WHERE id = ?`, id)
}

// GetByTxID 按交易号查询确认记录。
func (s *MySQLStore) GetByTxID(ctx context.Context, txID string) (*Confirmation, error) {
	return s.queryConfirmation(ctx, `SELECT `+confirmationColumns+` FROM confirmations WHERE txid = ?`, txID)
}

func (s *MySQLStore) queryConfirmation(ctx context.Context, stmt string, arg any) (*Confirmation, error) {
	row := s.db.QueryRowContext(ctx, stmt, arg)

	var conf Confirmation
	if err := row.Scan(
		&conf.ID,
		&conf.TxID,
		&conf.IntentID,
		&conf.Status,
		&conf.Attempts,
		&conf.MaxAttempts,
		&conf.Height,
		&conf.LastError,
		&conf.CreatedAt,
		&conf.UpdatedAt,
	); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrConfirmationNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询确认记录失败")
	}
	return &conf, nil
}

// Claim 以条件更新占用记录并递增尝试次数，返回最新状态。
func (s *MySQLStore) Claim(ctx context.Context, id string) (*Confirmation, error) {
	const updateStmt = `UPDATE confirmations SET attempts = attempts + 1, updated_at = ?
        WHERE id = ? AND status = ? AND attempts < max_attempts`

	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, updateStmt, now, id, StatusPending)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新确认记录失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	if affected == 0 {
		conf, getErr := s.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		switch conf.Status {
		case StatusConfirmed, StatusExpired:
			return conf, ErrConfirmationSettled
		default:
			if conf.MaxAttempts > 0 && conf.Attempts >= conf.MaxAttempts {
				return conf, ErrConfirmationExhausted
			}
			return conf, ErrConfirmationConflict
		}
	}
	return s.Get(ctx, id)
}

// MarkConfirmed 将记录置为已确认并写入上链高度。
func (s *MySQLStore) MarkConfirmed(ctx context.Context, id string, height uint32) error {
	const stmt = `UPDATE confirmations SET status = ?, height = ?, last_error = '', updated_at = ? WHERE id = ?`

	res, err := s.db.ExecContext(ctx, stmt, StatusConfirmed, height, time.Now().Unix(), id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记确认完成失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrConfirmationNotFound
	}
	return nil
}

// MarkExpired 将记录置为过期并记录原因。
func (s *MySQLStore) MarkExpired(ctx context.Context, id string, reason string) error {
	const stmt = `UPDATE confirmations SET status = ?, last_error = ?, updated_at = ? WHERE id = ?`

	res, err := s.db.ExecContext(ctx, stmt, StatusExpired, reason, time.Now().Unix(), id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记确认过期失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrConfirmationNotFound
	}
	return nil
}

// RecordFailure 记录一次瞬时失败，状态保持不变。
func (s *MySQLStore) RecordFailure(ctx context.Context, id string, lastError string) error {
	const stmt = `UPDATE confirmations SET last_error = ?, updated_at = ? WHERE id = ?`

	res, err := s.db.ExecContext(ctx, stmt, lastError, time.Now().Unix(), id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "记录确认失败原因失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrConfirmationNotFound
	}
	return nil
}

// List 返回符合过滤条件的确认记录。
func (s *MySQLStore) List(ctx context.Context, opts ListOptions) ([]*Confirmation, error) {
	opts.applyDefaults()

	query := `SELECT ` + confirmationColumns + ` FROM confirmations`

	clause, filterArgs := buildConfirmationFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}

	order := " ORDER BY updated_at DESC, id ASC"
	if opts.Order == SortByUpdatedAsc {
		order = " ORDER BY updated_at ASC, id ASC"
	}
	query += order + " LIMIT ? OFFSET ?"

	args := append(filterArgs, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询确认列表失败")
	}
	defer rows.Close()

	confs := make([]*Confirmation, 0, opts.Limit)
	for rows.Next() {
		var conf Confirmation
		if err := rows.Scan(
			&conf.ID,
			&conf.TxID,
			&conf.IntentID,
			&conf.Status,
			&conf.Attempts,
			&conf.MaxAttempts,
			&conf.Height,
			&conf.LastError,
			&conf.CreatedAt,
			&conf.UpdatedAt,
		); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析确认记录失败")
		}
		confCopy := conf
		confs = append(confs, &confCopy)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历确认记录失败")
	}
	return confs, nil
}

// Stats 返回符合过滤条件的确认聚合信息。
func (s *MySQLStore) Stats(ctx context.Context, opts ListOptions) (Stats, error) {
	opts.applyDefaults()

	query := `SELECT
        COUNT(*) AS total,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS pending,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS confirmed,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS expired,
        COALESCE(MIN(updated_at), 0) AS oldest,
        COALESCE(MAX(updated_at), 0) AS newest
        FROM confirmations`

	clause, filterArgs := buildConfirmationFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}

	args := []any{string(StatusPending), string(StatusConfirmed), string(StatusExpired)}
	args = append(args, filterArgs...)

	row := s.db.QueryRowContext(ctx, query, args...)

	var stats Stats
	// 空表时 SUM 返回 NULL，用 NullInt64 兜底。
	var pending, confirmed, expired sql.NullInt64
	if err := row.Scan(
		&stats.Total,
		&pending,
		&confirmed,
		&expired,
		&stats.OldestUpdatedAt,
		&stats.NewestUpdatedAt,
	); err != nil {
		return Stats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询确认统计失败")
	}
	stats.Pending = int(pending.Int64)
	stats.Confirmed = int(confirmed.Int64)
	stats.Expired = int(expired.Int64)
	return stats, nil
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func buildConfirmationFilterClause(opts ListOptions) (string, []any) {
	conditions := make([]string, 0, 5)
	args := make([]any, 0, 7)

	if len(opts.Statuses) > 0 {
		placeholders := make([]string, 0, len(opts.Statuses))
		for range opts.Statuses {
			placeholders = append(placeholders, "?")
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
		for _, status := range opts.Statuses {
			args = append(args, string(status))
		}
	}
	if opts.IntentID != "" {
		conditions = append(conditions, "intent_id = ?")
		args = append(args, opts.IntentID)
	}
	if opts.TxID != "" {
		conditions = append(conditions, "txid = ?")
		args = append(args, opts.TxID)
	}
	if opts.UpdatedGTE > 0 {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, opts.UpdatedGTE)
	}
	if opts.UpdatedLTE > 0 {
		conditions = append(conditions, "updated_at <= ?")
		args = append(args, opts.UpdatedLTE)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return strings.Join(conditions, " AND "), args
}

var _ Store = (*MySQLStore)(nil)
