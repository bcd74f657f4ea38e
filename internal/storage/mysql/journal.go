package mysql

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	xerrors "NeoGas-Relay/internal/errors"
	"NeoGas-Relay/internal/relay"
)

// RelayJournal 将中继台账持久化到 MySQL，重启后的查询、统计与
// 确认轮询恢复都依赖它。
type RelayJournal struct {
	db *sql.DB
}

// NewRelayJournal 建立连接池并应用数据库迁移。
func NewRelayJournal(ctx context.Context, cfg Config) (*RelayJournal, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化台账存储失败")
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "应用台账迁移失败")
	}
	return &RelayJournal{db: db}, nil
}

const journalColumns = `intent_id, txid, sender, recipient, asset_hash, asset_symbol,
        gross_amount, net_amount, burn_amount, system_fee, network_fee,
        valid_until_block, confirmed_height, status, stage, error_code, last_error,
        created_at, updated_at`

// Record 以意向编号为主键写入记录。重复写入覆盖旧值但保留创建时间，
// 与内存台账的语义一致。
func (j *RelayJournal) Record(ctx context.Context, rec *relay.RelayRecord) error {
	if rec == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "记录不能为空")
	}
	if rec.IntentID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "意向编号不能为空")
	}

	now := time.Now().Unix()
	createdAt := rec.CreatedAt
	if createdAt == 0 {
		createdAt = now
	}

	const stmt = `INSERT INTO relay_records
        (intent_id, txid, sender, recipient, asset_hash, asset_symbol,
        gross_amount, net_amount, burn_amount, system_fee, network_fee,
        valid_until_block, confirmed_height, status, stage, error_code, last_error,
        created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE
        txid = VALUES(txid), sender = VALUES(sender), recipient = VALUES(recipient),
        asset_hash = VALUES(asset_hash), asset_symbol = VALUES(asset_symbol),
        gross_amount = VALUES(gross_amount), net_amount = VALUES(net_amount),
        burn_amount = VALUES(burn_amount), system_fee = VALUES(system_fee),
        network_fee = VALUES(network_fee), valid_until_block = VALUES(valid_until_block),
        confirmed_height = VALUES(confirmed_height), status = VALUES(status),
        stage = VALUES(stage), error_code = VALUES(error_code),
        last_error = VALUES(last_error), updated_at = VALUES(updated_at)`

	if _, err := j.db.ExecContext(ctx, stmt,
		rec.IntentID,
		rec.TxID,
		rec.Sender,
		rec.Recipient,
		rec.AssetHash,
		rec.AssetSymbol,
		rec.GrossAmount,
		rec.NetAmount,
		rec.BurnAmount,
		rec.SystemFee,
		rec.NetworkFee,
		rec.ValidUntilBlock,
		rec.ConfirmedHeight,
		string(rec.Status),
		rec.Stage,
		rec.ErrorCode,
		rec.LastError,
		createdAt,
		now,
	); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入台账记录失败")
	}
	return nil
}

// Get 返回指定意向的记录。
func (j *RelayJournal) Get(ctx context.Context, intentID string) (*relay.RelayRecord, error) {
	query := `SELECT ` + journalColumns + ` FROM relay_records WHERE intent_id = ?`

	row := j.db.QueryRowContext(ctx, query, intentID)
	rec, err := scanRelayRecord(row.Scan)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, relay.ErrRecordNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询台账记录失败")
	}
	return rec, nil
}

// Confirmed 将记录标记为链上确认。
func (j *RelayJournal) Confirmed(ctx context.Context, intentID string, height uint32) error {
	const stmt = `UPDATE relay_records SET status = ?, confirmed_height = ?, updated_at = ? WHERE intent_id = ?`

	res, err := j.db.ExecContext(ctx, stmt, string(relay.StatusConfirmed), height, time.Now().Unix(), intentID)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记确认失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return relay.ErrRecordNotFound
	}
	return nil
}

// Expired 将记录标记为确认超时。
func (j *RelayJournal) Expired(ctx context.Context, intentID string, reason string) error {
	const stmt = `UPDATE relay_records SET status = ?, last_error = ?, updated_at = ? WHERE intent_id = ?`

	res, err := j.db.ExecContext(ctx, stmt, string(relay.StatusExpired), reason, time.Now().Unix(), intentID)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记超时失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return relay.ErrRecordNotFound
	}
	return nil
}

// List 返回符合过滤条件的记录。
func (j *RelayJournal) List(ctx context.Context, opts relay.ListOptions) ([]*relay.RelayRecord, error) {
	opts.ApplyDefaults()

	query := `SELECT ` + journalColumns + ` FROM relay_records`
	clause, filterArgs := buildJournalFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}

	order := " ORDER BY updated_at DESC, intent_id ASC"
	if opts.Order == relay.SortByUpdatedAsc {
		order = " ORDER BY updated_at ASC, intent_id ASC"
	}
	query += order + " LIMIT ? OFFSET ?"

	args := append(filterArgs, opts.Limit, opts.Offset)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询台账列表失败")
	}
	defer rows.Close()

	records := make([]*relay.RelayRecord, 0, opts.Limit)
	for rows.Next() {
		rec, err := scanRelayRecord(rows.Scan)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析台账记录失败")
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历台账记录失败")
	}
	return records, nil
}

// Stats 返回符合过滤条件的聚合统计，燃烧量只计入已广播与已确认的记录。
func (j *RelayJournal) Stats(ctx context.Context, opts relay.ListOptions) (relay.JournalStats, error) {
	opts.ApplyDefaults()

	query := `SELECT
        COUNT(*) AS total,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS sent,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS confirmed,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS rejected,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS failed,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS expired,
        COALESCE(MIN(updated_at), 0) AS oldest,
        COALESCE(MAX(updated_at), 0) AS newest
        FROM relay_records`

	clause, filterArgs := buildJournalFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}

	args := []any{
		string(relay.StatusSent),
		string(relay.StatusConfirmed),
		string(relay.StatusRejected),
		string(relay.StatusFailed),
		string(relay.StatusExpired),
	}
	args = append(args, filterArgs...)

	row := j.db.QueryRowContext(ctx, query, args...)

	var stats relay.JournalStats
	// 空表时 SUM 返回 NULL，用 NullInt64 兜底。
	var sent, confirmed, rejected, failed, expired sql.NullInt64
	if err := row.Scan(
		&stats.Total,
		&sent,
		&confirmed,
		&rejected,
		&failed,
		&expired,
		&stats.OldestUpdatedAt,
		&stats.NewestUpdatedAt,
	); err != nil {
		return relay.JournalStats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询台账统计失败")
	}
	stats.Sent = int(sent.Int64)
	stats.Confirmed = int(confirmed.Int64)
	stats.Rejected = int(rejected.Int64)
	stats.Failed = int(failed.Int64)
	stats.Expired = int(expired.Int64)
	if stats.Total == 0 {
		return stats, nil
	}

	burned, err := j.burnedByAsset(ctx, opts)
	if err != nil {
		return relay.JournalStats{}, err
	}
	stats.BurnedByAsset = burned
	return stats, nil
}

func (j *RelayJournal) burnedByAsset(ctx context.Context, opts relay.ListOptions) (map[string]int64, error) {
	query := `SELECT
        CASE WHEN asset_symbol <> '' THEN asset_symbol ELSE asset_hash END AS asset,
        COALESCE(SUM(burn_amount), 0) AS burned
        FROM relay_records WHERE status IN (?, ?)`

	args := []any{string(relay.StatusSent), string(relay.StatusConfirmed)}
	clause, filterArgs := buildJournalFilterClause(opts)
	if clause != "" {
		query += " AND " + clause
		args = append(args, filterArgs...)
	}
	query += " GROUP BY asset"

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询燃烧统计失败")
	}
	defer rows.Close()

	var burned map[string]int64
	for rows.Next() {
		var asset string
		var amount int64
		if err := rows.Scan(&asset, &amount); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析燃烧统计失败")
		}
		if burned == nil {
			burned = make(map[string]int64)
		}
		burned[asset] = amount
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历燃烧统计失败")
	}
	return burned, nil
}

// Close 关闭底层数据库连接。
func (j *RelayJournal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

func scanRelayRecord(scan func(dest ...any) error) (*relay.RelayRecord, error) {
	var rec relay.RelayRecord
	var status string
	if err := scan(
		&rec.IntentID,
		&rec.TxID,
		&rec.Sender,
		&rec.Recipient,
		&rec.AssetHash,
		&rec.AssetSymbol,
		&rec.GrossAmount,
		&rec.NetAmount,
		&rec.BurnAmount,
		&rec.SystemFee,
		&rec.NetworkFee,
		&rec.ValidUntilBlock,
		&rec.ConfirmedHeight,
		&status,
		&rec.Stage,
		&rec.ErrorCode,
		&rec.LastError,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return nil, err
	}
	rec.Status = relay.Status(status)
	return &rec, nil
}

func buildJournalFilterClause(opts relay.ListOptions) (string, []any) {
	conditions := make([]string, 0, 4)
	args := make([]any, 0, 6)

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
	if opts.Sender != "" {
		conditions = append(conditions, "sender = ?")
		args = append(args, opts.Sender)
	}
	if opts.Asset != "" {
		conditions = append(conditions, "(asset_symbol = ? OR asset_hash = ?)")
		args = append(args, opts.Asset, opts.Asset)
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

var _ relay.Journal = (*RelayJournal)(nil)
