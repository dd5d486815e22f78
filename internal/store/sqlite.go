// 包 store 提供本地记录存储（SQLite），包含表迁移、存在性查询、写入、运行记录与清理。
// 实现 sink.Sink，可作为 type: sqlite 的写入目标。
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"fetch-process/internal/sink"
)

// SQLite 封装 *sql.DB，基于 modernc.org/sqlite（纯 Go 实现）。
type SQLite struct {
	db  *sql.DB
	key string
}

// RunRow 为一次任务运行的记录。
type RunRow struct {
	ID         string
	Task       string
	StartedAt  time.Time
	FinishedAt time.Time
	Written    int
}

// StoredRecord 为读取出的记录。
type StoredRecord struct {
	ItemID    string
	Fields    sink.Record
	CreatedAt time.Time
}

// OpenSQLite 打开 SQLite 数据库并执行自动迁移；keyColumn 为记录主键列名。
func OpenSQLite(path, keyColumn string) (*SQLite, error) {
	// 说明：modernc sqlite 的 DSN 可直接使用文件路径，或以 'file:...' 前缀表示
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if keyColumn == "" {
		keyColumn = sink.FieldNoteID
	}
	s := &SQLite{db: db, key: keyColumn}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

// Reset 清空业务数据表（不删除数据库文件）。
func (s *SQLite) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM records`); err != nil {
		return fmt.Errorf("delete records: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sync_runs`); err != nil {
		return fmt.Errorf("delete sync_runs: %w", err)
	}
	return nil
}

// migrate 执行建表语句，保持幂等。
func (s *SQLite) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS records (
            item_id TEXT PRIMARY KEY COLLATE NOCASE,
            fields TEXT NOT NULL,
            created_at TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS sync_runs (
            id TEXT PRIMARY KEY,
            task TEXT,
            started_at TIMESTAMP,
            finished_at TIMESTAMP,
            written INTEGER DEFAULT 0
        );`,
	}
	for _, q := range stmts {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("exec migrate: %w", err)
		}
	}
	return nil
}

// BatchExists 一次查询返回已存在的 id（小写归一化）。
func (s *SQLite) BatchExists(ctx context.Context, ids []string) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		if n := sink.NormalizeID(id); n != "" {
			args = append(args, n)
		}
	}
	if len(args) == 0 {
		return out, nil
	}
	q := `SELECT item_id FROM records WHERE item_id IN (?` + strings.Repeat(",?", len(args)-1) + `)`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan records: %w", err)
		}
		out[sink.NormalizeID(id)] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

// Write 插入或更新记录（item_id 唯一约束，大小写不敏感）。
func (s *SQLite) Write(ctx context.Context, rec sink.Record) error {
	id := strings.TrimSpace(rec.Text(s.key))
	if id == "" {
		return errors.New("record key required")
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", id, err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO records(item_id, fields, created_at)
        VALUES(?,?,?)
        ON CONFLICT(item_id) DO UPDATE SET fields=excluded.fields`,
		id, string(b), time.Now())
	if err != nil {
		return fmt.Errorf("upsert record %s: %w", id, err)
	}
	return nil
}

// ListRecords 返回全部记录，按写入时间倒序。
func (s *SQLite) ListRecords(ctx context.Context) ([]StoredRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT item_id, fields, created_at FROM records ORDER BY created_at DESC, item_id`)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()
	var out []StoredRecord
	for rows.Next() {
		var r StoredRecord
		var raw string
		var createdAt sql.NullTime
		if err := rows.Scan(&r.ItemID, &raw, &createdAt); err != nil {
			return nil, fmt.Errorf("scan records: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &r.Fields); err != nil {
			return nil, fmt.Errorf("decode record %s: %w", r.ItemID, err)
		}
		if createdAt.Valid {
			r.CreatedAt = createdAt.Time
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

// BeginRun 记录一次任务运行开始。
func (s *SQLite) BeginRun(ctx context.Context, id, task string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO sync_runs(id, task, started_at) VALUES(?,?,?)
        ON CONFLICT(id) DO UPDATE SET task=excluded.task, started_at=excluded.started_at`,
		id, task, time.Now())
	if err != nil {
		return fmt.Errorf("begin run %s: %w", id, err)
	}
	return nil
}

// FinishRun 记录一次任务运行结束及写入条数。
func (s *SQLite) FinishRun(ctx context.Context, id string, written int) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sync_runs SET finished_at=?, written=? WHERE id=?`, time.Now(), written, id)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: not found", id)
	}
	return nil
}

// ListRuns 返回运行记录，按开始时间倒序。
func (s *SQLite) ListRuns(ctx context.Context) ([]RunRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, COALESCE(task,''), started_at, finished_at, written FROM sync_runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()
	var out []RunRow
	for rows.Next() {
		var r RunRow
		var started, finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.Task, &started, &finished, &r.Written); err != nil {
			return nil, fmt.Errorf("scan runs: %w", err)
		}
		if started.Valid {
			r.StartedAt = started.Time
		}
		if finished.Valid {
			r.FinishedAt = finished.Time
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

// CleanOldRecords 按天数阈值清理过期记录（基于 created_at 字段）。
func (s *SQLite) CleanOldRecords(ctx context.Context, days int) error {
	if days <= 0 {
		return nil
	}
	cutoff := time.Now().AddDate(0, 0, -days)
	if _, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE created_at < ?`, cutoff); err != nil {
		return fmt.Errorf("clean old records: %w", err)
	}
	return nil
}
