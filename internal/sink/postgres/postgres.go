// 包 postgres 为基于 pgx 连接池的记录存储（type: postgres）。
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"fetch-process/internal/sink"
)

var reIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Sink 把记录以 JSONB 写入单表，主键为小写归一化后的 item_id。
type Sink struct {
	pool  *pgxpool.Pool
	table string
	key   string
}

// Open 连接数据库并建表。table 允许 "schema.table" 形式。
func Open(ctx context.Context, dsn, table, keyColumn string) (*Sink, error) {
	if table == "" {
		table = "fetch_records"
	}
	if !reIdent.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := New(pool, table, keyColumn)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// New 基于已有连接池构造 Sink（不建表）。
func New(pool *pgxpool.Pool, table, keyColumn string) *Sink {
	if keyColumn == "" {
		keyColumn = sink.FieldNoteID
	}
	return &Sink{pool: pool, table: table, key: keyColumn}
}

// Migrate 幂等建表。
func (s *Sink) Migrate(ctx context.Context) error {
	q := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		item_id TEXT PRIMARY KEY,
		raw_id TEXT NOT NULL,
		fields JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`, s.table)
	if _, err := s.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

func (s *Sink) Close() { s.pool.Close() }

func (s *Sink) BatchExists(ctx context.Context, ids []string) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	norm := make([]string, 0, len(ids))
	for _, id := range ids {
		if n := sink.NormalizeID(id); n != "" {
			norm = append(norm, n)
		}
	}
	if len(norm) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT item_id FROM %s WHERE item_id = ANY($1)`, s.table), norm)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", s.table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan %s: %w", s.table, err)
		}
		out[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", s.table, err)
	}
	return out, nil
}

func (s *Sink) Write(ctx context.Context, rec sink.Record) error {
	raw := strings.TrimSpace(rec.Text(s.key))
	if raw == "" {
		return errors.New("record key required")
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", raw, err)
	}
	q := fmt.Sprintf(`INSERT INTO %s (item_id, raw_id, fields) VALUES ($1, $2, $3)
		ON CONFLICT (item_id) DO UPDATE SET fields = EXCLUDED.fields`, s.table)
	if _, err := s.pool.Exec(ctx, q, sink.NormalizeID(raw), raw, b); err != nil {
		return fmt.Errorf("insert %s %s: %w", s.table, raw, err)
	}
	return nil
}
