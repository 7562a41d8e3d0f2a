package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"ChannelMonitor/internal/domain"
	"ChannelMonitor/internal/ports"
)

// DefaultCursorTable holds one row per monitored channel.
const DefaultCursorTable = "channel_cursors"

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PostgresStore persists cursors into Postgres.
type PostgresStore struct {
	db    *sql.DB
	table string
}

var _ ports.StateStore = (*PostgresStore)(nil)

// NewPostgresStore wires a sql.DB implementation.
func NewPostgresStore(db *sql.DB, table string) *PostgresStore {
	if table == "" {
		table = DefaultCursorTable
	}
	return &PostgresStore{db: db, table: table}
}

// EnsureSchema creates the cursor table when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, s.schemaSQL()); err != nil {
		return fmt.Errorf("create cursor table: %w", err)
	}
	return nil
}

// Load returns every stored cursor.
func (s *PostgresStore) Load(ctx context.Context) (map[domain.ChannelID]int64, error) {
	result := make(map[domain.ChannelID]int64)
	if s.db == nil {
		return result, nil
	}

	query, args, err := s.selectQuery().ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query cursors: %w", err)
	}

	for rows.Next() {
		var (
			channel string
			lastID  int64
		)
		if err := rows.Scan(&channel, &lastID); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan cursor: %w", err)
		}
		result[domain.ChannelID(channel)] = lastID
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("rows iteration: %w", rowsErr)
	}

	if closeErr := rows.Close(); closeErr != nil {
		return nil, fmt.Errorf("close rows: %w", closeErr)
	}

	return result, nil
}

// Save upserts the snapshot; a stored cursor never moves backwards.
func (s *PostgresStore) Save(ctx context.Context, cursors map[domain.ChannelID]int64) error {
	if s.db == nil || len(cursors) == 0 {
		return nil
	}

	query, args, err := s.upsertQuery(cursors).ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert cursors: %w", err)
	}

	return nil
}

func (s *PostgresStore) quotedTable() string {
	return pq.QuoteIdentifier(s.table)
}

func (s *PostgresStore) schemaSQL() string {
	return `CREATE TABLE IF NOT EXISTS ` + s.quotedTable() + ` (
              channel    TEXT PRIMARY KEY,
              last_id    BIGINT NOT NULL DEFAULT 0,
              updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
            )`
}

func (s *PostgresStore) selectQuery() sq.SelectBuilder {
	return psql.Select("channel", "last_id").From(s.quotedTable()).OrderBy("channel")
}

func (s *PostgresStore) upsertQuery(cursors map[domain.ChannelID]int64) sq.InsertBuilder {
	channels := make([]string, 0, len(cursors))
	for ch := range cursors {
		channels = append(channels, string(ch))
	}
	sort.Strings(channels)

	table := s.quotedTable()
	insert := psql.Insert(table).Columns("channel", "last_id", "updated_at")
	for _, ch := range channels {
		insert = insert.Values(ch, cursors[domain.ChannelID(ch)], sq.Expr("NOW()"))
	}

	return insert.Suffix(`ON CONFLICT (channel) DO UPDATE
              SET last_id = GREATEST(` + table + `.last_id, EXCLUDED.last_id),
                  updated_at = NOW()`)
}
