package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS modules (
	name       TEXT PRIMARY KEY,
	source     TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);`

// SQLiteStore keeps sources in a single SQLite table.
type SQLiteStore struct {
	pool *sqlitex.Pool
	path string
	log  zerolog.Logger
}

// OpenSQLite opens (creating if needed) the database at path. Use ":memory:"
// only with poolSize 1; every in-memory connection is a separate database.
func OpenSQLite(path string, poolSize int, logger *zerolog.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite store: path is required")
	}
	if poolSize <= 0 {
		poolSize = 4
	}
	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConn,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open %s: %w", path, err)
	}
	s := &SQLiteStore{pool: pool, path: path, log: zerolog.Nop()}
	if logger != nil {
		s.log = logger.With().Str("component", "store").Str("path", path).Logger()
	}
	s.log.Info().Int("pool_size", poolSize).Msg("sqlite store opened")
	return s, nil
}

func prepareConn(conn *sqlite.Conn) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return sqlitex.ExecuteScript(conn, sqliteSchema, nil)
}

func (s *SQLiteStore) List(ctx context.Context) ([]Source, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: take: %w", err)
	}
	defer s.pool.Put(conn)

	var out []Source
	err = sqlitex.Execute(conn, "SELECT name, source, updated_at FROM modules ORDER BY name", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			out = append(out, Source{
				Name:      stmt.ColumnText(0),
				Text:      stmt.ColumnText(1),
				UpdatedAt: time.UnixMilli(stmt.ColumnInt64(2)),
			})
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite store: list: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Put(ctx context.Context, src Source) error {
	if err := ValidateName(src.Name); err != nil {
		return err
	}
	updated := src.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlite store: take: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `INSERT INTO modules (name, source, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET source = excluded.source, updated_at = excluded.updated_at`,
		&sqlitex.ExecOptions{Args: []any{src.Name, src.Text, updated.UnixMilli()}})
	if err != nil {
		return fmt.Errorf("sqlite store: put %s: %w", src.Name, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, name string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlite store: take: %w", err)
	}
	defer s.pool.Put(conn)

	if err := sqlitex.Execute(conn, "DELETE FROM modules WHERE name = ?", &sqlitex.ExecOptions{Args: []any{name}}); err != nil {
		return fmt.Errorf("sqlite store: delete %s: %w", name, err)
	}
	if conn.Changes() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("sqlite store: close %s: %w", s.path, err)
	}
	s.log.Info().Msg("sqlite store closed")
	return nil
}
