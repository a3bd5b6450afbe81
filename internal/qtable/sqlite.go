package qtable

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS q_tables (
	goal_key     TEXT PRIMARY KEY,
	rows         INTEGER NOT NULL,
	cols         INTEGER NOT NULL,
	matrix_json  TEXT NOT NULL,
	updated_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS training_runs (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id       TEXT NOT NULL,
	goal_key     TEXT NOT NULL,
	decision     TEXT NOT NULL,
	episodes     INTEGER NOT NULL,
	total_steps  INTEGER NOT NULL,
	params_json  TEXT,
	reason       TEXT,
	created_at   TEXT NOT NULL
);
`
// #endregion schema

// #region sqlite-store
// SQLiteStore keeps one row per goal. Save replaces every row in a single
// transaction.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens a SQLite database and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use by other packages (e.g. logging).
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Load reads every stored table. An empty q_tables table yields empty Tables.
func (s *SQLiteStore) Load(ctx context.Context) (Tables, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT goal_key, rows, cols, matrix_json FROM q_tables`)
	if err != nil {
		return nil, fmt.Errorf("query q_tables: %w", err)
	}
	defer rows.Close()

	t := Tables{}
	for rows.Next() {
		var key, matrixJSON string
		var r, c int
		if err := rows.Scan(&key, &r, &c, &matrixJSON); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if _, err := ParseGoalKey(key); err != nil {
			return nil, err
		}
		m, err := decodeMatrix(matrixJSON)
		if err != nil {
			return nil, fmt.Errorf("goal %s: %w", key, err)
		}
		if mr, mc := m.Dims(); mr != r || mc != c {
			return nil, fmt.Errorf("goal %s: stored %dx%d, decoded %dx%d: %w", key, r, c, mr, mc, ErrShapeMismatch)
		}
		t[key] = m
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate q_tables: %w", err)
	}
	return t, nil
}

// Save replaces the stored tables with t.
func (s *SQLiteStore) Save(ctx context.Context, t Tables) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM q_tables`); err != nil {
		return fmt.Errorf("clear q_tables: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, key := range t.Keys() {
		m := t[key]
		r, c := m.Dims()
		matrixJSON, err := encodeMatrix(m)
		if err != nil {
			return fmt.Errorf("goal %s: %w", key, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO q_tables (goal_key, rows, cols, matrix_json, updated_at) VALUES (?, ?, ?, ?, ?)`,
			key, r, c, matrixJSON, now,
		)
		if err != nil {
			return fmt.Errorf("insert %s: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
// #endregion sqlite-store
