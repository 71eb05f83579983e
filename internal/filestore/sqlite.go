package filestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/keloia/internal/apperr"
)

const sqliteSchemaSQL = `
CREATE TABLE IF NOT EXISTS files (
	path       TEXT PRIMARY KEY,
	content    BLOB NOT NULL,
	version    TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// SQLite implements Client on a single SQLite table. Every write is a
// conditional statement on (path, version), so the version check holds
// across processes sharing the database file.
type SQLite struct {
	conn *sql.DB
}

// OpenSQLite opens (or creates) the database and applies the schema. dsn is
// a file path or a sqlite3 URI that may already carry query parameters.
func OpenSQLite(dsn string) (*SQLite, error) {
	conn, err := sql.Open("sqlite3", sqliteDSN(dsn))
	if err != nil {
		return nil, fmt.Errorf("filestore: open sqlite: %w", err)
	}
	if sqliteInMemory(dsn) {
		// Each connection to :memory: is a separate database.
		conn.SetMaxOpenConns(1)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("filestore: ping sqlite: %w", err)
	}
	if _, err := conn.Exec(sqliteSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("filestore: apply schema: %w", err)
	}
	return &SQLite{conn: conn}, nil
}

func sqliteDSN(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_journal_mode=WAL&_busy_timeout=5000"
}

func sqliteInMemory(dsn string) bool {
	return strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.conn.Close()
}

// Read implements Client.
func (s *SQLite) Read(ctx context.Context, path string) (*File, error) {
	f := &File{Path: path}
	err := s.conn.QueryRowContext(ctx, `SELECT content, version FROM files WHERE path = ?`, path).
		Scan(&f.Content, &f.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("read %s: %w", path, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, &apperr.TransportError{Op: OpRead, Path: path, Err: err}
	}
	return f, nil
}

// Write implements Client.
func (s *SQLite) Write(ctx context.Context, req WriteRequest) error {
	next := uuid.NewString()
	var (
		res sql.Result
		err error
	)
	if req.Version == "" {
		res, err = s.conn.ExecContext(ctx, `
			INSERT INTO files (path, content, version) VALUES (?, ?, ?)
			ON CONFLICT(path) DO NOTHING
		`, req.Path, req.Content, next)
	} else {
		res, err = s.conn.ExecContext(ctx, `
			UPDATE files SET content = ?, version = ?, updated_at = CURRENT_TIMESTAMP
			WHERE path = ? AND version = ?
		`, req.Content, next, req.Path, req.Version)
	}
	if err != nil {
		return &apperr.TransportError{Op: OpWrite, Path: req.Path, Err: err}
	}
	return s.settle(ctx, res, OpWrite, req.Path, req.Version)
}

// Remove implements Client.
func (s *SQLite) Remove(ctx context.Context, req RemoveRequest) error {
	res, err := s.conn.ExecContext(ctx, `DELETE FROM files WHERE path = ? AND version = ?`, req.Path, req.Version)
	if err != nil {
		return &apperr.TransportError{Op: OpRemove, Path: req.Path, Err: err}
	}
	return s.settle(ctx, res, OpRemove, req.Path, req.Version)
}

// settle turns a conditional statement that touched no row into the
// matching not-found or conflict outcome.
func (s *SQLite) settle(ctx context.Context, res sql.Result, op, path, expected string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return &apperr.TransportError{Op: op, Path: path, Err: err}
	}
	if n > 0 {
		return nil
	}
	var version string
	err = s.conn.QueryRowContext(ctx, `SELECT version FROM files WHERE path = ?`, path).Scan(&version)
	exists := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return &apperr.TransportError{Op: op, Path: path, Err: err}
	}
	if op == OpRemove {
		if cerr := checkRemove(path, expected, version, exists); cerr != nil {
			return cerr
		}
	} else if cerr := checkWrite(path, expected, version, exists); cerr != nil {
		return cerr
	}
	// The row changed back between the statement and the probe.
	return &apperr.ConflictError{Path: path, ExpectedVersion: expected}
}
