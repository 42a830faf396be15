package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "github.com/marcboeker/go-duckdb/v2"
)

// Session wraps a single DuckDB connection pool. The handle is safe for
// concurrent use; the mutex only guards remote-access configuration,
// query execution relies on database/sql's own synchronization.
type Session struct {
	mu          sync.Mutex
	db          *sql.DB
	remoteReady bool
	remote      RemoteConfig
}

// RemoteConfig carries the session variables DuckDB needs to scan an
// S3-compatible object store directly.
type RemoteConfig struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
}

// Open creates a new session. An empty dsn opens an in-memory database.
func Open(dsn string) (*Session, error) {
	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	return &Session{db: db}, nil
}

var (
	sharedMu sync.Mutex
	shared   *Session
)

// Acquire returns the process-wide session, creating it on first use.
// Creation is mutually exclusive so concurrent callers never race two
// engine instances into existence.
func Acquire() (*Session, error) {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if shared != nil {
		return shared, nil
	}
	session, err := Open("")
	if err != nil {
		return nil, err
	}
	shared = session
	return shared, nil
}

// Close releases the underlying connection pool. Optional: the shared
// session normally lives until process exit.
func (s *Session) Close() error {
	return s.db.Close()
}

// Ping verifies the connection is usable.
func (s *Session) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Session) Exec(ctx context.Context, query string, args ...any) error {
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return err
	}
	return nil
}

func (s *Session) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, query, args...)
}

func (s *Session) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, query, args...)
}

// EnsureRemote installs httpfs and pushes the object-store variables
// into the session. Idempotent: repeat calls with the same config are
// no-ops, and an already-installed extension is not an error.
func (s *Session) EnsureRemote(ctx context.Context, cfg RemoteConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.remoteReady && s.remote == cfg {
		return nil
	}

	// INSTALL on an already-installed extension is a no-op in recent
	// DuckDB releases; older builds error, which is equally harmless.
	_, _ = s.db.ExecContext(ctx, "INSTALL httpfs")
	if _, err := s.db.ExecContext(ctx, "LOAD httpfs"); err != nil {
		return fmt.Errorf("load httpfs extension: %w", err)
	}

	settings := []string{
		fmt.Sprintf("SET s3_endpoint=%s", QuoteString(cfg.Endpoint)),
		fmt.Sprintf("SET s3_region=%s", QuoteString(cfg.Region)),
		fmt.Sprintf("SET s3_access_key_id=%s", QuoteString(cfg.AccessKeyID)),
		fmt.Sprintf("SET s3_secret_access_key=%s", QuoteString(cfg.SecretAccessKey)),
		fmt.Sprintf("SET s3_use_ssl=%t", cfg.UseSSL),
		"SET s3_url_style='path'",
	}
	for _, statement := range settings {
		if _, err := s.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("configure remote session: %w", err)
		}
	}

	s.remote = cfg
	s.remoteReady = true
	return nil
}

// QuoteIdent quotes a SQL identifier for DuckDB.
func QuoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

// QuoteString quotes a SQL string literal for DuckDB.
func QuoteString(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

// QuoteStringArray renders a DuckDB list literal of strings.
func QuoteStringArray(values []string) string {
	quoted := make([]string, 0, len(values))
	for _, value := range values {
		quoted = append(quoted, QuoteString(value))
	}
	return "[" + strings.Join(quoted, ",") + "]"
}
