// Package sqlite provides a TokenStore backed by an embedded SQLite database
// using the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/giantswarm/service-oauth/instrumentation"
	"github.com/giantswarm/service-oauth/security"
	"github.com/giantswarm/service-oauth/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS oauth_tokens (
	service       TEXT PRIMARY KEY,
	access_token  TEXT NOT NULL,
	refresh_token TEXT NOT NULL DEFAULT '',
	token_type    TEXT NOT NULL DEFAULT 'Bearer',
	expires_at    INTEGER NOT NULL DEFAULT 0,
	scopes        TEXT NOT NULL DEFAULT '[]',
	updated_at    INTEGER NOT NULL DEFAULT 0
)`

// Store is a storage.TokenStore backed by SQLite.
// Each mutation is a single statement, so SQLite serializes writes per row.
type Store struct {
	db *sql.DB

	encryptor *security.Encryptor
	observer  *storage.Observer
	logger    *slog.Logger
}

var _ storage.TokenStore = (*Store)(nil)

// Open opens (creating if needed) the database at path and ensures the schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db, logger: slog.Default()}, nil
}

// Close releases the underlying database handle
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetEncryptor enables encryption of token values written from now on
func (s *Store) SetEncryptor(enc *security.Encryptor) {
	s.encryptor = enc
	if enc.IsEnabled() {
		s.logger.Info("Token encryption at rest enabled for storage", "backend", "sqlite")
	}
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.observer = storage.NewObserver(inst, "sqlite")
	if inst == nil {
		return
	}
	err := inst.RegisterStorageSizeCallbacks(func() int64 {
		var n int64
		_ = s.db.QueryRow(`SELECT COUNT(*) FROM oauth_tokens`).Scan(&n)
		return n
	}, nil)
	if err != nil {
		s.logger.Warn("Failed to register storage size callbacks", "error", err)
	}
}

const selectColumns = `service, access_token, refresh_token, token_type, expires_at, scopes, updated_at`

// GetToken returns the service's record
func (s *Store) GetToken(ctx context.Context, service string) (rec *storage.TokenRecord, err error) {
	ctx, done := s.observer.Start(ctx, "get_token", service)
	defer func() { done(err) }()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM oauth_tokens WHERE service = ?`, service)

	rec, err = s.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", storage.ErrTokenNotFound, service)
	}
	return rec, err
}

// PutToken upserts the service's record
func (s *Store) PutToken(ctx context.Context, record *storage.TokenRecord) (err error) {
	if record == nil {
		return fmt.Errorf("token record cannot be nil")
	}
	if record.Service == "" {
		return fmt.Errorf("service cannot be empty")
	}

	ctx, done := s.observer.Start(ctx, "put_token", record.Service)
	defer func() { done(err) }()

	access, err := s.encryptor.Seal(record.Service, record.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}
	refresh, err := s.encryptor.Seal(record.Service, record.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}
	scopes, err := json.Marshal(nonNil(record.Scopes))
	if err != nil {
		return fmt.Errorf("failed to marshal scopes: %w", err)
	}
	tokenType := record.TokenType
	if tokenType == "" {
		tokenType = storage.DefaultTokenType
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO oauth_tokens (service, access_token, refresh_token, token_type, expires_at, scopes, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(service) DO UPDATE SET
		    access_token = excluded.access_token,
		    refresh_token = excluded.refresh_token,
		    token_type = excluded.token_type,
		    expires_at = excluded.expires_at,
		    scopes = excluded.scopes,
		    updated_at = excluded.updated_at`,
		record.Service, access, refresh, tokenType,
		timeToUnixMillis(record.ExpiresAt), string(scopes), timeToUnixMillis(record.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put token: %w", err)
	}

	s.logger.Debug("Saved token", "service", record.Service)
	return nil
}

// DeleteToken removes the service's record. Missing records are not an error.
func (s *Store) DeleteToken(ctx context.Context, service string) (err error) {
	ctx, done := s.observer.Start(ctx, "delete_token", service)
	defer func() { done(err) }()

	if _, err = s.db.ExecContext(ctx, `DELETE FROM oauth_tokens WHERE service = ?`, service); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

// Snapshot returns all records keyed by service
func (s *Store) Snapshot(ctx context.Context) (out map[string]*storage.TokenRecord, err error) {
	ctx, done := s.observer.Start(ctx, "snapshot", "")
	defer func() { done(err) }()

	rows, err := s.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM oauth_tokens ORDER BY service`)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	defer rows.Close()

	out = make(map[string]*storage.TokenRecord)
	for rows.Next() {
		rec, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		out[rec.Service] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tokens: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) scan(row scanner) (*storage.TokenRecord, error) {
	var (
		rec                storage.TokenRecord
		access, refresh    string
		scopes             string
		expires, updatedAt int64
	)
	if err := row.Scan(&rec.Service, &access, &refresh, &rec.TokenType, &expires, &scopes, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan token: %w", err)
	}

	var err error
	if rec.AccessToken, err = s.encryptor.Open(rec.Service, access); err != nil {
		return nil, fmt.Errorf("failed to decrypt access token for %s: %w", rec.Service, err)
	}
	if rec.RefreshToken, err = s.encryptor.Open(rec.Service, refresh); err != nil {
		return nil, fmt.Errorf("failed to decrypt refresh token for %s: %w", rec.Service, err)
	}
	if err := json.Unmarshal([]byte(scopes), &rec.Scopes); err != nil {
		return nil, fmt.Errorf("invalid scopes for %s: %w", rec.Service, err)
	}
	rec.ExpiresAt = unixMillisToTime(expires)
	rec.UpdatedAt = unixMillisToTime(updatedAt)
	return &rec, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func timeToUnixMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func unixMillisToTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
