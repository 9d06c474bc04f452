// Package file provides a TokenStore persisted as a single JSON document,
// mapping service identifiers to token records.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/giantswarm/service-oauth/instrumentation"
	"github.com/giantswarm/service-oauth/security"
	"github.com/giantswarm/service-oauth/storage"
)

const (
	// DefaultPath is the token file used when none is configured
	DefaultPath = ".oauth_tokens.json"

	// filePerm keeps token files readable by the owner only
	filePerm fs.FileMode = 0o600
)

// Store is a storage.TokenStore backed by a JSON file.
//
// The whole document is cached in memory and rewritten on every mutation
// through a temporary file and rename, so a crash mid-write never leaves a
// truncated file and never touches other services' entries.
type Store struct {
	path string

	mu      sync.RWMutex
	records map[string]json.RawMessage

	encryptor *security.Encryptor
	observer  *storage.Observer
	logger    *slog.Logger
}

var _ storage.TokenStore = (*Store)(nil)

// New opens the token file at path. A missing file is a cold start, not an error.
func New(path string) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}

	s := &Store{
		path:    path,
		records: make(map[string]json.RawMessage),
		logger:  slog.Default(),
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, &s.records); err != nil {
			return nil, fmt.Errorf("failed to parse token file %s: %w", path, err)
		}
	}
	return s, nil
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetEncryptor enables encryption of token values written from now on.
// Existing plaintext entries remain readable.
func (s *Store) SetEncryptor(enc *security.Encryptor) {
	s.encryptor = enc
	if enc.IsEnabled() {
		s.logger.Info("Token encryption at rest enabled for storage", "backend", "file")
	}
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.observer = storage.NewObserver(inst, "file")
	if inst == nil {
		return
	}
	err := inst.RegisterStorageSizeCallbacks(func() int64 {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return int64(len(s.records))
	}, nil)
	if err != nil {
		s.logger.Warn("Failed to register storage size callbacks", "error", err)
	}
}

// Path returns the token file location
func (s *Store) Path() string {
	return s.path
}

// GetToken returns the service's record
func (s *Store) GetToken(ctx context.Context, service string) (rec *storage.TokenRecord, err error) {
	_, done := s.observer.Start(ctx, "get_token", service)
	defer func() { done(err) }()

	s.mu.RLock()
	raw, ok := s.records[service]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrTokenNotFound, service)
	}
	return s.decode(service, raw)
}

// PutToken replaces the service's record and rewrites the file
func (s *Store) PutToken(ctx context.Context, record *storage.TokenRecord) (err error) {
	if record == nil {
		return fmt.Errorf("token record cannot be nil")
	}
	if record.Service == "" {
		return fmt.Errorf("service cannot be empty")
	}

	_, done := s.observer.Start(ctx, "put_token", record.Service)
	defer func() { done(err) }()

	raw, err := storage.SealRecord(record, s.encryptor)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.records[record.Service]
	s.records[record.Service] = raw
	if err = s.flushLocked(); err != nil {
		if existed {
			s.records[record.Service] = prev
		} else {
			delete(s.records, record.Service)
		}
		return err
	}

	s.logger.Debug("Saved token", "service", record.Service, "path", s.path)
	return nil
}

// DeleteToken removes the service's record. Missing records are not an error.
func (s *Store) DeleteToken(ctx context.Context, service string) (err error) {
	_, done := s.observer.Start(ctx, "delete_token", service)
	defer func() { done(err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.records[service]
	if !ok {
		return nil
	}
	delete(s.records, service)
	if err = s.flushLocked(); err != nil {
		s.records[service] = prev
		return err
	}

	s.logger.Debug("Deleted token", "service", service, "path", s.path)
	return nil
}

// Snapshot returns all records keyed by service. Entries that fail to
// decode are logged and left out.
func (s *Store) Snapshot(ctx context.Context) (out map[string]*storage.TokenRecord, err error) {
	_, done := s.observer.Start(ctx, "snapshot", "")
	defer func() { done(err) }()

	s.mu.RLock()
	raws := make(map[string]json.RawMessage, len(s.records))
	for k, v := range s.records {
		raws[k] = v
	}
	s.mu.RUnlock()

	out = make(map[string]*storage.TokenRecord, len(raws))
	for service, raw := range raws {
		rec, err := s.decode(service, raw)
		if err != nil {
			s.logger.Warn("Failed to decode token record, skipping",
				"service", service,
				"error", err)
			continue
		}
		out[service] = rec
	}
	return out, nil
}

func (s *Store) decode(service string, raw json.RawMessage) (*storage.TokenRecord, error) {
	rec, err := storage.OpenRecord(raw, s.encryptor)
	if err != nil {
		return nil, err
	}
	// older files may not carry the service inside each entry
	if rec.Service == "" {
		rec.Service = service
	}
	return rec, nil
}

// flushLocked writes the cached document to disk. Caller must hold s.mu.
func (s *Store) flushLocked() error {
	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal token file: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary token file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		// no-op after a successful rename
		_ = os.Remove(tmpName)
	}()

	if err := tmp.Chmod(filePerm); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to set token file permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close token file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace token file: %w", err)
	}
	return nil
}
