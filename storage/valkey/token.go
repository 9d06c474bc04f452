package valkey

import (
	"context"
	"fmt"
	"strings"

	"github.com/giantswarm/service-oauth/storage"
)

// ============================================================
// TokenStore Implementation
// ============================================================

// GetToken returns the service's record
func (s *Store) GetToken(ctx context.Context, service string) (rec *storage.TokenRecord, err error) {
	ctx, done := s.observer.Start(ctx, "get_token", service)
	defer func() { done(err) }()

	data, err := s.client.Do(ctx, s.client.B().Get().Key(s.tokenKey(service)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrTokenNotFound, service)
		}
		return nil, fmt.Errorf("failed to get token: %w", err)
	}

	return s.decodeRecord(service, data)
}

// PutToken replaces the service's record. A single SET is atomic, so
// concurrent writers never interleave partial records.
func (s *Store) PutToken(ctx context.Context, record *storage.TokenRecord) (err error) {
	if record == nil {
		return fmt.Errorf("token record cannot be nil")
	}
	if record.Service == "" {
		return fmt.Errorf("service cannot be empty")
	}

	ctx, done := s.observer.Start(ctx, "put_token", record.Service)
	defer func() { done(err) }()

	data, err := storage.SealRecord(record, s.getEncryptor())
	if err != nil {
		return err
	}
	if len(data) > MaxRecordSize {
		return errRecordTooLarge
	}

	if err := s.client.Do(ctx,
		s.client.B().Set().Key(s.tokenKey(record.Service)).Value(string(data)).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}

	s.logger.Debug("Saved token", "service", record.Service)
	return nil
}

// DeleteToken removes the service's record
func (s *Store) DeleteToken(ctx context.Context, service string) (err error) {
	ctx, done := s.observer.Start(ctx, "delete_token", service)
	defer func() { done(err) }()

	if err := s.client.Do(ctx, s.client.B().Del().Key(s.tokenKey(service)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}

// Snapshot returns all records under this store's prefix
func (s *Store) Snapshot(ctx context.Context) (out map[string]*storage.TokenRecord, err error) {
	ctx, done := s.observer.Start(ctx, "snapshot", "")
	defer func() { done(err) }()

	pattern := s.tokenKey("*")
	keyPrefix := s.tokenKey("")
	out = make(map[string]*storage.TokenRecord)

	var cursor uint64
	for {
		result, err := s.client.Do(ctx,
			s.client.B().Scan().Cursor(cursor).Match(pattern).Count(scanBatchSize).Build(),
		).AsScanEntry()
		if err != nil {
			return nil, fmt.Errorf("failed to scan tokens: %w", err)
		}

		for _, key := range result.Elements {
			service := strings.TrimPrefix(key, keyPrefix)
			// SCAN can return duplicates across iterations
			if _, exists := out[service]; exists {
				continue
			}

			data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
			if err != nil {
				if isNilError(err) {
					continue // deleted between SCAN and GET
				}
				return nil, fmt.Errorf("failed to get token %s: %w", service, err)
			}

			rec, err := s.decodeRecord(service, data)
			if err != nil {
				s.logger.Warn("Failed to decode token record, skipping",
					"service", service,
					"error", err)
				continue
			}
			out[service] = rec
		}

		cursor = result.Cursor
		if cursor == 0 {
			break
		}
	}

	return out, nil
}

func (s *Store) decodeRecord(service, data string) (*storage.TokenRecord, error) {
	rec, err := storage.OpenRecord([]byte(data), s.getEncryptor())
	if err != nil {
		return nil, err
	}
	if rec.Service == "" {
		rec.Service = service
	}
	return rec, nil
}
