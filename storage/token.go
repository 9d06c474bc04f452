package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/giantswarm/service-oauth/security"
)

// persistedRecord is the at-rest form of a TokenRecord, shared by the file,
// sqlite and valkey backends. Token values are sealed when an encryptor is
// configured.
type persistedRecord struct {
	Service      string   `json:"service"`
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token,omitempty"`
	TokenType    string   `json:"token_type"`
	ExpiresAt    string   `json:"expires_at,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`
	UpdatedAt    string   `json:"updated_at,omitempty"`

	// Scope is the granted scope string written by older token files
	Scope string `json:"scope,omitempty"`
}

// persistedFlow is the at-rest form of a PendingFlow
type persistedFlow struct {
	State        string `json:"state"`
	Service      string `json:"service"`
	CodeVerifier string `json:"code_verifier,omitempty"`
	Continuation string `json:"continuation,omitempty"`
	CreatedAt    int64  `json:"created_at_ms"`
	ExpiresAt    int64  `json:"expires_at_ms"`
}

// SealRecord converts a record to its at-rest JSON form, encrypting the
// access and refresh tokens with enc (nil enc stores them as-is).
func SealRecord(record *TokenRecord, enc *security.Encryptor) ([]byte, error) {
	p, err := sealRecord(record, enc)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal token record: %w", err)
	}
	return data, nil
}

// OpenRecord parses a record produced by SealRecord
func OpenRecord(data []byte, enc *security.Encryptor) (*TokenRecord, error) {
	var p persistedRecord
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token record: %w", err)
	}
	return openRecord(&p, enc)
}

func sealRecord(record *TokenRecord, enc *security.Encryptor) (*persistedRecord, error) {
	if record == nil {
		return nil, fmt.Errorf("token record cannot be nil")
	}
	access, err := enc.Seal(record.Service, record.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt access token: %w", err)
	}
	refresh, err := enc.Seal(record.Service, record.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	return &persistedRecord{
		Service:      record.Service,
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    record.TokenType,
		ExpiresAt:    formatTime(record.ExpiresAt),
		Scopes:       record.Scopes,
		UpdatedAt:    formatTime(record.UpdatedAt),
	}, nil
}

func openRecord(p *persistedRecord, enc *security.Encryptor) (*TokenRecord, error) {
	access, err := enc.Open(p.Service, p.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt access token for %s: %w", p.Service, err)
	}
	refresh, err := enc.Open(p.Service, p.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt refresh token for %s: %w", p.Service, err)
	}
	expiresAt, err := parseTime(p.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("invalid expires_at for %s: %w", p.Service, err)
	}
	updatedAt, err := parseTime(p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("invalid updated_at for %s: %w", p.Service, err)
	}

	tokenType := p.TokenType
	if tokenType == "" {
		tokenType = DefaultTokenType
	}

	return &TokenRecord{
		Service:      p.Service,
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    tokenType,
		ExpiresAt:    expiresAt,
		Scopes:       recordScopes(p),
		UpdatedAt:    updatedAt,
	}, nil
}

// MarshalFlow converts a flow to JSON. The code verifier is sealed with enc.
func MarshalFlow(flow *PendingFlow, enc *security.Encryptor) ([]byte, error) {
	if flow == nil {
		return nil, fmt.Errorf("flow cannot be nil")
	}
	verifier, err := enc.Seal(flow.Service, flow.CodeVerifier)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt code verifier: %w", err)
	}
	data, err := json.Marshal(persistedFlow{
		State:        flow.State,
		Service:      flow.Service,
		CodeVerifier: verifier,
		Continuation: flow.Continuation,
		CreatedAt:    flow.CreatedAt.UnixMilli(),
		ExpiresAt:    flow.ExpiresAt.UnixMilli(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal flow: %w", err)
	}
	return data, nil
}

// UnmarshalFlow parses a flow produced by MarshalFlow
func UnmarshalFlow(data []byte, enc *security.Encryptor) (*PendingFlow, error) {
	var p persistedFlow
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal flow: %w", err)
	}
	verifier, err := enc.Open(p.Service, p.CodeVerifier)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt code verifier: %w", err)
	}
	return &PendingFlow{
		State:        p.State,
		Service:      p.Service,
		CodeVerifier: verifier,
		Continuation: p.Continuation,
		CreatedAt:    time.UnixMilli(p.CreatedAt),
		ExpiresAt:    time.UnixMilli(p.ExpiresAt),
	}, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// legacyTimeLayouts are zone-less ISO 8601 timestamps, read as local time
var legacyTimeLayouts = []string{
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err == nil {
		return t, nil
	}
	for _, layout := range legacyTimeLayouts {
		if lt, lerr := time.ParseInLocation(layout, s, time.Local); lerr == nil {
			return lt, nil
		}
	}
	return time.Time{}, err
}

// recordScopes prefers the scopes list, falling back to a space or comma
// separated scope string.
func recordScopes(p *persistedRecord) []string {
	if len(p.Scopes) > 0 || p.Scope == "" {
		return p.Scopes
	}
	return strings.FieldsFunc(p.Scope, func(r rune) bool {
		return r == ' ' || r == ','
	})
}
