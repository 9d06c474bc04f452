package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/giantswarm/service-oauth/internal/testutil"
	"github.com/giantswarm/service-oauth/security"
	"github.com/giantswarm/service-oauth/storage"
	"github.com/giantswarm/service-oauth/storage/storagetest"
)

func openTestStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_TokenStore(t *testing.T) {
	storagetest.RunTokenStoreTests(t, func(t *testing.T) storage.TokenStore {
		return openTestStore(t, filepath.Join(t.TempDir(), "tokens.db"))
	})
}

func TestOpen_EmptyPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Error("Open() with empty path should return error")
	}
}

func TestStore_PersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tokens.db")

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	want := testutil.GenerateTestRecord("zendesk", storagetest.Epoch)
	if err := s1.PutToken(ctx, want); err != nil {
		t.Fatalf("PutToken() error = %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	s2 := openTestStore(t, path)
	got, err := s2.GetToken(ctx, "zendesk")
	if err != nil {
		t.Fatalf("GetToken() error = %v", err)
	}
	if got.AccessToken != want.AccessToken || !got.ExpiresAt.Equal(want.ExpiresAt) {
		t.Errorf("GetToken() = %+v, want %+v", got, want)
	}
}

func TestStore_EncryptedColumns(t *testing.T) {
	ctx := context.Background()
	key, err := security.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	enc, err := security.NewEncryptor(key)
	if err != nil {
		t.Fatal(err)
	}

	s := openTestStore(t, filepath.Join(t.TempDir(), "tokens.db"))
	s.SetEncryptor(enc)

	rec := testutil.GenerateTestRecord("salesforce", storagetest.Epoch)
	if err := s.PutToken(ctx, rec); err != nil {
		t.Fatalf("PutToken() error = %v", err)
	}

	var stored string
	if err := s.db.QueryRowContext(ctx, `SELECT access_token FROM oauth_tokens WHERE service = ?`, "salesforce").Scan(&stored); err != nil {
		t.Fatalf("raw select error = %v", err)
	}
	if stored == rec.AccessToken {
		t.Error("access token stored in plaintext")
	}

	got, err := s.GetToken(ctx, "salesforce")
	if err != nil {
		t.Fatalf("GetToken() error = %v", err)
	}
	if got.AccessToken != rec.AccessToken || got.RefreshToken != rec.RefreshToken {
		t.Error("decrypted tokens do not match")
	}
}

func TestStore_CloseNil(t *testing.T) {
	var s *Store
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil store error = %v", err)
	}
}
