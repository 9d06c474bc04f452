package providers

import (
	"errors"
	"reflect"
	"testing"
)

func testConfig(name string) Config {
	return Config{
		Name:        name,
		AuthURL:     "https://auth.example.com/authorize",
		TokenURL:    "https://auth.example.com/token",
		Scopes:      []string{"read", "write"},
		ClientID:    name + "-client",
		RedirectURL: RedirectURLFor("https://app.example.com/oauth/callback", name),
	}
}

func TestNewRegistry(t *testing.T) {
	tests := []struct {
		name    string
		configs []Config
		want    []string
		wantErr bool
	}{
		{
			name: "empty",
			want: nil,
		},
		{
			name:    "sorted names",
			configs: []Config{testConfig("zendesk"), testConfig("calendly"), testConfig("slack")},
			want:    []string{"calendly", "slack", "zendesk"},
		},
		{
			name:    "duplicate name",
			configs: []Config{testConfig("slack"), testConfig("slack")},
			wantErr: true,
		},
		{
			name: "invalid config",
			configs: []Config{func() Config {
				c := testConfig("slack")
				c.ClientID = ""
				return c
			}()},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, err := NewRegistry(tt.configs...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewRegistry() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got := reg.Services(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Services() = %v, want %v", got, tt.want)
			}
			if reg.Len() != len(tt.want) {
				t.Errorf("Len() = %d, want %d", reg.Len(), len(tt.want))
			}
		})
	}
}

func TestRegistry_Get(t *testing.T) {
	reg, err := NewRegistry(testConfig("slack"))
	if err != nil {
		t.Fatal(err)
	}

	cfg, err := reg.Get("slack")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if cfg.ClientID != "slack-client" {
		t.Errorf("ClientID = %q", cfg.ClientID)
	}

	if !reg.Has("slack") || reg.Has("hubspot") {
		t.Error("Has() mismatch")
	}

	_, err = reg.Get("hubspot")
	if !errors.Is(err, ErrUnknownService) {
		t.Errorf("Get(unknown) error = %v, want ErrUnknownService", err)
	}
}

func TestRegistry_IsolatedFromCallers(t *testing.T) {
	input := testConfig("slack")
	reg, err := NewRegistry(input)
	if err != nil {
		t.Fatal(err)
	}

	// Mutating the input after registration has no effect
	input.Scopes[0] = "admin"

	cfg, _ := reg.Get("slack")
	if cfg.Scopes[0] != "read" {
		t.Fatalf("registry shares scopes with the caller: %v", cfg.Scopes)
	}

	// Neither does mutating a returned copy
	cfg.Scopes[0] = "admin"
	again, _ := reg.Get("slack")
	if again.Scopes[0] != "read" {
		t.Errorf("Get() returned a shared slice: %v", again.Scopes)
	}

	names := reg.Services()
	names[0] = "changed"
	if reg.Services()[0] != "slack" {
		t.Error("Services() returned a shared slice")
	}
}
