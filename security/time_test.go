package security

import (
	"testing"
	"time"
)

func TestIsTokenExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt time.Time
		want      bool
	}{
		{"expired 10 minutes ago", now.Add(-10 * time.Minute), true},
		{"expires in 10 minutes", now.Add(10 * time.Minute), false},
		{"expires exactly now", now, true},
		{"expires in 1 second", now.Add(time.Second), false},
		{"zero time (never expires)", time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTokenExpired(now, tt.expiresAt); got != tt.want {
				t.Errorf("IsTokenExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsTokenExpiringSoon(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt time.Time
		margin    time.Duration
		want      bool
	}{
		{"well outside margin", now.Add(time.Hour), DefaultRefreshMargin, false},
		{"just outside margin", now.Add(61 * time.Second), DefaultRefreshMargin, false},
		{"inside margin", now.Add(30 * time.Second), DefaultRefreshMargin, true},
		{"at margin boundary", now.Add(DefaultRefreshMargin), DefaultRefreshMargin, true},
		{"already expired", now.Add(-time.Minute), DefaultRefreshMargin, true},
		{"zero margin, still valid", now.Add(time.Second), 0, false},
		{"zero time (never expires)", time.Time{}, DefaultRefreshMargin, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTokenExpiringSoon(now, tt.expiresAt, tt.margin); got != tt.want {
				t.Errorf("IsTokenExpiringSoon() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExpiresAt(t *testing.T) {
	issued := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	if got := ExpiresAt(issued, 3600); !got.Equal(issued.Add(time.Hour)) {
		t.Errorf("ExpiresAt(3600) = %v, want %v", got, issued.Add(time.Hour))
	}
	if got := ExpiresAt(issued, 0); !got.IsZero() {
		t.Errorf("ExpiresAt(0) = %v, want zero time", got)
	}
	if got := ExpiresAt(issued, -5); !got.IsZero() {
		t.Errorf("ExpiresAt(-5) = %v, want zero time", got)
	}
}
