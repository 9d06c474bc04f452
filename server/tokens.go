package server

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/giantswarm/service-oauth/security"
	"github.com/giantswarm/service-oauth/storage"
)

// recordFromToken converts a token response into a record. prev, when not
// nil, supplies the refresh token and scopes the response omitted.
func recordFromToken(service string, tok *oauth2.Token, prev *storage.TokenRecord, fallbackScopes []string, now time.Time) *storage.TokenRecord {
	rec := &storage.TokenRecord{
		Service:      service,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    normalizeTokenType(tok.TokenType),
		ExpiresAt:    tokenExpiry(tok, now),
		Scopes:       grantedScopes(tok),
		UpdatedAt:    now,
	}

	if rec.RefreshToken == "" && prev != nil {
		rec.RefreshToken = prev.RefreshToken
	}
	if rec.Scopes == nil {
		if prev != nil {
			rec.Scopes = append([]string(nil), prev.Scopes...)
		} else {
			rec.Scopes = append([]string(nil), fallbackScopes...)
		}
	}
	return rec
}

// tokenExpiry prefers expires_in measured against our clock; x/oauth2 stamps
// Expiry with the wall clock.
func tokenExpiry(tok *oauth2.Token, now time.Time) time.Time {
	if expiresIn := expiresInSeconds(tok); expiresIn > 0 {
		return security.ExpiresAt(now, expiresIn)
	}
	return tok.Expiry
}

func expiresInSeconds(tok *oauth2.Token) int64 {
	if tok.ExpiresIn > 0 {
		return tok.ExpiresIn
	}
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case json.Number:
		n, _ := v.Int64()
		return n
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	}
	return 0
}

// grantedScopes reads the "scope" field. Providers separate scopes with
// spaces or commas. Returns nil when the field is absent.
func grantedScopes(tok *oauth2.Token) []string {
	raw, _ := tok.Extra("scope").(string)
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return strings.FieldsFunc(raw, func(r rune) bool {
		return r == ' ' || r == ','
	})
}

func normalizeTokenType(t string) string {
	if t == "" || strings.EqualFold(t, "bearer") {
		return storage.DefaultTokenType
	}
	return t
}
