// Package valkey provides a Valkey storage backend for service-oauth.
//
// Valkey is wire-compatible with Redis. The Store implements both
// [storage.TokenStore] and [storage.FlowStore], so several engine replicas
// can share token records and complete each other's authorization flows.
//
// # Key Schema
//
// All keys use a configurable prefix (default "oauth:"):
//
//	{prefix}token:{service}   -> JSON(token record), no TTL
//	{prefix}flow:{state}      -> JSON(pending flow), TTL = flow lifetime
//
// # Single Use
//
// Flows are written with SET NX so a state can never be overwritten, and
// consumed with GETDEL so exactly one of any number of concurrent
// callbacks receives the flow.
//
// # Encryption
//
// When an encryptor is set, access tokens, refresh tokens and PKCE
// verifiers are sealed with AES-256-GCM before they reach Valkey.
//
// # Usage
//
//	store, err := valkey.New(valkey.Config{
//	    Address:   "localhost:6379",
//	    KeyPrefix: "oauth:",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
package valkey
