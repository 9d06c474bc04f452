// Package storage defines where the OAuth engine keeps its state.
//
// Two interfaces cover everything the engine persists:
//   - TokenStore: the current TokenRecord per service (access token,
//     refresh token, expiry, granted scopes)
//   - FlowStore: PendingFlow entries keyed by state, consumed exactly once
//
// The package also provides the at-rest encoding shared by the durable
// backends (SealRecord/OpenRecord, MarshalFlow/UnmarshalFlow), which encrypt
// token material with a security.Encryptor, and an Observer for tracing and
// metrics.
//
// Implementations are provided in subpackages:
//   - storage/memory: sharded in-memory TokenStore and FlowStore
//   - storage/file: JSON file TokenStore, the default for local use
//   - storage/sqlite: embedded SQL TokenStore (pure Go driver)
//   - storage/valkey: Valkey/Redis-compatible TokenStore and FlowStore for
//     multi-instance deployments
package storage
