// Package memory provides an in-memory implementation of storage.TokenStore
// and storage.FlowStore.
//
// Token records live in a fixed set of shards keyed by service, each with its
// own RWMutex. Pending flows live in sharded TTL caches keyed by state; the
// shard mutex makes SaveFlow a check-and-insert and ConsumeFlow a
// get-and-delete, so a state can be consumed at most once. Expiry is checked
// against the store clock on consume and swept by a cleanup loop.
//
// Records do not survive a restart. Use storage/file or storage/sqlite for a
// single durable instance and storage/valkey for several instances.
//
// Example usage:
//
//	store := memory.New()
//	defer store.Stop()
//	srv, err := server.New(registry, exchanger, store, store, cfg, logger)
package memory
