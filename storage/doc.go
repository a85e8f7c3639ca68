// Package storage implements the durable row store backing quietlink.
//
// All persisted collections live in a single SQLite database: connections,
// crypto records, messages, the outbound journal, generated and read
// bundles, the link pool, group members, the local profile, and the cached
// auth token. Row-level operations are serialized by SQLite itself;
// read-modify-write sequences over shared collections (link pool, bundle
// stores, profile, token cache) additionally go through the store's
// collection lock, see Store.WithLock.
//
// The schema is managed with golang-migrate over migrations embedded in
// the binary.
package storage
