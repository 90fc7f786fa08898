// Package kvstore provides a named, versioned key-value store backed by SQLite.
//
// A store is described by a Schema: a name, a version, and the partitions that
// version requires. Each partition is its own table keyed by string. Open
// upgrades older stores in place, recreates a store whose partitions have gone
// missing, and refuses to open a store recorded at a newer version than the
// caller asked for.
//
// Values are opaque. Set and Get use JSON text; PutBytes, PutText and GetEntry
// give raw access and preserve whether a value was stored as text or binary.
// Each call is atomic on its own; the package offers no multi-key transactions.
package kvstore
