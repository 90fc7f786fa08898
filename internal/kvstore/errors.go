package kvstore

import "errors"

var (
	// ErrStorageUnavailable reports that the persistence engine could not be opened.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrSchemaMismatch reports that a store at the requested version lacks a
	// required partition. Open recovers from it by recreating the store.
	ErrSchemaMismatch = errors.New("schema mismatch")
	// ErrVersionDowngrade reports an open request older than the recorded version.
	ErrVersionDowngrade = errors.New("store version downgrade")
	// ErrPartitionNotFound reports an operation against a partition the schema does not declare.
	ErrPartitionNotFound = errors.New("partition not found")
)
