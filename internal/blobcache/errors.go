package blobcache

import "errors"

var (
	// ErrBlobNotFound reports a copy whose source key holds no payload.
	ErrBlobNotFound = errors.New("blob not found")
	// ErrHandleRevoked reports use of a handle after release or revocation.
	ErrHandleRevoked = errors.New("blob handle revoked")
	// ErrUnknownCategory reports a category hint outside the known set.
	ErrUnknownCategory = errors.New("unknown blob category")
	// ErrInvalidKey reports an empty logical key.
	ErrInvalidKey = errors.New("invalid blob key")
	// ErrClosed reports use of a cache after Close.
	ErrClosed = errors.New("blob cache closed")
)
