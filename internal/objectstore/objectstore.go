// Package objectstore is the narrow seam between the Iceberg-style table
// abstraction (internal/iceberg) and the backing object store. It plays
// the same role for S3 that the teacher repo's DBTX interface plays for
// *sql.DB/*sql.Tx: a small interface real code depends on, with a real
// S3 implementation and an in-memory fake for tests.
package objectstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("objectstore: key not found")

// ErrPreconditionFailed is returned by PutIfMatch when the conditional
// write lost a race (etag mismatch, or the key already exists when an
// empty etag requested create-only semantics).
var ErrPreconditionFailed = errors.New("objectstore: precondition failed")

// Store is the object-store surface the Iceberg table abstraction needs:
// point get/put, prefix listing, and a compare-and-swap put used to
// commit new metadata versions without clobbering a concurrent writer.
type Store interface {
	// Get returns the object body and its current ETag.
	Get(ctx context.Context, key string) (body []byte, etag string, err error)

	// Put writes the object unconditionally and returns the new ETag.
	Put(ctx context.Context, key string, body []byte) (etag string, err error)

	// PutIfMatch writes the object only if its current ETag equals etag.
	// An empty etag means "create only if the key does not yet exist".
	// On a lost race it returns ErrPreconditionFailed, not a plain error,
	// so callers can retry instead of aborting.
	PutIfMatch(ctx context.Context, key string, body []byte, etag string) (newETag string, err error)

	// List returns all keys with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}
