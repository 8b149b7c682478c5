// Package storage declares the blob store contract for mirrored documents.
package storage

import "context"

// BlobStore persists immutable blobs under content-derived paths.
type BlobStore interface {
	// PutObject writes data at path and returns a stable public URL.
	// Writing a path that already exists is success, not failure: the path
	// is content-derived, so the stored bytes are equivalent.
	PutObject(ctx context.Context, path, contentType string, data []byte) (string, error)
}
