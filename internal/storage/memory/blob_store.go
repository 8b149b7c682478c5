// Package memory provides an in-memory BlobStore for development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Object holds one stored blob.
type Object struct {
	ContentType	string
	Data		[]byte
}

// BlobStore keeps objects in a map guarded by a mutex.
type BlobStore struct {
	mu	sync.RWMutex
	objects	map[string]Object
}

// NewBlobStore constructs an empty BlobStore.
func NewBlobStore() *BlobStore {
	return &BlobStore{objects: make(map[string]Object)}
}

// PutObject stores data at path. Re-writing an existing path keeps the
// original bytes, mirroring the idempotent semantics of the GCS store.
func (s *BlobStore) PutObject(_ context.Context, path, contentType string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.objects[path]; !exists {
		s.objects[path] = Object{ContentType: contentType, Data: append([]byte(nil), data...)}
	}
	return fmt.Sprintf("memory://%s", path), nil
}

// Get returns a stored object, for test assertions.
func (s *BlobStore) Get(path string) (Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[path]
	return obj, ok
}

// Len reports the number of stored objects.
func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
