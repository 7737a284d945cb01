// Package memory implements storage.ObjectStore in process memory.
//
// It backs unit tests and local development where no S3-compatible store
// is running. Presigned URLs are synthetic and not servable.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sharesync/sharesync/pkg/storage"
)

// ObjectStore is an in-memory object store. Safe for concurrent use.
type ObjectStore struct {
	mu      sync.RWMutex
	objects map[string]int64 // key -> size
}

// New creates an empty in-memory object store.
func New() *ObjectStore {
	return &ObjectStore{objects: make(map[string]int64)}
}

// Put records an object, standing in for a client PUT via presigned URL.
func (s *ObjectStore) Put(key string, size int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = size
}

// Len returns the number of stored objects.
func (s *ObjectStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

func (s *ObjectStore) PresignPut(ctx context.Context, key string, size int64, contentType string, ttl time.Duration) (*storage.PresignedURL, error) {
	return &storage.PresignedURL{
		URL:       fmt.Sprintf("memory://put/%s", key),
		Method:    "PUT",
		Headers:   map[string]string{"Content-Length": fmt.Sprintf("%d", size)},
		ExpiresAt: time.Now().Add(ttl),
	}, nil
}

func (s *ObjectStore) PresignGet(ctx context.Context, key, filename string, ttl time.Duration) (*storage.PresignedURL, error) {
	s.mu.RLock()
	_, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return &storage.PresignedURL{
		URL:       fmt.Sprintf("memory://get/%s", key),
		Method:    "GET",
		ExpiresAt: time.Now().Add(ttl),
	}, nil
}

func (s *ObjectStore) Stat(ctx context.Context, key string) (*storage.ObjectInfo, error) {
	s.mu.RLock()
	size, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return &storage.ObjectInfo{Key: key, SizeBytes: size}, nil
}

func (s *ObjectStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}
