package memory

import (
	"bytes"
	"context"
	"io"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/upload-policy/pkg/uploadpolicy/storage"
)

type object struct {
	data []byte
	info storage.ObjectInfo
}

// Backend is an in-memory implementation of the storage.BlobStore interface
type Backend struct {
	mu      sync.RWMutex
	objects map[string]object
}

// New creates a new in-memory storage backend
func New() *Backend {
	return &Backend{
		objects: make(map[string]object),
	}
}

func objectID(bucket, key string) string {
	return bucket + "/" + key
}

// Put stores the object. Every put creates a new version.
func (b *Backend) Put(ctx context.Context, in storage.PutInput) (*storage.PutObjectResult, error) {
	digest := storage.NewDigest(in.Body)
	data, err := io.ReadAll(digest)
	if err != nil {
		return nil, err
	}

	contentType := in.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	metadata := maps.Clone(in.Metadata)

	info := storage.ObjectInfo{
		Bucket:       in.Bucket,
		Key:          in.Key,
		Size:         digest.Size(),
		ETag:         digest.ETag(),
		ContentType:  contentType,
		ACL:          in.ACL,
		VersionID:    uuid.NewString(),
		LastModified: time.Now().UTC(),
		Metadata:     metadata,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.objects[objectID(in.Bucket, in.Key)] = object{data: data, info: info}

	return &storage.PutObjectResult{
		Bucket:     in.Bucket,
		Key:        in.Key,
		VersionID:  info.VersionID,
		ETag:       info.ETag,
		ContentMD5: digest.ContentMD5(),
		Size:       info.Size,
	}, nil
}

// Get returns the object content
func (b *Backend) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, exists := b.objects[objectID(bucket, key)]
	if !exists {
		return nil, storage.ErrObjectNotFound
	}

	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

// Head returns object metadata
func (b *Backend) Head(ctx context.Context, bucket, key string) (*storage.ObjectInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, exists := b.objects[objectID(bucket, key)]
	if !exists {
		return nil, storage.ErrObjectNotFound
	}

	info := obj.info
	info.Metadata = maps.Clone(obj.info.Metadata)
	return &info, nil
}

// Delete removes the object
func (b *Backend) Delete(ctx context.Context, bucket, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := objectID(bucket, key)
	if _, exists := b.objects[id]; !exists {
		return storage.ErrObjectNotFound
	}

	delete(b.objects, id)
	return nil
}
