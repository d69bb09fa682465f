package fs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/tendant/upload-policy/pkg/uploadpolicy/storage"
)

// ErrInvalidKey is returned when a bucket or key would resolve outside the base directory
var ErrInvalidKey = errors.New("fs: invalid bucket or object key")

// metaDir holds object attributes at <BaseDir>/.meta/<bucket>/<key>.json
const metaDir = ".meta"

// Backend is a filesystem implementation of the storage.BlobStore interface.
// Objects live at <BaseDir>/<bucket>/<key>.
type Backend struct {
	baseDir string
}

// Config options for the filesystem backend
type Config struct {
	BaseDir string // Base directory for storing files
}

// New creates a new filesystem storage backend
func New(config Config) (*Backend, error) {
	if config.BaseDir == "" {
		return nil, errors.New("base directory is required")
	}

	baseDir, err := filepath.Abs(config.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory: %w", err)
	}

	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &Backend{baseDir: baseDir}, nil
}

// path resolves bucket and key to a file path under the base directory
func (b *Backend) path(bucket, key string) (string, error) {
	if bucket == "" || key == "" || strings.ContainsAny(bucket, `/\`) || bucket == "." || bucket == ".." || bucket == metaDir {
		return "", ErrInvalidKey
	}

	bucketDir := filepath.Join(b.baseDir, bucket)
	filePath := filepath.Join(bucketDir, filepath.FromSlash(key))

	rel, err := filepath.Rel(bucketDir, filePath)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrInvalidKey
	}

	return filePath, nil
}

// attributes are the object properties not recoverable from the file itself
type attributes struct {
	ContentType string            `json:"content_type,omitempty"`
	ACL         string            `json:"acl,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// metaPath mirrors an object path into the metadata tree
func (b *Backend) metaPath(filePath string) string {
	rel, _ := filepath.Rel(b.baseDir, filePath)
	return filepath.Join(b.baseDir, metaDir, rel+".json")
}

func (b *Backend) writeAttributes(filePath string, attrs attributes) (string, error) {
	metaPath := b.metaPath(filePath)
	dir := filepath.Dir(metaPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create metadata directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".meta-*")
	if err != nil {
		return "", fmt.Errorf("failed to create metadata file: %w", err)
	}
	if err := json.NewEncoder(tmp).Encode(attrs); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write metadata: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write metadata: %w", err)
	}
	return tmp.Name(), nil
}

// readAttributes returns the stored attributes, empty for files written without them
func (b *Backend) readAttributes(filePath string) (attributes, error) {
	var attrs attributes
	data, err := os.ReadFile(b.metaPath(filePath))
	if os.IsNotExist(err) {
		return attrs, nil
	} else if err != nil {
		return attrs, fmt.Errorf("failed to read metadata: %w", err)
	}
	if err := json.Unmarshal(data, &attrs); err != nil {
		return attrs, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return attrs, nil
}

// Put writes the object to a temporary file and renames it into place
func (b *Backend) Put(ctx context.Context, in storage.PutInput) (*storage.PutObjectResult, error) {
	filePath, err := b.path(in.Bucket, in.Key)
	if err != nil {
		return nil, err
	}

	// Create directory structure if it doesn't exist
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	defer os.Remove(tmp.Name())

	digest := storage.NewDigest(in.Body)
	if _, err := io.Copy(tmp, digest); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to write file: %w", err)
	}

	metaTmp, err := b.writeAttributes(filePath, attributes{
		ContentType: in.ContentType,
		ACL:         in.ACL,
		Metadata:    in.Metadata,
	})
	if err != nil {
		return nil, err
	}
	defer os.Remove(metaTmp)

	if err := os.Rename(tmp.Name(), filePath); err != nil {
		return nil, fmt.Errorf("failed to move file into place: %w", err)
	}
	if err := os.Rename(metaTmp, b.metaPath(filePath)); err != nil {
		return nil, fmt.Errorf("failed to move metadata into place: %w", err)
	}

	return &storage.PutObjectResult{
		Bucket:     in.Bucket,
		Key:        in.Key,
		ETag:       digest.ETag(),
		ContentMD5: digest.ContentMD5(),
		Size:       digest.Size(),
	}, nil
}

// Get opens the object file
func (b *Backend) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	filePath, err := b.path(bucket, key)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(filePath)
	if os.IsNotExist(err) {
		return nil, storage.ErrObjectNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	return file, nil
}

// Head returns file metadata. Without a stored content type it is detected
// from the first bytes.
func (b *Backend) Head(ctx context.Context, bucket, key string) (*storage.ObjectInfo, error) {
	filePath, err := b.path(bucket, key)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(filePath)
	if os.IsNotExist(err) {
		return nil, storage.ErrObjectNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}
	if info.IsDir() {
		return nil, storage.ErrObjectNotFound
	}

	attrs, err := b.readAttributes(filePath)
	if err != nil {
		return nil, err
	}
	if attrs.ContentType == "" {
		buffer := make([]byte, 512)
		n, _ := io.ReadFull(file, buffer)
		attrs.ContentType = http.DetectContentType(buffer[:n])

		if _, err := file.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("failed to read file: %w", err)
		}
	}
	digest := storage.NewDigest(file)
	if _, err := io.Copy(io.Discard, digest); err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	return &storage.ObjectInfo{
		Bucket:       bucket,
		Key:          key,
		Size:         info.Size(),
		ETag:         digest.ETag(),
		ContentType:  attrs.ContentType,
		ACL:          attrs.ACL,
		LastModified: info.ModTime().UTC(),
		Metadata:     attrs.Metadata,
	}, nil
}

// Delete removes the object file and any directories left empty
func (b *Backend) Delete(ctx context.Context, bucket, key string) error {
	filePath, err := b.path(bucket, key)
	if err != nil {
		return err
	}

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return storage.ErrObjectNotFound
	}

	if err := os.Remove(filePath); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}

	metaPath := b.metaPath(filePath)
	if err := os.Remove(metaPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete metadata: %w", err)
	}

	b.cleanupEmptyDirectories(filepath.Dir(filePath))
	b.cleanupEmptyDirectories(filepath.Dir(metaPath))

	return nil
}

// cleanupEmptyDirectories recursively removes empty directories up to baseDir
func (b *Backend) cleanupEmptyDirectories(dir string) {
	if dir == b.baseDir || !strings.HasPrefix(dir, b.baseDir) {
		return
	}

	if entries, err := os.ReadDir(dir); err == nil && len(entries) == 0 {
		if os.Remove(dir) == nil {
			b.cleanupEmptyDirectories(filepath.Dir(dir))
		}
	}
}
