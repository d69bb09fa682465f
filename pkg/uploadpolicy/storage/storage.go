package storage

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"hash"
	"io"
	"time"
)

// ErrObjectNotFound is returned when an object does not exist
var ErrObjectNotFound = errors.New("storage: object not found")

// BlobStore stores objects uploaded under a policy grant
type BlobStore interface {
	// Put stores the object and reports what was stored
	Put(ctx context.Context, in PutInput) (*PutObjectResult, error)

	// Get returns the object content
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)

	// Head returns object metadata without content
	Head(ctx context.Context, bucket, key string) (*ObjectInfo, error)

	// Delete removes the object
	Delete(ctx context.Context, bucket, key string) error
}

// PutInput describes an object to store
type PutInput struct {
	Bucket      string
	Key         string
	ACL         string
	ContentType string
	Metadata    map[string]string
	Body        io.Reader
}

// PutObjectResult describes a stored object
type PutObjectResult struct {
	Bucket           string     `json:"bucket"`
	Key              string     `json:"key"`
	VersionID        string     `json:"version_id,omitempty"`
	ETag             string     `json:"etag"`
	ContentMD5       string     `json:"content_md5,omitempty"`
	Size             int64      `json:"size"`
	ExpirationTime   *time.Time `json:"expiration_time,omitempty"`
	ExpirationRuleID string     `json:"expiration_rule_id,omitempty"`

	ServerSideEncryption
}

// ServerSideEncryption reports how a stored object is encrypted at rest
type ServerSideEncryption struct {
	SSEAlgorithm         string `json:"sse_algorithm,omitempty"`
	SSEKMSKeyID          string `json:"sse_kms_key_id,omitempty"`
	SSECustomerAlgorithm string `json:"sse_customer_algorithm,omitempty"`
	SSECustomerKeyMD5    string `json:"sse_customer_key_md5,omitempty"`
}

// ObjectInfo contains metadata about a stored object
type ObjectInfo struct {
	Bucket       string            `json:"bucket"`
	Key          string            `json:"key"`
	Size         int64             `json:"size"`
	ETag         string            `json:"etag"`
	ContentType  string            `json:"content_type"`
	ACL          string            `json:"acl,omitempty"`
	VersionID    string            `json:"version_id,omitempty"`
	LastModified time.Time         `json:"last_modified"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Digest counts and hashes bytes read through it.
// Backends use it to fill ETag, ContentMD5 and Size.
type Digest struct {
	r    io.Reader
	md5  hash.Hash
	size int64
}

// NewDigest wraps r
func NewDigest(r io.Reader) *Digest {
	return &Digest{r: r, md5: md5.New()}
}

func (d *Digest) Read(p []byte) (int, error) {
	n, err := d.r.Read(p)
	if n > 0 {
		d.md5.Write(p[:n])
		d.size += int64(n)
	}
	return n, err
}

// Size returns the number of bytes read so far
func (d *Digest) Size() int64 {
	return d.size
}

// ETag returns the hex MD5 of the bytes read so far
func (d *Digest) ETag() string {
	return hex.EncodeToString(d.md5.Sum(nil))
}

// ContentMD5 returns the base64 MD5 of the bytes read so far
func (d *Digest) ContentMD5() string {
	return base64.StdEncoding.EncodeToString(d.md5.Sum(nil))
}
