package uploadpolicy

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"strings"
	"time"
	"unicode/utf8"
)

// Signer builds signed upload grants. A Signer holds no per-call state
// and is safe for concurrent use.
type Signer struct {
	now func() time.Time
	acl string
}

var defaultSigner = New()

// New creates a new Signer with the given options
func New(opts ...Option) *Signer {
	s := &Signer{
		now: time.Now,
		acl: DefaultACL,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// NewGrant builds a grant with the default signer.
//
// Example:
//
//	grant, err := uploadpolicy.NewGrant(accessKeyID, secretKey, "uploads", "incoming/", 10)
//	// grant.Policy() and grant.Signature() are handed to the uploader
func NewGrant(accessKeyID, secretKey, bucket, prefix string, expireInMinutes int) (*Grant, error) {
	return defaultSigner.Sign(accessKeyID, secretKey, bucket, prefix, expireInMinutes)
}

// ACL returns the access-control label this signer embeds in policies
func (s *Signer) ACL() string {
	return s.acl
}

// Sign builds the policy document for bucket and prefix, expiring expireInMinutes
// from now, and signs it with secretKey. A zero or negative window is encoded as
// is and yields an already expired grant. Bucket and prefix must be valid UTF-8
// so they survive the JSON policy unchanged.
//
// Either a complete grant or a *GrantError is returned.
func (s *Signer) Sign(accessKeyID, secretKey, bucket, prefix string, expireInMinutes int) (*Grant, error) {
	if secretKey == "" {
		return nil, &GrantError{Err: ErrNoSecretKey}
	}
	if bucket == "" {
		return nil, &GrantError{Err: ErrNoBucket}
	}
	if !utf8.ValidString(bucket) || !utf8.ValidString(prefix) {
		return nil, &GrantError{Err: ErrInvalidUTF8}
	}

	// Whole seconds keep long windows clear of time.Duration overflow
	now := s.now()
	doc := Document{
		Expiration: time.Unix(now.Unix()+int64(expireInMinutes)*60, int64(now.Nanosecond())).UTC(),
		Bucket:     bucket,
		ACL:        s.acl,
		KeyPrefix:  prefix,
	}

	policy := encode(doc.Encode())
	signature := sign([]byte(secretKey), policy)

	return &Grant{
		accessKeyID: accessKeyID,
		document:    doc,
		policy:      policy,
		signature:   signature,
	}, nil
}

// sign computes the base64 HMAC-SHA1 of the encoded policy
func sign(secretKey []byte, policy string) string {
	h := hmac.New(sha1.New, secretKey)
	h.Write([]byte(policy))
	return encode(h.Sum(nil))
}

// encode base64-encodes data with all whitespace removed
func encode(data []byte) string {
	return strings.Join(strings.Fields(base64.StdEncoding.EncodeToString(data)), "")
}
