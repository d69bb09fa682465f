package uploadpolicy

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ExpirationFormat is the alternate ISO-8601 layout used for the policy expiration.
// The time is always rendered in UTC with a fixed millisecond field.
const ExpirationFormat = "2006-01-02T15:04:05.000Z"

// DefaultACL is the access-control label applied to objects created under a grant
const DefaultACL = "ec2-bundle-read"

// Condition operators
const (
	MatchExact  = "eq"
	MatchPrefix = "starts-with"
)

// Condition is one clause of a policy document
type Condition struct {
	Op    string // MatchExact or MatchPrefix
	Field string // "bucket", "acl" or "$key"
	Value string
}

// Document is the authorization document signed into a grant
type Document struct {
	Expiration time.Time
	Bucket     string
	ACL        string
	KeyPrefix  string
}

// Conditions returns the document conditions in their canonical order:
// bucket exact match, acl exact match, key prefix match.
func (d *Document) Conditions() []Condition {
	return []Condition{
		{Op: MatchExact, Field: "bucket", Value: d.Bucket},
		{Op: MatchExact, Field: "acl", Value: d.ACL},
		{Op: MatchPrefix, Field: "$key", Value: d.KeyPrefix},
	}
}

// Encode returns the canonical textual form of the document.
// Identical documents always encode to identical bytes.
func (d *Document) Encode() []byte {
	var b bytes.Buffer
	b.WriteString(`{"expiration": "`)
	b.WriteString(d.Expiration.UTC().Format(ExpirationFormat))
	b.WriteString(`","conditions": [`)
	b.WriteString(`{"bucket": "`)
	b.WriteString(escape(d.Bucket))
	b.WriteString(`"},`)
	b.WriteString(`{"acl": "`)
	b.WriteString(escape(d.ACL))
	b.WriteString(`"},`)
	b.WriteString(`["starts-with", "$key", "`)
	b.WriteString(escape(d.KeyPrefix))
	b.WriteString(`"]`)
	b.WriteString(`]}`)
	return b.Bytes()
}

// Authorize checks an upload against the document conditions.
// Expiration is checked by Verify, not here.
func (d *Document) Authorize(bucket, acl, key string) error {
	if bucket != d.Bucket {
		return fmt.Errorf("%w: bucket %q does not match %q", ErrConditionFailed, bucket, d.Bucket)
	}
	if acl != d.ACL {
		return fmt.Errorf("%w: acl %q does not match %q", ErrConditionFailed, acl, d.ACL)
	}
	if !strings.HasPrefix(key, d.KeyPrefix) {
		return fmt.Errorf("%w: key %q does not start with %q", ErrConditionFailed, key, d.KeyPrefix)
	}
	return nil
}

// DecodeDocument decodes a base64 policy back into a Document.
// Only the canonical three-condition shape is accepted.
func DecodeDocument(policy string) (*Document, error) {
	raw, err := base64.StdEncoding.DecodeString(policy)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPolicy, err)
	}

	var wire struct {
		Expiration string            `json:"expiration"`
		Conditions []json.RawMessage `json:"conditions"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPolicy, err)
	}

	expiration, err := time.Parse(ExpirationFormat, wire.Expiration)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid expiration: %v", ErrMalformedPolicy, err)
	}

	if len(wire.Conditions) != 3 {
		return nil, fmt.Errorf("%w: expected 3 conditions, got %d", ErrMalformedPolicy, len(wire.Conditions))
	}

	bucket, err := exactCondition(wire.Conditions[0], "bucket")
	if err != nil {
		return nil, err
	}
	acl, err := exactCondition(wire.Conditions[1], "acl")
	if err != nil {
		return nil, err
	}

	var prefix []string
	if err := json.Unmarshal(wire.Conditions[2], &prefix); err != nil {
		return nil, fmt.Errorf("%w: key condition: %v", ErrMalformedPolicy, err)
	}
	if len(prefix) != 3 || prefix[0] != MatchPrefix || prefix[1] != "$key" {
		return nil, fmt.Errorf("%w: key condition must be [\"starts-with\", \"$key\", prefix]", ErrMalformedPolicy)
	}

	return &Document{
		Expiration: expiration,
		Bucket:     bucket,
		ACL:        acl,
		KeyPrefix:  prefix[2],
	}, nil
}

func exactCondition(raw json.RawMessage, field string) (string, error) {
	var cond map[string]string
	if err := json.Unmarshal(raw, &cond); err != nil {
		return "", fmt.Errorf("%w: %s condition: %v", ErrMalformedPolicy, field, err)
	}
	value, ok := cond[field]
	if !ok || len(cond) != 1 {
		return "", fmt.Errorf("%w: expected {%q: value} condition", ErrMalformedPolicy, field)
	}
	return value, nil
}

// escape renders s as the inside of a JSON string literal.
// HTML characters are left as is so plain values appear verbatim.
func escape(s string) string {
	var b bytes.Buffer
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	// Encoding a string cannot fail
	_ = enc.Encode(s)
	out := bytes.TrimSuffix(b.Bytes(), []byte("\n"))
	return string(out[1 : len(out)-1])
}
