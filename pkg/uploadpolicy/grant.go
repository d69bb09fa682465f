package uploadpolicy

import "time"

// Form field names an uploader sends alongside the file
const (
	FieldKey         = "key"
	FieldAccessKeyID = "AWSAccessKeyId"
	FieldACL         = "acl"
	FieldPolicy      = "policy"
	FieldSignature   = "signature"
	FieldFile        = "file"
)

// Grant is an encoded policy document and its signature.
// It is immutable once built.
type Grant struct {
	accessKeyID string
	document    Document
	policy      string
	signature   string
}

// Policy returns the base64 policy document
func (g *Grant) Policy() string {
	return g.policy
}

// Signature returns the base64 HMAC-SHA1 signature of Policy
func (g *Grant) Signature() string {
	return g.signature
}

// AccessKeyID returns the access key ID the relying party uses to look up the secret
func (g *Grant) AccessKeyID() string {
	return g.accessKeyID
}

// Expiration returns the time after which the grant can no longer be used
func (g *Grant) Expiration() time.Time {
	return g.document.Expiration
}

// Document returns a copy of the signed document
func (g *Grant) Document() Document {
	return g.document
}

// FormFields returns the form fields for uploading key under this grant
func (g *Grant) FormFields(key string) map[string]string {
	return map[string]string{
		FieldKey:         key,
		FieldAccessKeyID: g.accessKeyID,
		FieldACL:         g.document.ACL,
		FieldPolicy:      g.policy,
		FieldSignature:   g.signature,
	}
}
