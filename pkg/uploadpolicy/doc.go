// Package uploadpolicy builds and verifies signed upload policies.
//
// An upload policy grants a third party time-limited write access to one bucket,
// restricted to object keys under a prefix, without handing over the secret key.
// The policy document is base64 encoded and signed with HMAC-SHA1 using the
// caller's secret key. The relying party looks up the same secret by access key ID
// and checks the signature, the expiration and the conditions before accepting
// the upload.
//
// # Document Shape
//
// The document is encoded in a fixed canonical form:
//
//	{"expiration": "2024-01-01T00:10:00.000Z","conditions": [{"bucket": "uploads"},{"acl": "ec2-bundle-read"},["starts-with", "$key", "incoming/"]]}
//
// # Basic Usage
//
// Issuer: build a grant
//
//	grant, err := uploadpolicy.NewGrant(accessKeyID, secretKey, "uploads", "incoming/", 10)
//	fields := grant.FormFields("incoming/report.pdf")
//
// Relying party: verify an upload
//
//	doc, err := uploadpolicy.Verify(policy, signature, secret, time.Now())
//	if err != nil {
//	    // Invalid signature, malformed policy or expired
//	}
//	err = doc.Authorize(bucket, acl, key)
//
// # Configuration Options
//
//	signer := uploadpolicy.New(
//	    uploadpolicy.WithACL("private"),
//	    uploadpolicy.WithClock(clock.Now),
//	)
package uploadpolicy
