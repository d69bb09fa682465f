package uploadpolicy

import (
	"crypto/hmac"
	"time"
)

// Verify checks that signature is the HMAC of policy under secretKey and that
// the policy has not expired at now. The decoded document is returned so the
// caller can enforce its conditions with Authorize.
func Verify(policy, signature string, secretKey []byte, now time.Time) (*Document, error) {
	if len(secretKey) == 0 {
		return nil, ErrNoSecretKey
	}

	// Compare signatures using constant-time comparison to prevent timing attacks
	expected := sign(secretKey, policy)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return nil, ErrInvalidSignature
	}

	doc, err := DecodeDocument(policy)
	if err != nil {
		return nil, err
	}

	if !now.Before(doc.Expiration) {
		return nil, ErrExpired
	}

	return doc, nil
}
