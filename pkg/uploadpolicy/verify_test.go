package uploadpolicy

import (
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerify(t *testing.T) {
	signer := New(WithClock(fixedClock(issuedAt)))
	grant, err := signer.Sign("id", "secret", "uploads", "incoming/", 10)
	require.NoError(t, err)

	t.Run("Valid", func(t *testing.T) {
		doc, err := Verify(grant.Policy(), grant.Signature(), []byte("secret"), issuedAt.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, "uploads", doc.Bucket)
		assert.Equal(t, DefaultACL, doc.ACL)
		assert.Equal(t, "incoming/", doc.KeyPrefix)
		assert.NoError(t, doc.Authorize("uploads", DefaultACL, "incoming/a.txt"))
	})

	t.Run("WrongSecret", func(t *testing.T) {
		_, err := Verify(grant.Policy(), grant.Signature(), []byte("other"), issuedAt)
		assert.ErrorIs(t, err, ErrInvalidSignature)
		assert.True(t, IsAuthError(err))
	})

	t.Run("TamperedPolicy", func(t *testing.T) {
		other, err := signer.Sign("id", "secret", "uploads", "", 10)
		require.NoError(t, err)
		_, err = Verify(other.Policy(), grant.Signature(), []byte("secret"), issuedAt)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("Expired", func(t *testing.T) {
		_, err := Verify(grant.Policy(), grant.Signature(), []byte("secret"), issuedAt.Add(10*time.Minute))
		assert.ErrorIs(t, err, ErrExpired)
		assert.True(t, IsAuthError(err))
	})

	t.Run("NegativeWindowAlreadyExpired", func(t *testing.T) {
		expired, err := signer.Sign("id", "secret", "uploads", "", -1)
		require.NoError(t, err)
		_, err = Verify(expired.Policy(), expired.Signature(), []byte("secret"), issuedAt)
		assert.ErrorIs(t, err, ErrExpired)
	})

	t.Run("NoSecret", func(t *testing.T) {
		_, err := Verify(grant.Policy(), grant.Signature(), nil, issuedAt)
		assert.ErrorIs(t, err, ErrNoSecretKey)
		assert.False(t, IsAuthError(err))
	})

	t.Run("SignedGarbage", func(t *testing.T) {
		policy := base64.StdEncoding.EncodeToString([]byte(`{"expiration": "soon"}`))
		_, err := Verify(policy, sign([]byte("secret"), policy), []byte("secret"), issuedAt)
		assert.ErrorIs(t, err, ErrMalformedPolicy)
	})
}

func TestDocument_Authorize(t *testing.T) {
	doc := &Document{
		Expiration: issuedAt,
		Bucket:     "uploads",
		ACL:        DefaultACL,
		KeyPrefix:  "incoming/",
	}

	tests := []struct {
		name    string
		bucket  string
		acl     string
		key     string
		wantErr bool
	}{
		{"match", "uploads", DefaultACL, "incoming/file", false},
		{"prefix only", "uploads", DefaultACL, "incoming/", false},
		{"wrong bucket", "other", DefaultACL, "incoming/file", true},
		{"wrong acl", "uploads", "public-read", "incoming/file", true},
		{"outside prefix", "uploads", DefaultACL, "outgoing/file", true},
		{"empty key", "uploads", DefaultACL, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := doc.Authorize(tt.bucket, tt.acl, tt.key)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrConditionFailed))
			} else {
				assert.NoError(t, err)
			}
		})
	}

	t.Run("EmptyPrefixAllowsAnyKey", func(t *testing.T) {
		open := *doc
		open.KeyPrefix = ""
		assert.NoError(t, open.Authorize("uploads", DefaultACL, "anything/at/all"))
	})
}

func TestDecodeDocument_Malformed(t *testing.T) {
	b64 := func(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

	tests := map[string]string{
		"not base64":      "%%%",
		"not json":        b64("nope"),
		"bad expiration":  b64(`{"expiration": "2024-01-01","conditions": []}`),
		"two conditions":  b64(`{"expiration": "2024-01-01T00:10:00.000Z","conditions": [{"bucket": "b"},{"acl": "a"}]}`),
		"swapped order":   b64(`{"expiration": "2024-01-01T00:10:00.000Z","conditions": [{"acl": "a"},{"bucket": "b"},["starts-with", "$key", ""]]}`),
		"extra field":     b64(`{"expiration": "2024-01-01T00:10:00.000Z","conditions": [{"bucket": "b", "x": "y"},{"acl": "a"},["starts-with", "$key", ""]]}`),
		"wrong operator":  b64(`{"expiration": "2024-01-01T00:10:00.000Z","conditions": [{"bucket": "b"},{"acl": "a"},["eq", "$key", ""]]}`),
		"wrong variable":  b64(`{"expiration": "2024-01-01T00:10:00.000Z","conditions": [{"bucket": "b"},{"acl": "a"},["starts-with", "$acl", ""]]}`),
		"short key match": b64(`{"expiration": "2024-01-01T00:10:00.000Z","conditions": [{"bucket": "b"},{"acl": "a"},["starts-with", "$key"]]}`),
	}

	for name, policy := range tests {
		t.Run(name, func(t *testing.T) {
			doc, err := DecodeDocument(policy)
			assert.Nil(t, doc)
			assert.ErrorIs(t, err, ErrMalformedPolicy)
		})
	}
}

func TestDocument_EncodeDecodeRoundTrip(t *testing.T) {
	doc := Document{
		Expiration: time.Date(2030, 6, 15, 12, 30, 45, 250*int(time.Millisecond), time.UTC),
		Bucket:     "media",
		ACL:        "private",
		KeyPrefix:  "users/42/",
	}

	decoded, err := DecodeDocument(base64.StdEncoding.EncodeToString(doc.Encode()))
	require.NoError(t, err)
	assert.True(t, doc.Expiration.Equal(decoded.Expiration))
	assert.Equal(t, doc.Bucket, decoded.Bucket)
	assert.Equal(t, doc.ACL, decoded.ACL)
	assert.Equal(t, doc.KeyPrefix, decoded.KeyPrefix)
	assert.Equal(t, doc.Encode(), decoded.Encode())
}
