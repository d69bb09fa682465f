package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/jwtauth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/upload-policy/pkg/serviceerr"
	"github.com/tendant/upload-policy/pkg/uploadpolicy"
	"github.com/tendant/upload-policy/pkg/uploadpolicy/keystore"
	keystorememory "github.com/tendant/upload-policy/pkg/uploadpolicy/keystore/memory"
	"github.com/tendant/upload-policy/pkg/uploadpolicy/storage"
	memorystorage "github.com/tendant/upload-policy/pkg/uploadpolicy/storage/memory"
)

var issuedAt = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

var issuer = keystore.Credential{AccessKeyID: "AKIDEXAMPLE", SecretKey: "secret"}

type testEnv struct {
	handlers *Handlers
	router   http.Handler
	store    *memorystorage.Backend
	now      time.Time
}

// setupHandlersTest creates handlers backed by in-memory stores with a fixed clock
func setupHandlersTest(t *testing.T, modify func(*Config)) *testEnv {
	t.Helper()
	env := &testEnv{store: memorystorage.New(), now: issuedAt.Add(time.Minute)}

	cfg := Config{
		Signer: uploadpolicy.New(uploadpolicy.WithClock(func() time.Time { return issuedAt })),
		Issuer: &issuer,
		Keys:   keystorememory.New(issuer),
		Store:  env.store,
		Now:    func() time.Time { return env.now },
	}
	if modify != nil {
		modify(&cfg)
	}

	env.handlers = NewHandlers(cfg)
	env.router = env.handlers.Routes()
	return env
}

func (e *testEnv) serve(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func grantRequest(t *testing.T, body CreateGrantRequest) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/grants", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// uploadRequest builds a multipart upload with fields first and the file last
func uploadRequest(t *testing.T, bucket string, fields map[string]string, filename, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for name, value := range fields {
		require.NoError(t, mw.WriteField(name, value))
	}
	if filename != "" {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
		h.Set("Content-Type", "text/plain")
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/buckets/"+bucket, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) *serviceerr.Error {
	t.Helper()
	return serviceerr.Decode(w.Code, w.Body.Bytes())
}

func signFields(t *testing.T, bucket, prefix, key string) map[string]string {
	t.Helper()
	signer := uploadpolicy.New(uploadpolicy.WithClock(func() time.Time { return issuedAt }))
	grant, err := signer.Sign(issuer.AccessKeyID, issuer.SecretKey, bucket, prefix, 10)
	require.NoError(t, err)
	return grant.FormFields(key)
}

func TestCreateGrant_Success(t *testing.T) {
	env := setupHandlersTest(t, nil)

	w := env.serve(grantRequest(t, CreateGrantRequest{Bucket: "uploads", Prefix: "incoming/", ExpiresInMinutes: 10}))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp GrantResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	assert.Equal(t, "AKIDEXAMPLE", resp.AccessKeyID)
	assert.Equal(t, "eyJleHBpcmF0aW9uIjogIjIwMjQtMDEtMDFUMDA6MTA6MDAuMDAwWiIsImNvbmRpdGlvbnMiOiBbeyJidWNrZXQiOiAidXBsb2FkcyJ9LHsiYWNsIjogImVjMi1idW5kbGUtcmVhZCJ9LFsic3RhcnRzLXdpdGgiLCAiJGtleSIsICJpbmNvbWluZy8iXV19", resp.Policy)
	assert.Equal(t, "vfTyoXzZCx4WoB/qIylygu3oq+M=", resp.Signature)
	assert.True(t, resp.Expiration.Equal(issuedAt.Add(10*time.Minute)))
	assert.Equal(t, "uploads", resp.Bucket)
	assert.Equal(t, "incoming/", resp.Prefix)
	assert.Equal(t, uploadpolicy.DefaultACL, resp.ACL)
}

func TestCreateGrant_Validation(t *testing.T) {
	env := setupHandlersTest(t, func(cfg *Config) { cfg.MaxGrantMinutes = 60 })

	tests := []struct {
		name string
		req  CreateGrantRequest
	}{
		{"missing bucket", CreateGrantRequest{Prefix: "p/", ExpiresInMinutes: 10}},
		{"zero window", CreateGrantRequest{Bucket: "uploads", ExpiresInMinutes: 0}},
		{"negative window", CreateGrantRequest{Bucket: "uploads", ExpiresInMinutes: -5}},
		{"window over cap", CreateGrantRequest{Bucket: "uploads", ExpiresInMinutes: 61}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.serve(grantRequest(t, tt.req))
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, serviceerr.InvalidArgument, decodeError(t, w).Code)
		})
	}

	t.Run("invalid json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/grants", strings.NewReader("{"))
		w := env.serve(req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestCreateGrant_NotRoutedWithoutIssuer(t *testing.T) {
	env := setupHandlersTest(t, func(cfg *Config) { cfg.Issuer = nil })

	w := env.serve(grantRequest(t, CreateGrantRequest{Bucket: "uploads", ExpiresInMinutes: 10}))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateGrant_TokenAuth(t *testing.T) {
	tokenAuth := jwtauth.New("HS256", []byte("jwt-secret"), nil)
	env := setupHandlersTest(t, func(cfg *Config) { cfg.TokenAuth = tokenAuth })

	t.Run("NoToken", func(t *testing.T) {
		w := env.serve(grantRequest(t, CreateGrantRequest{Bucket: "uploads", ExpiresInMinutes: 10}))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("ValidToken", func(t *testing.T) {
		_, token, err := tokenAuth.Encode(map[string]interface{}{"sub": "issuer-service"})
		require.NoError(t, err)

		req := grantRequest(t, CreateGrantRequest{Bucket: "uploads", ExpiresInMinutes: 10})
		req.Header.Set("Authorization", "Bearer "+token)
		w := env.serve(req)
		assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	})

	t.Run("UploadNeedsNoToken", func(t *testing.T) {
		fields := signFields(t, "uploads", "incoming/", "incoming/a.txt")
		w := env.serve(uploadRequest(t, "uploads", fields, "a.txt", "hello fs"))
		assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	})
}

func TestUpload_RoundTrip(t *testing.T) {
	env := setupHandlersTest(t, nil)

	fields := signFields(t, "uploads", "incoming/", "incoming/a.txt")
	fields["x-amz-meta-origin"] = "test"

	w := env.serve(uploadRequest(t, "uploads", fields, "a.txt", "hello fs"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var result storage.PutObjectResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, "uploads", result.Bucket)
	assert.Equal(t, "incoming/a.txt", result.Key)
	assert.Equal(t, int64(8), result.Size)
	assert.Equal(t, "40955b12f07216324dd296405af92343", result.ETag)
	assert.Equal(t, `"40955b12f07216324dd296405af92343"`, w.Header().Get("ETag"))

	info, err := env.store.Head(context.Background(), "uploads", "incoming/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "text/plain", info.ContentType)
	assert.Equal(t, uploadpolicy.DefaultACL, info.ACL)
	assert.Equal(t, "test", info.Metadata["origin"])

	t.Run("Get", func(t *testing.T) {
		w := env.serve(httptest.NewRequest(http.MethodGet, "/buckets/uploads/objects/incoming/a.txt", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "hello fs", w.Body.String())
		assert.Equal(t, "text/plain", w.Header().Get("Content-Type"))
		assert.Equal(t, "test", w.Header().Get("X-Amz-Meta-Origin"))
	})

	t.Run("Head", func(t *testing.T) {
		w := env.serve(httptest.NewRequest(http.MethodHead, "/buckets/uploads/objects/incoming/a.txt", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "8", w.Header().Get("Content-Length"))
		assert.Empty(t, w.Body.String())
	})

	t.Run("GetMissing", func(t *testing.T) {
		w := env.serve(httptest.NewRequest(http.MethodGet, "/buckets/uploads/objects/incoming/missing.txt", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, serviceerr.NoSuchKey, decodeError(t, w).Code)
	})
}

func TestUpload_FilenameVariable(t *testing.T) {
	env := setupHandlersTest(t, nil)

	fields := signFields(t, "uploads", "incoming/", "incoming/${filename}")
	w := env.serve(uploadRequest(t, "uploads", fields, "report.txt", "data"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	_, err := env.store.Head(context.Background(), "uploads", "incoming/report.txt")
	assert.NoError(t, err)
}

func TestUpload_Rejected(t *testing.T) {
	tests := []struct {
		name       string
		bucket     string
		fields     func(t *testing.T) map[string]string
		now        time.Time
		wantStatus int
		wantCode   serviceerr.Code
		wantWire   string
	}{
		{
			name:   "bad signature",
			bucket: "uploads",
			fields: func(t *testing.T) map[string]string {
				f := signFields(t, "uploads", "incoming/", "incoming/a.txt")
				f[uploadpolicy.FieldSignature] = "AAAAAAAAAAAAAAAAAAAAAAAAAAA="
				return f
			},
			wantStatus: http.StatusForbidden,
			wantCode:   serviceerr.SignatureDoesNotMatch,
		},
		{
			name:   "policy swapped",
			bucket: "uploads",
			fields: func(t *testing.T) map[string]string {
				f := signFields(t, "uploads", "incoming/", "incoming/a.txt")
				other := signFields(t, "uploads", "", "incoming/a.txt")
				f[uploadpolicy.FieldPolicy] = other[uploadpolicy.FieldPolicy]
				return f
			},
			wantStatus: http.StatusForbidden,
			wantCode:   serviceerr.SignatureDoesNotMatch,
		},
		{
			name:   "expired",
			bucket: "uploads",
			fields: func(t *testing.T) map[string]string {
				return signFields(t, "uploads", "incoming/", "incoming/a.txt")
			},
			now:        issuedAt.Add(10 * time.Minute),
			wantStatus: http.StatusForbidden,
			wantCode:   serviceerr.ExpiredToken,
		},
		{
			name:   "key outside prefix",
			bucket: "uploads",
			fields: func(t *testing.T) map[string]string {
				return signFields(t, "uploads", "incoming/", "outgoing/a.txt")
			},
			wantStatus: http.StatusForbidden,
			wantCode:   serviceerr.AccessDenied,
		},
		{
			name:   "other bucket",
			bucket: "private",
			fields: func(t *testing.T) map[string]string {
				return signFields(t, "uploads", "incoming/", "incoming/a.txt")
			},
			wantStatus: http.StatusForbidden,
			wantCode:   serviceerr.AccessDenied,
		},
		{
			name:   "acl changed",
			bucket: "uploads",
			fields: func(t *testing.T) map[string]string {
				f := signFields(t, "uploads", "incoming/", "incoming/a.txt")
				f[uploadpolicy.FieldACL] = "public-read"
				return f
			},
			wantStatus: http.StatusForbidden,
			wantCode:   serviceerr.AccessDenied,
		},
		{
			name:   "unknown access key",
			bucket: "uploads",
			fields: func(t *testing.T) map[string]string {
				f := signFields(t, "uploads", "incoming/", "incoming/a.txt")
				f[uploadpolicy.FieldAccessKeyID] = "AKIDUNKNOWN"
				return f
			},
			wantStatus: http.StatusForbidden,
			wantCode:   serviceerr.AccessDenied,
			wantWire:   "InvalidAccessKeyId",
		},
		{
			name:   "missing policy",
			bucket: "uploads",
			fields: func(t *testing.T) map[string]string {
				f := signFields(t, "uploads", "incoming/", "incoming/a.txt")
				delete(f, uploadpolicy.FieldPolicy)
				return f
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   serviceerr.InvalidArgument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupHandlersTest(t, nil)
			if !tt.now.IsZero() {
				env.now = tt.now
			}

			w := env.serve(uploadRequest(t, tt.bucket, tt.fields(t), "a.txt", "hello fs"))
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())

			e := decodeError(t, w)
			assert.Equal(t, tt.wantCode, e.Code)
			if tt.wantWire != "" {
				assert.Equal(t, tt.wantWire, e.WireCode)
			}
			assert.NotEmpty(t, e.RequestID)

			_, err := env.store.Head(context.Background(), tt.bucket, "incoming/a.txt")
			assert.ErrorIs(t, err, storage.ErrObjectNotFound)
		})
	}
}

func TestUpload_MalformedRequests(t *testing.T) {
	t.Run("NotMultipart", func(t *testing.T) {
		env := setupHandlersTest(t, nil)
		req := httptest.NewRequest(http.MethodPost, "/buckets/uploads", strings.NewReader("key=a"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		w := env.serve(req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		e := decodeError(t, w)
		assert.Equal(t, serviceerr.InvalidPolicyDocument, e.Code)
		assert.Equal(t, "MalformedPOSTRequest", e.WireCode)
	})

	t.Run("NoFile", func(t *testing.T) {
		env := setupHandlersTest(t, nil)
		fields := signFields(t, "uploads", "incoming/", "incoming/a.txt")

		w := env.serve(uploadRequest(t, "uploads", fields, "", ""))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, serviceerr.InvalidArgument, decodeError(t, w).Code)
	})

	t.Run("TooLarge", func(t *testing.T) {
		env := setupHandlersTest(t, func(cfg *Config) { cfg.MaxUploadBytes = 2048 })
		fields := signFields(t, "uploads", "incoming/", "incoming/a.txt")

		w := env.serve(uploadRequest(t, "uploads", fields, "a.txt", strings.Repeat("x", 8192)))
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code, w.Body.String())
		assert.Equal(t, serviceerr.EntityTooLarge, decodeError(t, w).Code)
	})
}

func TestHealth(t *testing.T) {
	w := httptest.NewRecorder()
	Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
}
