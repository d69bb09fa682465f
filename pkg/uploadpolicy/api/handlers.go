package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth"
	"github.com/go-chi/render"
	"github.com/tendant/upload-policy/pkg/uploadpolicy"
	"github.com/tendant/upload-policy/pkg/uploadpolicy/keystore"
	"github.com/tendant/upload-policy/pkg/uploadpolicy/storage"
)

// Config wires the handlers to their collaborators
type Config struct {
	// Signer builds grants for POST /grants; defaults to uploadpolicy.New()
	Signer *uploadpolicy.Signer

	// Issuer is the credential grants are signed with. Without it POST /grants is not routed.
	Issuer *keystore.Credential

	// Keys resolves the AWSAccessKeyId form field of uploads
	Keys keystore.Store

	// Store receives uploaded objects
	Store storage.BlobStore

	// MaxUploadBytes limits the upload request body; 0 means unlimited
	MaxUploadBytes int64

	// MaxGrantMinutes caps expires_in_minutes for issued grants; 0 means uncapped
	MaxGrantMinutes int

	// TokenAuth protects grant issuance and object reads when set
	TokenAuth *jwtauth.JWTAuth

	Logger *slog.Logger
	Now    func() time.Time
}

// Handlers serves grant issuance and policy-authorized uploads
type Handlers struct {
	signer          *uploadpolicy.Signer
	issuer          *keystore.Credential
	keys            keystore.Store
	store           storage.BlobStore
	maxUploadBytes  int64
	maxGrantMinutes int
	tokenAuth       *jwtauth.JWTAuth
	logger          *slog.Logger
	now             func() time.Time
}

// NewHandlers creates the handlers, filling defaults for optional fields
func NewHandlers(cfg Config) *Handlers {
	h := &Handlers{
		signer:          cfg.Signer,
		issuer:          cfg.Issuer,
		keys:            cfg.Keys,
		store:           cfg.Store,
		maxUploadBytes:  cfg.MaxUploadBytes,
		maxGrantMinutes: cfg.MaxGrantMinutes,
		tokenAuth:       cfg.TokenAuth,
		logger:          cfg.Logger,
		now:             cfg.Now,
	}
	if h.signer == nil {
		h.signer = uploadpolicy.New()
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

// Routes returns the routes for grants and buckets
func (h *Handlers) Routes() chi.Router {
	r := chi.NewRouter()

	// Uploads authenticate with the signed policy, never with a token
	r.Post("/buckets/{bucket}", h.Upload)

	r.Group(func(r chi.Router) {
		if h.tokenAuth != nil {
			r.Use(jwtauth.Verifier(h.tokenAuth))
			r.Use(jwtauth.Authenticator)
		}

		if h.issuer != nil {
			r.Post("/grants", h.CreateGrant)
		}
		r.Get("/buckets/{bucket}/objects/*", h.GetObject)
		r.Head("/buckets/{bucket}/objects/*", h.HeadObject)
	})

	return r
}

// Health reports liveness
func Health(w http.ResponseWriter, r *http.Request) {
	render.PlainText(w, r, http.StatusText(http.StatusOK))
}
