package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/render"
	"github.com/tendant/upload-policy/pkg/serviceerr"
)

// CreateGrantRequest is the request body for issuing a grant
type CreateGrantRequest struct {
	Bucket           string `json:"bucket"`
	Prefix           string `json:"prefix"`
	ExpiresInMinutes int    `json:"expires_in_minutes"`
}

// GrantResponse is the response body for an issued grant
type GrantResponse struct {
	AccessKeyID string    `json:"access_key_id"`
	Policy      string    `json:"policy"`
	Signature   string    `json:"signature"`
	Expiration  time.Time `json:"expiration"`
	Bucket      string    `json:"bucket"`
	Prefix      string    `json:"prefix"`
	ACL         string    `json:"acl"`
}

// CreateGrant signs a policy for the requested bucket and prefix with the issuer credential
func (h *Handlers) CreateGrant(w http.ResponseWriter, r *http.Request) {
	var req CreateGrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		serviceerr.Write(w, r, serviceerr.New(serviceerr.InvalidArgument, "invalid request body"))
		return
	}

	if req.Bucket == "" {
		serviceerr.Write(w, r, serviceerr.New(serviceerr.InvalidArgument, "bucket is required"))
		return
	}
	if req.ExpiresInMinutes <= 0 {
		serviceerr.Write(w, r, serviceerr.New(serviceerr.InvalidArgument, "expires_in_minutes must be positive"))
		return
	}
	if h.maxGrantMinutes > 0 && req.ExpiresInMinutes > h.maxGrantMinutes {
		serviceerr.Write(w, r, serviceerr.New(serviceerr.InvalidArgument,
			fmt.Sprintf("expires_in_minutes must not exceed %d", h.maxGrantMinutes)))
		return
	}

	grant, err := h.signer.Sign(h.issuer.AccessKeyID, h.issuer.SecretKey, req.Bucket, req.Prefix, req.ExpiresInMinutes)
	if err != nil {
		h.logger.Error("Failed to sign upload policy", "bucket", req.Bucket, "err", err)
		serviceerr.Write(w, r, serviceerr.Wrap(serviceerr.InternalError, "unable to generate upload policy", err))
		return
	}

	h.logger.Info("Issued upload grant",
		"bucket", req.Bucket,
		"prefix", req.Prefix,
		"access_key_id", grant.AccessKeyID(),
		"expiration", grant.Expiration())

	doc := grant.Document()
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, GrantResponse{
		AccessKeyID: grant.AccessKeyID(),
		Policy:      grant.Policy(),
		Signature:   grant.Signature(),
		Expiration:  grant.Expiration(),
		Bucket:      doc.Bucket,
		Prefix:      doc.KeyPrefix,
		ACL:         doc.ACL,
	})
}
