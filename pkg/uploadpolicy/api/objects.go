package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/tendant/upload-policy/pkg/serviceerr"
	"github.com/tendant/upload-policy/pkg/uploadpolicy/storage"
)

// GetObject streams a stored object
func (h *Handlers) GetObject(w http.ResponseWriter, r *http.Request) {
	bucket := chi.URLParam(r, "bucket")
	key := chi.URLParam(r, "*")

	info, ok := h.head(w, r, bucket, key)
	if !ok {
		return
	}

	body, err := h.store.Get(r.Context(), bucket, key)
	if err != nil {
		h.writeStoreError(w, r, bucket, key, err)
		return
	}
	defer body.Close()

	writeObjectHeaders(w, info)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.Warn("Failed to stream object", "bucket", bucket, "key", key, "err", err)
	}
}

// HeadObject returns the object headers without content
func (h *Handlers) HeadObject(w http.ResponseWriter, r *http.Request) {
	bucket := chi.URLParam(r, "bucket")
	key := chi.URLParam(r, "*")

	info, ok := h.head(w, r, bucket, key)
	if !ok {
		return
	}

	writeObjectHeaders(w, info)
	w.WriteHeader(http.StatusOK)
}

func (h *Handlers) head(w http.ResponseWriter, r *http.Request, bucket, key string) (*storage.ObjectInfo, bool) {
	if key == "" {
		serviceerr.Write(w, r, serviceerr.New(serviceerr.InvalidArgument, "object key is required"))
		return nil, false
	}

	info, err := h.store.Head(r.Context(), bucket, key)
	if err != nil {
		h.writeStoreError(w, r, bucket, key, err)
		return nil, false
	}
	return info, true
}

func (h *Handlers) writeStoreError(w http.ResponseWriter, r *http.Request, bucket, key string, err error) {
	if errors.Is(err, storage.ErrObjectNotFound) {
		serviceerr.Write(w, r, serviceerr.New(serviceerr.NoSuchKey, "the specified key does not exist"))
		return
	}
	h.logger.Error("Failed to read object", "bucket", bucket, "key", key, "err", err)
	if serviceerr.CodeOf(err) != serviceerr.Unknown {
		serviceerr.Write(w, r, err)
		return
	}
	serviceerr.Write(w, r, serviceerr.Wrap(serviceerr.InternalError, "failed to read object", err))
}

func writeObjectHeaders(w http.ResponseWriter, info *storage.ObjectInfo) {
	w.Header().Set("Content-Type", info.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	if info.ETag != "" {
		w.Header().Set("ETag", `"`+info.ETag+`"`)
	}
	if !info.LastModified.IsZero() {
		w.Header().Set("Last-Modified", info.LastModified.UTC().Format(http.TimeFormat))
	}
	if info.VersionID != "" {
		w.Header().Set("X-Version-Id", info.VersionID)
	}
	for k, v := range info.Metadata {
		w.Header().Set("X-Amz-Meta-"+k, v)
	}
}
