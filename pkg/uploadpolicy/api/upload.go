package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/tendant/upload-policy/pkg/serviceerr"
	"github.com/tendant/upload-policy/pkg/uploadpolicy"
	"github.com/tendant/upload-policy/pkg/uploadpolicy/keystore"
	"github.com/tendant/upload-policy/pkg/uploadpolicy/storage"
)

// maxFieldBytes bounds each non-file form field
const maxFieldBytes = 64 << 10

// filenameVariable in the key field is replaced by the uploaded file name
const filenameVariable = "${filename}"

// Upload handles a multipart form upload authorized by a signed policy.
// Fields after the file part are ignored, so the file must come last.
//
// Form fields: key, AWSAccessKeyId, acl, policy, signature, file
func (h *Handlers) Upload(w http.ResponseWriter, r *http.Request) {
	bucket := chi.URLParam(r, "bucket")

	if h.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	}

	mr, err := r.MultipartReader()
	if err != nil {
		serviceerr.Write(w, r, &serviceerr.Error{
			Code:     serviceerr.InvalidPolicyDocument,
			WireCode: "MalformedPOSTRequest",
			Message:  "the body of the POST request is not well-formed multipart/form-data",
			Err:      err,
		})
		return
	}

	fields := make(map[string]string)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			serviceerr.Write(w, r, serviceerr.New(serviceerr.InvalidArgument, "POST requires exactly one file upload per request"))
			return
		}
		if err != nil {
			h.writeBodyError(w, r, err)
			return
		}

		name := part.FormName()
		if name == uploadpolicy.FieldFile {
			h.putUpload(w, r, bucket, fields, part)
			part.Close()
			return
		}

		value, err := io.ReadAll(io.LimitReader(part, maxFieldBytes+1))
		part.Close()
		if err != nil {
			h.writeBodyError(w, r, err)
			return
		}
		if len(value) > maxFieldBytes {
			serviceerr.Write(w, r, serviceerr.New(serviceerr.InvalidArgument, fmt.Sprintf("form field %s is too large", name)))
			return
		}
		fields[name] = string(value)
	}
}

// putUpload authorizes the collected fields and streams the file part into the blob store
func (h *Handlers) putUpload(w http.ResponseWriter, r *http.Request, bucket string, fields map[string]string, file *multipart.Part) {
	for _, name := range []string{uploadpolicy.FieldKey, uploadpolicy.FieldAccessKeyID, uploadpolicy.FieldPolicy, uploadpolicy.FieldSignature} {
		if fields[name] == "" {
			serviceerr.Write(w, r, serviceerr.New(serviceerr.InvalidArgument, fmt.Sprintf("bucket POST must contain a field named '%s'", name)))
			return
		}
	}

	key := fields[uploadpolicy.FieldKey]
	if strings.Contains(key, filenameVariable) {
		key = strings.ReplaceAll(key, filenameVariable, file.FileName())
	}

	cred, err := h.keys.Lookup(r.Context(), fields[uploadpolicy.FieldAccessKeyID])
	if err != nil {
		if errors.Is(err, keystore.ErrKeyNotFound) {
			serviceerr.Write(w, r, &serviceerr.Error{
				Code:     serviceerr.AccessDenied,
				WireCode: "InvalidAccessKeyId",
				Message:  "the access key ID you provided does not exist in our records",
			})
			return
		}
		h.logger.Error("Failed to look up access key", "access_key_id", fields[uploadpolicy.FieldAccessKeyID], "err", err)
		serviceerr.Write(w, r, serviceerr.Wrap(serviceerr.InternalError, "unable to look up access key", err))
		return
	}

	doc, err := uploadpolicy.Verify(fields[uploadpolicy.FieldPolicy], fields[uploadpolicy.FieldSignature], []byte(cred.SecretKey), h.now())
	if err == nil {
		err = doc.Authorize(bucket, fields[uploadpolicy.FieldACL], key)
	}
	if err != nil {
		h.logger.Warn("Upload policy rejected",
			"bucket", bucket,
			"key", key,
			"access_key_id", cred.AccessKeyID,
			"err", err)
		serviceerr.Write(w, r, policyError(err))
		return
	}

	contentType := file.Header.Get("Content-Type")
	if v := fields["Content-Type"]; v != "" {
		contentType = v
	}

	result, err := h.store.Put(r.Context(), storage.PutInput{
		Bucket:      bucket,
		Key:         key,
		ACL:         doc.ACL,
		ContentType: contentType,
		Metadata:    userMetadata(fields),
		Body:        file,
	})
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			serviceerr.Write(w, r, serviceerr.New(serviceerr.EntityTooLarge, "your proposed upload exceeds the maximum allowed size"))
			return
		}
		h.logger.Error("Failed to store upload", "bucket", bucket, "key", key, "err", err)
		if serviceerr.CodeOf(err) != serviceerr.Unknown {
			serviceerr.Write(w, r, err)
			return
		}
		serviceerr.Write(w, r, serviceerr.Wrap(serviceerr.InternalError, "failed to store object", err))
		return
	}

	h.logger.Info("Stored upload",
		"bucket", bucket,
		"key", key,
		"size", result.Size,
		"etag", result.ETag,
		"access_key_id", cred.AccessKeyID)

	w.Header().Set("ETag", `"`+result.ETag+`"`)
	if result.VersionID != "" {
		w.Header().Set("X-Version-Id", result.VersionID)
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, result)
}

// policyError maps a verification failure to the service error sent back
func policyError(err error) *serviceerr.Error {
	switch {
	case errors.Is(err, uploadpolicy.ErrInvalidSignature):
		return serviceerr.New(serviceerr.SignatureDoesNotMatch,
			"the request signature we calculated does not match the signature you provided")
	case errors.Is(err, uploadpolicy.ErrExpired):
		return serviceerr.New(serviceerr.ExpiredToken, "Invalid according to Policy: Policy expired.")
	case errors.Is(err, uploadpolicy.ErrConditionFailed):
		return &serviceerr.Error{Code: serviceerr.AccessDenied, Message: "Invalid according to Policy: Policy Condition failed: " + err.Error(), Err: err}
	default:
		return &serviceerr.Error{Code: serviceerr.InvalidPolicyDocument, Message: "Invalid Policy: " + err.Error(), Err: err}
	}
}

// userMetadata collects x-amz-meta-* fields
func userMetadata(fields map[string]string) map[string]string {
	meta := make(map[string]string)
	for name, value := range fields {
		lower := strings.ToLower(name)
		if strings.HasPrefix(lower, "x-amz-meta-") {
			meta[strings.TrimPrefix(lower, "x-amz-meta-")] = value
		}
	}
	return meta
}

func (h *Handlers) writeBodyError(w http.ResponseWriter, r *http.Request, err error) {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		serviceerr.Write(w, r, serviceerr.New(serviceerr.EntityTooLarge, "your proposed upload exceeds the maximum allowed size"))
		return
	}
	serviceerr.Write(w, r, &serviceerr.Error{
		Code:     serviceerr.InvalidPolicyDocument,
		WireCode: "MalformedPOSTRequest",
		Message:  "the body of the POST request is not well-formed multipart/form-data",
		Err:      err,
	})
}
