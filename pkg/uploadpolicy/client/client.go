// Package client requests upload grants from a policy server and uploads
// files under them.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/tendant/upload-policy/pkg/serviceerr"
	"github.com/tendant/upload-policy/pkg/uploadpolicy"
	"github.com/tendant/upload-policy/pkg/uploadpolicy/api"
	"github.com/tendant/upload-policy/pkg/uploadpolicy/storage"
)

// Client talks to a policy server
type Client struct {
	baseURL       string
	httpClient    *http.Client
	retryAttempts int
	retryDelay    time.Duration
	token         string
	progressFunc  ProgressFunc
}

// ProgressFunc is called during upload with the number of file bytes sent so far
type ProgressFunc func(bytesUploaded int64)

// ClientOption is a functional option for configuring a Client
type ClientOption func(*Client)

// New creates a client for the server at baseURL
func New(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Minute,
		},
		retryAttempts: 3,
		retryDelay:    1 * time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.retryAttempts < 1 {
		c.retryAttempts = 1
	}

	return c
}

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithRetry configures retry behavior. Only transport errors and 5xx responses are retried.
func WithRetry(attempts int, delay time.Duration) ClientOption {
	return func(c *Client) {
		c.retryAttempts = attempts
		c.retryDelay = delay
	}
}

// WithToken sets the bearer token sent with grant requests
func WithToken(token string) ClientOption {
	return func(c *Client) {
		c.token = token
	}
}

// WithProgress sets a progress callback function
func WithProgress(fn ProgressFunc) ClientOption {
	return func(c *Client) {
		c.progressFunc = fn
	}
}

// RequestGrant asks the server to sign a grant for bucket and prefix
func (c *Client) RequestGrant(ctx context.Context, bucket, prefix string, expiresInMinutes int) (*api.GrantResponse, error) {
	body, err := json.Marshal(api.CreateGrantRequest{
		Bucket:           bucket,
		Prefix:           prefix,
		ExpiresInMinutes: expiresInMinutes,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode grant request: %w", err)
	}

	var grant api.GrantResponse
	err = c.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/grants", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		return req, nil
	}, &grant)
	if err != nil {
		return nil, err
	}

	return &grant, nil
}

// UploadWithGrant uploads data as key using a grant returned by RequestGrant
//
// Example:
//
//	grant, err := c.RequestGrant(ctx, "uploads", "incoming/", 10)
//	result, err := c.UploadWithGrant(ctx, grant, "incoming/report.pdf", "report.pdf", file)
func (c *Client) UploadWithGrant(ctx context.Context, grant *api.GrantResponse, key, filename string, data io.Reader, opts ...UploadOption) (*storage.PutObjectResult, error) {
	fields := map[string]string{
		uploadpolicy.FieldKey:         key,
		uploadpolicy.FieldAccessKeyID: grant.AccessKeyID,
		uploadpolicy.FieldACL:         grant.ACL,
		uploadpolicy.FieldPolicy:      grant.Policy,
		uploadpolicy.FieldSignature:   grant.Signature,
	}
	return c.Upload(ctx, grant.Bucket, fields, filename, data, opts...)
}

// Upload posts a multipart form with fields followed by the file part.
// The form is buffered so that it can be resent on retry.
func (c *Client) Upload(ctx context.Context, bucket string, fields map[string]string, filename string, data io.Reader, opts ...UploadOption) (*storage.PutObjectResult, error) {
	uploadOpts := &uploadOptions{
		contentType: "application/octet-stream",
	}
	for _, opt := range opts {
		opt(uploadOpts)
	}

	var form bytes.Buffer
	mw := multipart.NewWriter(&form)
	for name, value := range fields {
		if err := mw.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("failed to write form field %s: %w", name, err)
		}
	}
	for name, value := range uploadOpts.metadata {
		if err := mw.WriteField("x-amz-meta-"+name, value); err != nil {
			return nil, fmt.Errorf("failed to write metadata field %s: %w", name, err)
		}
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, uploadpolicy.FieldFile, escapeQuotes(filename)))
	h.Set("Content-Type", uploadOpts.contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create file part: %w", err)
	}
	fileStart := int64(form.Len())
	if _, err := io.Copy(part, data); err != nil {
		return nil, fmt.Errorf("failed to read upload data: %w", err)
	}
	fileSize := int64(form.Len()) - fileStart
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish form: %w", err)
	}

	target := c.baseURL + "/buckets/" + url.PathEscape(bucket)
	payload := form.Bytes()

	var result storage.PutObjectResult
	err = c.do(ctx, func() (*http.Request, error) {
		var body io.Reader = bytes.NewReader(payload)
		if c.progressFunc != nil {
			body = &progressReader{
				reader:    body,
				fileStart: fileStart,
				fileSize:  fileSize,
				callback:  c.progressFunc,
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, body)
		if err != nil {
			return nil, err
		}
		req.ContentLength = int64(len(payload))
		req.Header.Set("Content-Type", mw.FormDataContentType())
		return req, nil
	}, &result)
	if err != nil {
		return nil, err
	}

	return &result, nil
}

// do sends the request built by newRequest, retrying transport errors and
// 5xx responses, and decodes a 2xx body into out
func (c *Client) do(ctx context.Context, newRequest func() (*http.Request, error), out interface{}) error {
	var lastErr error
	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelay * time.Duration(attempt)):
			}
		}

		req, err := newRequest()
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			err := json.NewDecoder(resp.Body).Decode(out)
			resp.Body.Close()
			if err != nil {
				return fmt.Errorf("failed to decode response: %w", err)
			}
			return nil
		}

		lastErr = serviceerr.DecodeResponse(resp)
		resp.Body.Close()

		// Don't retry on client errors (4xx)
		if resp.StatusCode < 500 {
			return lastErr
		}
	}

	return fmt.Errorf("request failed after %d attempts: %w", c.retryAttempts, lastErr)
}

// uploadOptions contains upload configuration
type uploadOptions struct {
	contentType string
	metadata    map[string]string
}

// UploadOption is a functional option for Upload
type UploadOption func(*uploadOptions)

// WithContentType sets the Content-Type of the file part
func WithContentType(contentType string) UploadOption {
	return func(o *uploadOptions) {
		o.contentType = contentType
	}
}

// WithMetadata adds user metadata stored with the object
func WithMetadata(key, value string) UploadOption {
	return func(o *uploadOptions) {
		if o.metadata == nil {
			o.metadata = make(map[string]string)
		}
		o.metadata[key] = value
	}
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

// progressReader wraps a request body and reports how much of the file
// part, located at [fileStart, fileStart+fileSize), has been sent
type progressReader struct {
	reader    io.Reader
	bytesRead int64
	fileStart int64
	fileSize  int64
	reported  int64
	callback  ProgressFunc
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	pr.bytesRead += int64(n)

	sent := min(max(pr.bytesRead-pr.fileStart, 0), pr.fileSize)
	if sent > pr.reported {
		pr.reported = sent
		pr.callback(sent)
	}
	return n, err
}
