package serviceerr

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/smithy-go"
)

// Error is a service error tagged with a Code.
// WireCode keeps the spelling the error was received or will be sent with.
type Error struct {
	Code       Code
	WireCode   string
	Message    string
	StatusCode int
	RequestID  string
	Err        error
}

// New creates an error with the given tag and message
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates an error with the given tag and message that wraps err
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.wireCode(), e.Message)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.RequestID != "" {
		msg = fmt.Sprintf("%s (request id %s)", msg, e.RequestID)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same Code, so sentinel values built with
// New can be used with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// HTTPStatus returns StatusCode when set, otherwise the tag default
func (e *Error) HTTPStatus() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	return e.Code.Status()
}

func (e *Error) wireCode() string {
	if e.WireCode != "" {
		return e.WireCode
	}
	return string(e.Code)
}

// CodeOf returns the tag of the first *Error in err's chain, or Unknown
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Unknown
}

// wireError is the JSON error body exchanged over HTTP
type wireError struct {
	Type       string `json:"__type,omitempty"`
	Code       string `json:"code,omitempty"`
	Message    string `json:"message,omitempty"`
	MessageAlt string `json:"Message,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
}

// Decode builds an error from a JSON error body and its HTTP status.
// Bodies that are not JSON become an Unknown error carrying the raw text.
func Decode(status int, body []byte) *Error {
	var w wireError
	if err := json.Unmarshal(body, &w); err != nil {
		return &Error{
			Code:       fromStatus(status),
			Message:    string(body),
			StatusCode: status,
		}
	}

	wire := w.Type
	if wire == "" {
		wire = w.Code
	}
	message := w.Message
	if message == "" {
		message = w.MessageAlt
	}

	code := Lookup(wire)
	if wire == "" {
		code = fromStatus(status)
	}

	return &Error{
		Code:       code,
		WireCode:   normalize(wire),
		Message:    message,
		StatusCode: status,
		RequestID:  w.RequestID,
	}
}

// DecodeResponse reads and decodes the error body of resp
func DecodeResponse(resp *http.Response) *Error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return &Error{
			Code:       fromStatus(resp.StatusCode),
			Message:    fmt.Sprintf("failed to read error response: %v", err),
			StatusCode: resp.StatusCode,
			Err:        err,
		}
	}
	e := Decode(resp.StatusCode, body)
	if e.RequestID == "" {
		e.RequestID = resp.Header.Get("X-Request-Id")
	}
	return e
}

// FromAPIError converts an error returned by an AWS SDK client into an *Error.
// Errors that carry no API error code are returned unchanged.
func FromAPIError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return err
	}

	e := &Error{
		Code:     Lookup(apiErr.ErrorCode()),
		WireCode: apiErr.ErrorCode(),
		Message:  apiErr.ErrorMessage(),
		Err:      err,
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		e.StatusCode = respErr.HTTPStatusCode()
		e.RequestID = respErr.ServiceRequestID()
	}

	return e
}

func fromStatus(status int) Code {
	switch {
	case status == http.StatusNotFound:
		return ResourceNotFound
	case status == http.StatusForbidden || status == http.StatusUnauthorized:
		return AccessDenied
	case status == http.StatusRequestEntityTooLarge:
		return EntityTooLarge
	case status >= 400 && status < 500:
		return InvalidArgument
	case status >= 500:
		return InternalError
	default:
		return Unknown
	}
}
