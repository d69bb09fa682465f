package serviceerr

import (
	"net/http"
	"strings"
)

// Code tags the kind of a service error independently of the wire spelling
type Code string

const (
	InvalidArgument       Code = "InvalidArgument"
	ResourceNotFound      Code = "ResourceNotFound"
	AccessDenied          Code = "AccessDenied"
	ExpiredToken          Code = "ExpiredToken"
	SignatureDoesNotMatch Code = "SignatureDoesNotMatch"
	InvalidPolicyDocument Code = "InvalidPolicyDocument"
	NoSuchBucket          Code = "NoSuchBucket"
	NoSuchKey             Code = "NoSuchKey"
	EntityTooLarge        Code = "EntityTooLarge"
	InternalError         Code = "InternalError"
	Unknown               Code = "Unknown"
)

// wireCodes maps error codes as services send them to their tag
var wireCodes = map[string]Code{
	"InvalidArgument":           InvalidArgument,
	"InvalidArgumentException":  InvalidArgument,
	"InvalidParameterException": InvalidArgument,
	"ValidationException":       InvalidArgument,
	"InvalidRequest":            InvalidArgument,

	"ResourceNotFound":          ResourceNotFound,
	"ResourceNotFoundException": ResourceNotFound,
	"NotFound":                  ResourceNotFound,

	"AccessDenied":                AccessDenied,
	"AccessDeniedException":       AccessDenied,
	"InvalidAccessKeyId":          AccessDenied,
	"NotAuthorizedException":      AccessDenied,
	"UnrecognizedClientException": AccessDenied,

	"ExpiredToken":          ExpiredToken,
	"ExpiredTokenException": ExpiredToken,
	"RequestExpired":        ExpiredToken,

	"SignatureDoesNotMatch":     SignatureDoesNotMatch,
	"InvalidSignatureException": SignatureDoesNotMatch,

	"InvalidPolicyDocument": InvalidPolicyDocument,
	"MalformedPOSTRequest":  InvalidPolicyDocument,

	"NoSuchBucket": NoSuchBucket,
	"NoSuchKey":    NoSuchKey,

	"EntityTooLarge": EntityTooLarge,

	"InternalError":      InternalError,
	"InternalFailure":    InternalError,
	"ServiceUnavailable": InternalError,
	"ServiceException":   InternalError,
}

// statusCodes holds the default HTTP status per tag
var statusCodes = map[Code]int{
	InvalidArgument:       http.StatusBadRequest,
	ResourceNotFound:      http.StatusNotFound,
	AccessDenied:          http.StatusForbidden,
	ExpiredToken:          http.StatusForbidden,
	SignatureDoesNotMatch: http.StatusForbidden,
	InvalidPolicyDocument: http.StatusBadRequest,
	NoSuchBucket:          http.StatusNotFound,
	NoSuchKey:             http.StatusNotFound,
	EntityTooLarge:        http.StatusRequestEntityTooLarge,
	InternalError:         http.StatusInternalServerError,
	Unknown:               http.StatusInternalServerError,
}

// Lookup returns the tag for a wire error code.
// Namespaced codes such as "com.amazonaws.firehose#InvalidArgumentException"
// and "InvalidArgumentException:http://..." are reduced to the bare name first.
func Lookup(wireCode string) Code {
	if code, ok := wireCodes[normalize(wireCode)]; ok {
		return code
	}
	return Unknown
}

// Status returns the default HTTP status for a tag
func (c Code) Status() int {
	if status, ok := statusCodes[c]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func normalize(wireCode string) string {
	code := strings.TrimSpace(wireCode)
	if i := strings.LastIndex(code, "#"); i >= 0 {
		code = code[i+1:]
	}
	if i := strings.Index(code, ":"); i >= 0 {
		code = code[:i]
	}
	return code
}
