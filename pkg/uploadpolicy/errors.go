package uploadpolicy

import (
	"errors"
	"fmt"
)

// Grant construction errors
var (
	// ErrGrantConstruction is matched by every error returned while building a grant
	ErrGrantConstruction = errors.New("uploadpolicy: unable to generate upload policy")

	// ErrNoSecretKey is returned when the secret key is empty
	ErrNoSecretKey = errors.New("uploadpolicy: no secret key configured")

	// ErrNoBucket is returned when the bucket name is empty
	ErrNoBucket = errors.New("uploadpolicy: bucket name is required")

	// ErrInvalidUTF8 is returned when the bucket or prefix is not valid UTF-8
	ErrInvalidUTF8 = errors.New("uploadpolicy: bucket and prefix must be valid UTF-8")
)

// Verification errors
var (
	// ErrMalformedPolicy is returned when a policy cannot be decoded into a document
	ErrMalformedPolicy = errors.New("uploadpolicy: malformed policy document")

	// ErrInvalidSignature is returned when the signature does not match the policy
	ErrInvalidSignature = errors.New("uploadpolicy: invalid signature")

	// ErrExpired is returned when the policy expiration has passed
	ErrExpired = errors.New("uploadpolicy: policy has expired")

	// ErrConditionFailed is returned when an upload does not satisfy a policy condition
	ErrConditionFailed = errors.New("uploadpolicy: policy condition not satisfied")
)

// GrantError wraps the cause of a failed grant construction.
// It matches ErrGrantConstruction with errors.Is.
type GrantError struct {
	Err error
}

func (e *GrantError) Error() string {
	return fmt.Sprintf("%v: %v", ErrGrantConstruction, e.Err)
}

func (e *GrantError) Unwrap() error {
	return e.Err
}

func (e *GrantError) Is(target error) bool {
	return target == ErrGrantConstruction
}

// IsAuthError returns true if the error is a policy verification error
func IsAuthError(err error) bool {
	return errors.Is(err, ErrMalformedPolicy) ||
		errors.Is(err, ErrInvalidSignature) ||
		errors.Is(err, ErrExpired) ||
		errors.Is(err, ErrConditionFailed)
}
