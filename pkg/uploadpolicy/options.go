package uploadpolicy

import "time"

// Option is a functional option for configuring a Signer
type Option func(*Signer)

// WithClock sets the time source used to compute the expiration.
// Default is time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Signer) {
		if now != nil {
			s.now = now
		}
	}
}

// WithACL sets the access-control label embedded in every policy.
// Default is DefaultACL.
func WithACL(acl string) Option {
	return func(s *Signer) {
		s.acl = acl
	}
}
