package config

import (
	"fmt"
)

// WithPort sets the server port
func WithPort(port string) Option {
	return func(c *ServerConfig) error {
		if port == "" {
			return fmt.Errorf("port cannot be empty")
		}
		c.Port = port
		return nil
	}
}

// WithEnvironment sets the environment (development, production, testing)
func WithEnvironment(env string) Option {
	return func(c *ServerConfig) error {
		if env == "" {
			return fmt.Errorf("environment cannot be empty")
		}
		c.Environment = env
		return nil
	}
}

// WithDatabaseURL selects the key store: "memory" or a postgres URL
func WithDatabaseURL(url string) Option {
	return func(c *ServerConfig) error {
		c.DatabaseURL = url
		return nil
	}
}

// WithStorageURL selects the blob store
func WithStorageURL(url string) Option {
	return func(c *ServerConfig) error {
		if _, err := ParseStorageURL(url); err != nil {
			return err
		}
		c.StorageURL = url
		return nil
	}
}

// WithIssuer sets the credential grants are issued with
func WithIssuer(accessKeyID, secretKey string) Option {
	return func(c *ServerConfig) error {
		if accessKeyID == "" || secretKey == "" {
			return fmt.Errorf("issuer access key ID and secret key are required")
		}
		c.IssuerKeyID = accessKeyID
		c.IssuerSecretKey = secretKey
		return nil
	}
}

// WithPolicyACL sets the acl label embedded in issued policies
func WithPolicyACL(acl string) Option {
	return func(c *ServerConfig) error {
		c.PolicyACL = acl
		return nil
	}
}

// WithJWTSecret protects grant issuance and object reads with HS256 tokens
func WithJWTSecret(secret string) Option {
	return func(c *ServerConfig) error {
		c.JWTSecret = secret
		return nil
	}
}

// WithLimits sets the upload size limit and the longest grant window
func WithLimits(maxUploadBytes int64, maxGrantMinutes int) Option {
	return func(c *ServerConfig) error {
		c.MaxUploadBytes = maxUploadBytes
		c.MaxGrantMinutes = maxGrantMinutes
		return nil
	}
}
