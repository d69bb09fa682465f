package config

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-chi/jwtauth"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/upload-policy/pkg/uploadpolicy"
	"github.com/tendant/upload-policy/pkg/uploadpolicy/api"
	"github.com/tendant/upload-policy/pkg/uploadpolicy/keystore"
	keystorememory "github.com/tendant/upload-policy/pkg/uploadpolicy/keystore/memory"
	keystorepg "github.com/tendant/upload-policy/pkg/uploadpolicy/keystore/postgres"
	"github.com/tendant/upload-policy/pkg/uploadpolicy/storage"
	fsstorage "github.com/tendant/upload-policy/pkg/uploadpolicy/storage/fs"
	memorystorage "github.com/tendant/upload-policy/pkg/uploadpolicy/storage/memory"
	s3storage "github.com/tendant/upload-policy/pkg/uploadpolicy/storage/s3"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top of library defaults.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() ServerConfig {
	return ServerConfig{
		Port:            "8080",
		Environment:     "development",
		DBSchema:        "uploadpolicy",
		StorageURL:      "memory://",
		PolicyACL:       uploadpolicy.DefaultACL,
		MaxUploadBytes:  100 << 20,
		MaxGrantMinutes: 1440,
	}
}

// ServerConfig represents configuration for the policy server.
// Field tags are read by cleanenv; see WithEnv.
type ServerConfig struct {
	Port        string `env:"PORT" env-default:"8080" env-description:"HTTP listen port"`
	Environment string `env:"ENVIRONMENT" env-default:"development" env-description:"development, production or testing"`

	// Key store: empty or "memory" keeps keys in memory, postgres:// URLs use Postgres
	DatabaseURL string `env:"DATABASE_URL" env-description:"memory or postgres://... connection string"`
	DBSchema    string `env:"DB_SCHEMA" env-default:"uploadpolicy" env-description:"Postgres schema holding access_keys"`

	// Blob store
	StorageURL      string `env:"STORAGE_URL" env-default:"memory://" env-description:"memory://, file:///path or s3://region"`
	S3Endpoint      string `env:"S3_ENDPOINT" env-description:"custom endpoint for S3-compatible services"`
	S3UsePathStyle  bool   `env:"S3_USE_PATH_STYLE" env-description:"use path-style S3 addressing"`
	S3SSEAlgorithm  string `env:"S3_SSE_ALGORITHM" env-description:"AES256 or aws:kms"`
	S3SSEKMSKeyID   string `env:"S3_SSE_KMS_KEY_ID" env-description:"KMS key for aws:kms"`
	S3CreateBucket  bool   `env:"S3_CREATE_BUCKET" env-description:"create buckets on first upload"`
	S3ApplyACL      bool   `env:"S3_APPLY_ACL" env-description:"send the policy acl as an S3 canned ACL"`
	AWSAccessKeyID  string `env:"AWS_ACCESS_KEY_ID" env-description:"S3 access key, default credential chain when empty"`
	AWSSecretKey    string `env:"AWS_SECRET_ACCESS_KEY" env-description:"S3 secret key"`
	IssuerKeyID     string `env:"ISSUER_ACCESS_KEY_ID" env-description:"access key ID grants are issued under"`
	IssuerSecretKey string `env:"ISSUER_SECRET_KEY" env-description:"secret key grants are signed with"`

	PolicyACL       string `env:"POLICY_ACL" env-default:"ec2-bundle-read" env-description:"acl label embedded in issued policies"`
	JWTSecret       string `env:"JWT_SECRET" env-description:"HS256 secret protecting grant issuance and reads"`
	MaxUploadBytes  int64  `env:"MAX_UPLOAD_BYTES" env-default:"104857600" env-description:"upload request size limit"`
	MaxGrantMinutes int    `env:"MAX_GRANT_MINUTES" env-default:"1440" env-description:"longest grant window"`
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}

	if _, err := c.DatabaseType(); err != nil {
		return err
	}

	if _, err := ParseStorageURL(c.StorageURL); err != nil {
		return err
	}

	if (c.IssuerKeyID == "") != (c.IssuerSecretKey == "") {
		return errors.New("issuer_access_key_id and issuer_secret_key must be set together")
	}

	if c.MaxUploadBytes < 0 {
		return errors.New("max_upload_bytes cannot be negative")
	}
	if c.MaxGrantMinutes < 0 {
		return errors.New("max_grant_minutes cannot be negative")
	}

	return nil
}

// DatabaseType returns "memory" or "postgres" based on DatabaseURL
func (c *ServerConfig) DatabaseType() (string, error) {
	switch {
	case c.DatabaseURL == "" || c.DatabaseURL == "memory":
		return "memory", nil
	case strings.HasPrefix(c.DatabaseURL, "postgresql://"), strings.HasPrefix(c.DatabaseURL, "postgres://"):
		return "postgres", nil
	default:
		return "", fmt.Errorf("unsupported DATABASE_URL format: %s (use 'memory' or 'postgresql://...')", c.DatabaseURL)
	}
}

// Issuer returns the issuing credential, or nil when grant issuance is disabled
func (c *ServerConfig) Issuer() *keystore.Credential {
	if c.IssuerKeyID == "" {
		return nil
	}
	return &keystore.Credential{
		AccessKeyID: c.IssuerKeyID,
		SecretKey:   c.IssuerSecretKey,
		Description: "issuer",
	}
}

// BuildSigner creates the signer used for issued grants
func (c *ServerConfig) BuildSigner() *uploadpolicy.Signer {
	return uploadpolicy.New(uploadpolicy.WithACL(c.PolicyACL))
}

// BuildTokenAuth returns the JWT verifier, or nil when no secret is configured
func (c *ServerConfig) BuildTokenAuth() *jwtauth.JWTAuth {
	if c.JWTSecret == "" {
		return nil
	}
	return jwtauth.New("HS256", []byte(c.JWTSecret), nil)
}

// BuildKeyStore creates the key store and seeds it with the issuer credential.
// The returned close function releases the database pool, if any.
func (c *ServerConfig) BuildKeyStore(ctx context.Context) (keystore.Store, func(), error) {
	dbType, err := c.DatabaseType()
	if err != nil {
		return nil, nil, err
	}

	issuer := c.Issuer()

	if dbType == "memory" {
		if issuer == nil {
			return keystorememory.New(), func() {}, nil
		}
		return keystorememory.New(*issuer), func() {}, nil
	}

	pool, err := pgxpool.New(ctx, c.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := keystorepg.NewWithPool(pool, c.DBSchema)
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}

	if issuer != nil {
		if err := store.Create(ctx, issuer); err != nil && !errors.Is(err, keystore.ErrKeyExists) {
			pool.Close()
			return nil, nil, fmt.Errorf("failed to seed issuer key: %w", err)
		}
	}

	return store, pool.Close, nil
}

// BuildBlobStore creates the blob store named by StorageURL
func (c *ServerConfig) BuildBlobStore() (storage.BlobStore, error) {
	target, err := ParseStorageURL(c.StorageURL)
	if err != nil {
		return nil, err
	}

	switch target.Type {
	case "memory":
		return memorystorage.New(), nil
	case "fs":
		return fsstorage.New(fsstorage.Config{BaseDir: target.Path})
	case "s3":
		return s3storage.New(s3storage.Config{
			Region:                 target.Region,
			AccessKeyID:            c.AWSAccessKeyID,
			SecretAccessKey:        c.AWSSecretKey,
			Endpoint:               c.S3Endpoint,
			UsePathStyle:           c.S3UsePathStyle,
			SSEAlgorithm:           c.S3SSEAlgorithm,
			SSEKMSKeyID:            c.S3SSEKMSKeyID,
			CreateBucketIfNotExist: c.S3CreateBucket,
			ApplyCannedACL:         c.S3ApplyACL,
		})
	default:
		return nil, fmt.Errorf("unknown storage type: %s", target.Type)
	}
}

// BuildHandlers wires the API handlers from the configuration.
// The returned close function must be called on shutdown.
func (c *ServerConfig) BuildHandlers(ctx context.Context) (*api.Handlers, func(), error) {
	keys, closeKeys, err := c.BuildKeyStore(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build key store: %w", err)
	}

	blobs, err := c.BuildBlobStore()
	if err != nil {
		closeKeys()
		return nil, nil, fmt.Errorf("failed to build blob store: %w", err)
	}

	handlers := api.NewHandlers(api.Config{
		Signer:          c.BuildSigner(),
		Issuer:          c.Issuer(),
		Keys:            keys,
		Store:           blobs,
		MaxUploadBytes:  c.MaxUploadBytes,
		MaxGrantMinutes: c.MaxGrantMinutes,
		TokenAuth:       c.BuildTokenAuth(),
	})

	return handlers, closeKeys, nil
}
