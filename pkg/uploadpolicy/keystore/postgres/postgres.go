package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/upload-policy/pkg/uploadpolicy/keystore"
)

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Store implements keystore.Store on a PostgreSQL access_keys table
type Store struct {
	db     DBTX
	schema string
	table  string
}

// New creates a store using the access_keys table in schema
func New(db DBTX, schema string) *Store {
	table := pgx.Identifier{"access_keys"}
	if schema != "" {
		table = pgx.Identifier{schema, "access_keys"}
	}
	return &Store{db: db, schema: schema, table: table.Sanitize()}
}

// NewWithPool creates a store with a connection pool
func NewWithPool(pool *pgxpool.Pool, schema string) *Store {
	return New(pool, schema)
}

// Migrate creates the schema and access_keys table if they do not exist
func (s *Store) Migrate(ctx context.Context) error {
	if s.schema != "" {
		query := "CREATE SCHEMA IF NOT EXISTS " + pgx.Identifier{s.schema}.Sanitize()
		if _, err := s.db.Exec(ctx, query); err != nil {
			return handlePostgresError("create schema", err)
		}
	}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			access_key_id VARCHAR(128) PRIMARY KEY,
			secret_key    TEXT NOT NULL,
			description   TEXT NOT NULL DEFAULT '',
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, s.table)

	if _, err := s.db.Exec(ctx, query); err != nil {
		return handlePostgresError("migrate", err)
	}
	return nil
}

// Lookup returns the credential for accessKeyID
func (s *Store) Lookup(ctx context.Context, accessKeyID string) (*keystore.Credential, error) {
	query := fmt.Sprintf(`
		SELECT access_key_id, secret_key, description, created_at
		FROM %s WHERE access_key_id = $1`, s.table)

	var cred keystore.Credential
	err := s.db.QueryRow(ctx, query, accessKeyID).Scan(
		&cred.AccessKeyID, &cred.SecretKey, &cred.Description, &cred.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, keystore.ErrKeyNotFound
		}
		return nil, handlePostgresError("lookup access key", err)
	}

	return &cred, nil
}

// Create inserts a new credential
func (s *Store) Create(ctx context.Context, cred *keystore.Credential) error {
	if err := cred.Validate(); err != nil {
		return err
	}

	createdAt := cred.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (access_key_id, secret_key, description, created_at)
		VALUES ($1, $2, $3, $4)`, s.table)

	_, err := s.db.Exec(ctx, query, cred.AccessKeyID, cred.SecretKey, cred.Description, createdAt)
	if err != nil {
		return handlePostgresError("create access key", err)
	}

	return nil
}

// Delete removes a credential
func (s *Store) Delete(ctx context.Context, accessKeyID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE access_key_id = $1`, s.table)

	tag, err := s.db.Exec(ctx, query, accessKeyID)
	if err != nil {
		return handlePostgresError("delete access key", err)
	}
	if tag.RowsAffected() == 0 {
		return keystore.ErrKeyNotFound
	}
	return nil
}

// handlePostgresError maps well-known PostgreSQL error codes
func handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return keystore.ErrKeyExists
		case "23502": // not_null_violation
			return fmt.Errorf("required field %s is missing", pgErr.ColumnName)
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required")
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}

	return fmt.Errorf("database error in %s: %w", operation, err)
}
