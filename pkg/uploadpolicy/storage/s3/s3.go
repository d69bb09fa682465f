package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/tendant/upload-policy/pkg/serviceerr"
	"github.com/tendant/upload-policy/pkg/uploadpolicy/storage"
)

// Config options for the S3 backend
type Config struct {
	Region          string // AWS region
	AccessKeyID     string // AWS access key ID
	SecretAccessKey string // AWS secret access key
	Endpoint        string // Optional custom endpoint for S3-compatible services
	UsePathStyle    bool   // Use path-style addressing (default: false)

	// Server-side encryption options
	SSEAlgorithm string // "", "AES256" or "aws:kms"
	SSEKMSKeyID  string // Optional KMS key ID for aws:kms algorithm

	// MinIO/S3-compatible service options
	CreateBucketIfNotExist bool // Create a bucket on first upload if it doesn't exist

	// ApplyCannedACL sends the policy acl as x-amz-acl when it names an S3 canned ACL.
	// Buckets with ACLs disabled reject the header.
	ApplyCannedACL bool
}

// aclMetadataKey holds the policy acl label in object metadata
const aclMetadataKey = "policy-acl"

// Backend is an S3-compatible implementation of the storage.BlobStore interface
type Backend struct {
	client   *s3.Client
	uploader *manager.Uploader
	config   Config

	// buckets already checked when CreateBucketIfNotExist is set
	ensured sync.Map
}

// New creates a new S3-compatible storage backend
func New(config Config) (*Backend, error) {
	if config.Region == "" {
		config.Region = "us-east-1"
	}

	switch config.SSEAlgorithm {
	case "", "AES256", "aws:kms":
	default:
		return nil, fmt.Errorf("unsupported SSE algorithm %q (use AES256 or aws:kms)", config.SSEAlgorithm)
	}

	var awsCfg aws.Config
	var err error

	if config.AccessKeyID != "" && config.SecretAccessKey != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(config.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				config.AccessKeyID,
				config.SecretAccessKey,
				"",
			)),
		)
	} else {
		// Use default credential chain
		awsCfg, err = awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(config.Region),
		)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Options []func(*s3.Options)

	// Custom endpoint for S3-compatible services (MinIO, etc.)
	if config.Endpoint != "" {
		s3Options = append(s3Options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(config.Endpoint)
			o.UsePathStyle = config.UsePathStyle
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Options...)

	return &Backend{
		client:   client,
		uploader: manager.NewUploader(client),
		config:   config,
	}, nil
}

// Put uploads the object with the manager uploader and maps the upload output
// into a PutObjectResult
func (b *Backend) Put(ctx context.Context, in storage.PutInput) (*storage.PutObjectResult, error) {
	if b.config.CreateBucketIfNotExist {
		if err := b.ensureBucket(ctx, in.Bucket); err != nil {
			return nil, err
		}
	}

	digest := storage.NewDigest(in.Body)

	input := &s3.PutObjectInput{
		Bucket:   aws.String(in.Bucket),
		Key:      aws.String(in.Key),
		Body:     digest,
		Metadata: maps.Clone(in.Metadata),
	}
	if in.ContentType != "" {
		input.ContentType = aws.String(in.ContentType)
	}
	if in.ACL != "" {
		if input.Metadata == nil {
			input.Metadata = make(map[string]string)
		}
		input.Metadata[aclMetadataKey] = in.ACL
		if b.config.ApplyCannedACL && IsCannedACL(in.ACL) {
			input.ACL = types.ObjectCannedACL(in.ACL)
		}
	}
	b.applySSE(input)

	out, err := b.uploader.Upload(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to upload to S3: %w", serviceerr.FromAPIError(err))
	}

	result := &storage.PutObjectResult{
		Bucket:     in.Bucket,
		Key:        in.Key,
		VersionID:  aws.ToString(out.VersionID),
		ETag:       strings.Trim(aws.ToString(out.ETag), "\""),
		ContentMD5: digest.ContentMD5(),
		Size:       digest.Size(),
		ServerSideEncryption: storage.ServerSideEncryption{
			SSEAlgorithm: string(out.ServerSideEncryption),
			SSEKMSKeyID:  aws.ToString(out.SSEKMSKeyId),
		},
	}

	if expiration := aws.ToString(out.Expiration); expiration != "" {
		expiresAt, ruleID, err := ParseExpiration(expiration)
		if err == nil {
			result.ExpirationTime = &expiresAt
			result.ExpirationRuleID = ruleID
		}
	}

	return result, nil
}

// IsCannedACL reports whether acl is one of the S3 canned ACLs
func IsCannedACL(acl string) bool {
	return slices.Contains(types.ObjectCannedACL("").Values(), types.ObjectCannedACL(acl))
}

// applySSE adds server-side encryption to the input when configured
func (b *Backend) applySSE(input *s3.PutObjectInput) {
	switch b.config.SSEAlgorithm {
	case "AES256":
		input.ServerSideEncryption = types.ServerSideEncryptionAes256
	case "aws:kms":
		input.ServerSideEncryption = types.ServerSideEncryptionAwsKms
		if b.config.SSEKMSKeyID != "" {
			input.SSEKMSKeyId = aws.String(b.config.SSEKMSKeyID)
		}
	}
}

// Get downloads the object content
func (b *Backend) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})

	if err != nil {
		var notFound *types.NoSuchKey
		if errors.As(err, &notFound) {
			return nil, storage.ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to download from S3: %w", serviceerr.FromAPIError(err))
	}

	return result.Body, nil
}

// Head retrieves object metadata
func (b *Backend) Head(ctx context.Context, bucket, key string) (*storage.ObjectInfo, error) {
	result, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})

	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return nil, storage.ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to get object metadata: %w", serviceerr.FromAPIError(err))
	}

	contentType := "application/octet-stream"
	if result.ContentType != nil {
		contentType = *result.ContentType
	}

	metadata := maps.Clone(result.Metadata)
	acl := metadata[aclMetadataKey]
	delete(metadata, aclMetadataKey)

	return &storage.ObjectInfo{
		Bucket:       bucket,
		Key:          key,
		Size:         aws.ToInt64(result.ContentLength),
		ETag:         strings.Trim(aws.ToString(result.ETag), "\""),
		ContentType:  contentType,
		ACL:          acl,
		VersionID:    aws.ToString(result.VersionId),
		LastModified: aws.ToTime(result.LastModified),
		Metadata:     metadata,
	}, nil
}

// Delete deletes the object
func (b *Backend) Delete(ctx context.Context, bucket, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})

	if err != nil {
		return fmt.Errorf("failed to delete from S3: %w", serviceerr.FromAPIError(err))
	}

	return nil
}

// ensureBucket creates the bucket once per backend if it doesn't exist
func (b *Backend) ensureBucket(ctx context.Context, bucket string) error {
	if _, done := b.ensured.Load(bucket); done {
		return nil
	}

	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(bucket),
	})
	if err == nil {
		b.ensured.Store(bucket, struct{}{})
		return nil
	}

	// Handle multiple error types for MinIO compatibility
	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noSuchBucket) &&
		!strings.Contains(err.Error(), "NoSuchBucket") {
		return fmt.Errorf("failed to check bucket: %w", serviceerr.FromAPIError(err))
	}

	createInput := &s3.CreateBucketInput{
		Bucket: aws.String(bucket),
	}

	// Add location constraint for regions other than us-east-1
	if b.config.Region != "us-east-1" {
		createInput.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(b.config.Region),
		}
	}

	if _, err := b.client.CreateBucket(ctx, createInput); err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		var exists *types.BucketAlreadyExists
		if !errors.As(err, &owned) && !errors.As(err, &exists) {
			return fmt.Errorf("failed to create bucket: %w", serviceerr.FromAPIError(err))
		}
	}

	b.ensured.Store(bucket, struct{}{})
	return nil
}

var expirationPattern = regexp.MustCompile(`expiry-date="([^"]+)"(?:,\s*rule-id="([^"]*)")?`)

// ParseExpiration parses the x-amz-expiration header, e.g.
//
//	expiry-date="Fri, 23 Dec 2012 00:00:00 GMT", rule-id="picture-deletion-rule"
func ParseExpiration(header string) (time.Time, string, error) {
	m := expirationPattern.FindStringSubmatch(header)
	if m == nil {
		return time.Time{}, "", fmt.Errorf("invalid expiration header %q", header)
	}

	expiresAt, err := time.Parse(time.RFC1123, m[1])
	if err != nil {
		return time.Time{}, "", fmt.Errorf("invalid expiry-date: %w", err)
	}

	return expiresAt.UTC(), m[2], nil
}
