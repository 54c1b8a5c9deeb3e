package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	strataerrors "github.com/stratabuild/strata/internal/errors"
)

// S3Cache is an optional durable, shareable process-cache layer backed by an
// S3-compatible object store, for teams that would rather not run the
// PostgresCache's database (SPEC_FULL domain stack: "a blob-store-backed
// process cache alternative to the Postgres table, for deployments that
// already operate an S3 bucket for build artifacts").
type S3Cache struct {
	client *s3.Client
	bucket string
	prefix string
}

// S3CacheOption configures NewS3Cache.
type S3CacheOption func(*s3CacheConfig)

type s3CacheConfig struct {
	endpoint        string
	region          string
	accessKeyID     string
	secretAccessKey string
	usePathStyle    bool
}

// WithS3Endpoint points the client at an S3-compatible endpoint (e.g. MinIO)
// instead of AWS's regional default.
func WithS3Endpoint(endpoint string) S3CacheOption {
	return func(c *s3CacheConfig) { c.endpoint = endpoint }
}

// WithS3StaticCredentials overrides the default credential chain with a
// static access key pair.
func WithS3StaticCredentials(accessKeyID, secretAccessKey string) S3CacheOption {
	return func(c *s3CacheConfig) { c.accessKeyID, c.secretAccessKey = accessKeyID, secretAccessKey }
}

// WithS3PathStyle forces path-style bucket addressing, required by most
// non-AWS S3-compatible servers.
func WithS3PathStyle() S3CacheOption {
	return func(c *s3CacheConfig) { c.usePathStyle = true }
}

// NewS3Cache builds an S3Cache storing Results as "prefix/<fingerprint>.json"
// objects in bucket.
func NewS3Cache(ctx context.Context, bucket, prefix, region string, opts ...S3CacheOption) (*S3Cache, error) {
	var cfg s3CacheConfig
	cfg.region = region
	for _, opt := range opts {
		opt(&cfg)
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.region)}
	if cfg.accessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.accessKeyID, cfg.secretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, strataerrors.New(strataerrors.KindIO, fmt.Errorf("sandbox: loading aws config: %w", err))
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.endpoint)
		}
		o.UsePathStyle = cfg.usePathStyle
	})

	return &S3Cache{client: client, bucket: bucket, prefix: prefix}, nil
}

func (c *S3Cache) key(fingerprint string) string {
	if c.prefix == "" {
		return fingerprint + ".json"
	}
	return c.prefix + "/" + fingerprint + ".json"
}

// Get implements Cache.
func (c *S3Cache) Get(ctx context.Context, fingerprint string) (Result, bool, error) {
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.key(fingerprint)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return Result{}, false, nil
		}
		return Result{}, false, strataerrors.New(strataerrors.KindIO, err)
	}
	defer out.Body.Close()

	b, err := io.ReadAll(out.Body)
	if err != nil {
		return Result{}, false, strataerrors.New(strataerrors.KindIO, err)
	}
	var r Result
	if err := json.Unmarshal(b, &r); err != nil {
		return Result{}, false, strataerrors.New(strataerrors.KindEngine, err)
	}
	return r, true, nil
}

// Put implements Cache.
func (c *S3Cache) Put(ctx context.Context, fingerprint string, r Result) error {
	b, err := json.Marshal(r)
	if err != nil {
		return strataerrors.New(strataerrors.KindEngine, err)
	}
	_, err = c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.key(fingerprint)),
		Body:   bytes.NewReader(b),
	})
	if err != nil {
		return strataerrors.New(strataerrors.KindIO, err)
	}
	return nil
}
