package document

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/vietddude/pollmark/internal/core/domain"
	"github.com/vietddude/pollmark/internal/infra/awsutil"
)

// S3Config enables s3:// references.
type S3Config struct {
	Enabled  bool   `yaml:"enabled"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"` // Optional custom endpoint (MinIO, LocalStack)
}

// GCSConfig enables gs:// references using application default credentials.
type GCSConfig struct {
	Enabled bool `yaml:"enabled"`
}

// S3API is the subset of the S3 client used to read objects.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source reads s3://bucket/key references.
type S3Source struct {
	client S3API
}

// NewS3Source creates an S3 source from the default credential chain.
func NewS3Source(ctx context.Context, cfg S3Config) (*S3Source, error) {
	awsCfg, err := awsutil.Load(ctx, cfg.Region)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Source{client: client}, nil
}

// NewS3SourceWithClient wraps an existing client.
func NewS3SourceWithClient(client S3API) *S3Source {
	return &S3Source{client: client}
}

func (s *S3Source) Fetch(ctx context.Context, ref *url.URL, maxBytes int64) ([]byte, error) {
	bucket, key := ref.Host, strings.TrimPrefix(ref.Path, "/")
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("invalid s3 reference %q: %w", ref.String(), domain.ErrValidation)
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 get %s/%s: %w", bucket, key, awsutil.Classify(err))
	}
	defer func() { _ = out.Body.Close() }()

	return readLimited(out.Body, maxBytes)
}

// GCSSource reads gs://bucket/object references.
type GCSSource struct {
	client *storage.Client
}

// NewGCSSource creates a GCS client using application default credentials.
func NewGCSSource(ctx context.Context) (*GCSSource, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSSource{client: client}, nil
}

func (s *GCSSource) Fetch(ctx context.Context, ref *url.URL, maxBytes int64) ([]byte, error) {
	bucket, object := ref.Host, strings.TrimPrefix(ref.Path, "/")
	if bucket == "" || object == "" {
		return nil, fmt.Errorf("invalid gs reference %q: %w", ref.String(), domain.ErrValidation)
	}

	r, err := s.client.Bucket(bucket).Object(object).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return nil, fmt.Errorf("gcs get %s/%s: %w", bucket, object, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("gcs get %s/%s: %w: %w", bucket, object, domain.ErrUnavailable, err)
	}
	defer func() { _ = r.Close() }()

	return readLimited(r, maxBytes)
}

// Close releases the GCS client.
func (s *GCSSource) Close() error {
	return s.client.Close()
}
