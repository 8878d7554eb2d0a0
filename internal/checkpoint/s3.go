package checkpoint

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config holds settings for the s3 backend. Endpoint and UsePathStyle
// support S3-compatible stores such as MinIO.
type S3Config struct {
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	Key             string `yaml:"key"`
	Endpoint        string `yaml:"endpoint,omitempty"`
	AccessKeyID     string `yaml:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

// DefaultS3Config returns settings that still require a bucket name.
func DefaultS3Config() S3Config {
	return S3Config{
		Region: "us-east-1",
		Key:    "checkpoints/sqlsentry",
	}
}

// S3Store keeps the cursor in a single S3 object.
type S3Store struct {
	client *s3.Client
	bucket string
	key    string
}

// NewS3Store builds an S3 client. Static credentials are used when both
// keys are set, otherwise the default provider chain applies.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("checkpoint: s3 bucket is required")
	}
	key := cfg.Key
	if key == "" {
		key = DefaultS3Config().Key
	}

	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
		opts = append(opts, awsconfig.WithCredentialsProvider(creds))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return &S3Store{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		bucket: cfg.Bucket,
		key:    key,
	}, nil
}

// Load reads the cursor object. A missing object means no checkpoint yet.
func (s *S3Store) Load(ctx context.Context) (time.Time, bool, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("checkpoint: get s3://%s/%s: %w", s.bucket, s.key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("checkpoint: read s3://%s/%s: %w", s.bucket, s.key, err)
	}

	t, err := parseValue(strings.TrimSpace(string(data)))
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w (s3://%s/%s)", err, s.bucket, s.key)
	}
	return t, true, nil
}

// Save overwrites the cursor object.
func (s *S3Store) Save(ctx context.Context, t time.Time) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key),
		Body:        bytes.NewReader([]byte(t.Format(format))),
		ContentType: aws.String("text/plain"),
	})
	if err != nil {
		return fmt.Errorf("checkpoint: put s3://%s/%s: %w", s.bucket, s.key, err)
	}
	return nil
}

// Close is a no-op, the SDK client holds no persistent connection.
func (s *S3Store) Close() error {
	return nil
}
