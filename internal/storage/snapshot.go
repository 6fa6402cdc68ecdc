package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

var ErrNotConfigured = errors.New("r2 storage is not configured")

const snapshotPrefix = "crops"

// R2Options configures an S3-compatible bucket for plate snapshots.
type R2Options struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	Region        string
	PublicBaseURL string
}

// SnapshotStore keeps plate crop JPEGs in an S3-compatible bucket.
type SnapshotStore struct {
	client        *s3.Client
	bucket        string
	endpoint      string
	publicBaseURL string
	now           func() time.Time
}

// NewSnapshotStoreFromEnv reads the R2_* variables. It returns
// ErrNotConfigured when the endpoint, credentials or bucket are missing.
func NewSnapshotStoreFromEnv() (*SnapshotStore, error) {
	return NewSnapshotStore(R2Options{
		Endpoint:      strings.TrimSpace(os.Getenv("R2_ENDPOINT")),
		AccessKey:     strings.TrimSpace(os.Getenv("R2_ACCESS_KEY_ID")),
		SecretKey:     strings.TrimSpace(os.Getenv("R2_SECRET_ACCESS_KEY")),
		Bucket:        strings.TrimSpace(os.Getenv("R2_BUCKET")),
		Region:        strings.TrimSpace(os.Getenv("R2_REGION")),
		PublicBaseURL: os.Getenv("R2_PUBLIC_BASE_URL"),
	})
}

func NewSnapshotStore(opts R2Options) (*SnapshotStore, error) {
	if opts.Endpoint == "" || opts.AccessKey == "" || opts.SecretKey == "" || opts.Bucket == "" {
		return nil, ErrNotConfigured
	}
	if opts.Region == "" {
		opts.Region = "auto"
	}

	awsCfg := aws.Config{
		Region:      opts.Region,
		Credentials: credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(opts.Endpoint)
		o.UsePathStyle = true
	})

	return &SnapshotStore{
		client:        client,
		bucket:        opts.Bucket,
		endpoint:      strings.TrimRight(opts.Endpoint, "/"),
		publicBaseURL: strings.TrimRight(strings.TrimSpace(opts.PublicBaseURL), "/"),
		now:           time.Now,
	}, nil
}

// UploadSnapshot stores a JPEG crop under crops/YYYY/MM/DD/<uuid>.jpg and
// returns its URL.
func (s *SnapshotStore) UploadSnapshot(ctx context.Context, jpeg []byte) (string, error) {
	if s == nil || s.client == nil {
		return "", ErrNotConfigured
	}
	if len(jpeg) == 0 {
		return "", fmt.Errorf("empty snapshot")
	}

	key := snapshotKey(s.now(), uuid.New())
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(jpeg),
		ContentType:   aws.String("image/jpeg"),
		ContentLength: aws.Int64(int64(len(jpeg))),
	})
	if err != nil {
		return "", fmt.Errorf("r2 upload failed: %w", err)
	}
	return s.objectURL(key), nil
}

func snapshotKey(at time.Time, id uuid.UUID) string {
	return path.Join(snapshotPrefix, at.UTC().Format("2006/01/02"), id.String()+".jpg")
}

func (s *SnapshotStore) objectURL(key string) string {
	base := s.endpoint
	if s.publicBaseURL != "" {
		base = s.publicBaseURL
	}
	return fmt.Sprintf("%s/%s/%s", base, s.bucket, strings.TrimLeft(key, "/"))
}
