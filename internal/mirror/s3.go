package mirror

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/ALOK9821/replit-clone/internal/logging"
	"github.com/ALOK9821/replit-clone/internal/metrics"
)

// S3Config holds S3 connection settings. Endpoint may point at any
// S3-compatible service (MinIO, R2); leave it empty for AWS.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

// S3Store implements Store on top of a single S3 bucket.
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store builds an S3 client from cfg.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = true
	})

	return &S3Store{client: client, bucket: cfg.Bucket}, nil
}

// Bucket returns the configured bucket name.
func (b *S3Store) Bucket() string { return b.bucket }

// List calls ListObjectsV2 once. S3 caps a page at 1000 keys.
func (b *S3Store) List(ctx context.Context, prefix, token string) (ListPage, error) {
	start := time.Now()

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(prefix),
	}
	if token != "" {
		input.ContinuationToken = aws.String(token)
	}

	out, err := b.client.ListObjectsV2(ctx, input)
	if err != nil {
		metrics.RecordStoreOperation("list_objects", time.Since(start), false)
		return ListPage{}, fmt.Errorf("list %s: %w", prefix, err)
	}
	metrics.RecordStoreOperation("list_objects", time.Since(start), true)

	page := ListPage{
		Keys:      make([]string, 0, len(out.Contents)),
		NextToken: aws.ToString(out.NextContinuationToken),
		Truncated: aws.ToBool(out.IsTruncated),
	}
	for _, obj := range out.Contents {
		if obj.Key != nil {
			page.Keys = append(page.Keys, *obj.Key)
		}
	}
	return page, nil
}

// Copy copies srcKey to dstKey inside the bucket.
func (b *S3Store) Copy(ctx context.Context, srcKey, dstKey string) error {
	start := time.Now()

	_, err := b.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(b.bucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String(copySource(b.bucket, srcKey)),
	})
	if err != nil {
		metrics.RecordStoreOperation("copy_object", time.Since(start), false)
		return fmt.Errorf("copy %s -> %s: %w", srcKey, dstKey, err)
	}

	metrics.RecordStoreOperation("copy_object", time.Since(start), true)
	logging.Debug("S3 copy object", zap.String("src", srcKey), zap.String("dst", dstKey))
	return nil
}

// Put uploads body under key, replacing any existing object.
func (b *S3Store) Put(ctx context.Context, key string, body []byte) error {
	start := time.Now()

	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		metrics.RecordStoreOperation("put_object", time.Since(start), false)
		return fmt.Errorf("put object %s: %w", key, err)
	}

	metrics.RecordStoreOperation("put_object", time.Since(start), true)
	logging.Debug("S3 put object", zap.String("key", key), zap.Int("size", len(body)))
	return nil
}

// copySource builds the URL-encoded "bucket/key" value CopyObject expects.
func copySource(bucket, key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return bucket + "/" + strings.Join(segments, "/")
}
