package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"

	appconfig "hlsflow/internal/config"
	"hlsflow/internal/telemetry"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

var ErrNotFound = errors.New("object not found")

// deleteBatch is the DeleteObjects per-request limit.
const deleteBatch = 1000

// ObjectStore is the subset of object storage used by the processors.
type ObjectStore interface {
	Download(ctx context.Context, key, dst string) (int64, error)
	Upload(ctx context.Context, key, src, contentType string) error
	Put(ctx context.Context, key string, body []byte, contentType string) error
	Delete(ctx context.Context, keys []string) error
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

type S3 struct {
	Bucket string

	S3Client   *s3.Client
	Uploader   *manager.Uploader
	Downloader *manager.Downloader
}

// NewS3 builds a client for any S3 compatible endpoint. An empty endpoint
// means AWS itself.
func NewS3(ctx context.Context, cfg appconfig.StorageConfig) (*S3, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey, cfg.SecretKey, "",
		)))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	telemetry.Logger.Info("Object store client initialized",
		zap.String("bucket", cfg.Bucket), zap.String("endpoint", cfg.Endpoint))

	return &S3{
		Bucket:     cfg.Bucket,
		S3Client:   client,
		Uploader:   manager.NewUploader(client),
		Downloader: manager.NewDownloader(client),
	}, nil
}

// Download writes the object at key to the local file dst.
func (s *S3) Download(ctx context.Context, key, dst string) (int64, error) {
	f, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n, err := s.Downloader.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		var notFound *types.NotFound
		if errors.As(err, &noKey) || errors.As(err, &notFound) {
			return 0, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return 0, fmt.Errorf("failed to download %q: %w", key, err)
	}
	return n, nil
}

// Upload streams the local file src to key.
func (s *S3) Upload(ctx context.Context, key, src, contentType string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = s.Uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.Bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %q: %w", key, err)
	}
	return nil
}

func (s *S3) Put(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := s.S3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to put %q: %w", key, err)
	}
	return nil
}

// Delete removes keys in batches. Keys that do not exist are not an error.
func (s *S3) Delete(ctx context.Context, keys []string) error {
	for start := 0; start < len(keys); start += deleteBatch {
		end := min(start+deleteBatch, len(keys))

		objects := make([]types.ObjectIdentifier, 0, end-start)
		for _, k := range keys[start:end] {
			objects = append(objects, types.ObjectIdentifier{Key: aws.String(k)})
		}

		out, err := s.S3Client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.Bucket),
			Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("failed to delete objects: %w", err)
		}
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			return fmt.Errorf("failed to delete %q: %s", aws.ToString(first.Key), aws.ToString(first.Message))
		}
	}
	return nil
}

// DeletePrefix removes every object under prefix and reports how many were
// deleted.
func (s *S3) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.S3Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.Bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to list %q: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}

	if err := s.Delete(ctx, keys); err != nil {
		return 0, err
	}
	return len(keys), nil
}
