package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/jittakal/kafbridge/internal/errors"
	pkgencoder "github.com/jittakal/kafbridge/pkg/encoder"
	"github.com/jittakal/kafbridge/pkg/segment"
	pkgstorage "github.com/jittakal/kafbridge/pkg/storage"
)

// Ensure implementation satisfies interface at compile time.
var _ pkgstorage.Writer = (*S3Writer)(nil)

// S3Config contains AWS S3 configuration.
type S3Config struct {
	Bucket       string
	Region       string
	Endpoint     string
	UsePathStyle bool
	SSEEnabled   bool
	SSEKMSKeyID  string
}

func validateS3Config(cfg S3Config) error {
	if cfg.Bucket == "" {
		return fmt.Errorf("s3 bucket is required")
	}
	if cfg.Region == "" {
		return fmt.Errorf("s3 region is required")
	}
	return nil
}

// S3Writer implements storage.Writer for AWS S3 storage.
// It provides multipart upload support and server-side encryption (SSE).
type S3Writer struct {
	client      *s3.Client
	uploader    *manager.Uploader
	bucket      string
	sseEnabled  bool
	sseKMSKeyID string
	encoder     pkgencoder.Encoder
	logger      *slog.Logger
	metrics     MetricsCollector
}

// NewS3Writer creates a new S3 storage writer.
func NewS3Writer(
	ctx context.Context,
	cfg S3Config,
	encoding EncoderConfig,
	logger *slog.Logger,
	metrics MetricsCollector,
) (*S3Writer, error) {
	if err := validateS3Config(cfg); err != nil {
		return nil, err
	}

	awsConfig, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	uploader := manager.NewUploader(s3Client, func(u *manager.Uploader) {
		u.PartSize = 10 * 1024 * 1024 // 10MB parts
		u.Concurrency = 5
	})

	enc, err := newEncoder(encoding)
	if err != nil {
		return nil, err
	}

	logger.Info("S3 writer created",
		"bucket", cfg.Bucket,
		"region", cfg.Region,
		"format", enc.Format(),
		"sse_enabled", cfg.SSEEnabled,
	)

	return &S3Writer{
		client:      s3Client,
		uploader:    uploader,
		bucket:      cfg.Bucket,
		sseEnabled:  cfg.SSEEnabled,
		sseKMSKeyID: cfg.SSEKMSKeyID,
		encoder:     enc,
		logger:      logger,
		metrics:     metrics,
	}, nil
}

// WriteRows encodes rows and uploads them to path plus the format extension.
func (w *S3Writer) WriteRows(ctx context.Context, path string, schema segment.Schema, rows []segment.ParsedRow) (pkgstorage.File, error) {
	data, err := encodeRows(w.encoder, schema, rows)
	if err != nil {
		w.incErrors("encode")
		return pkgstorage.File{}, fmt.Errorf("failed to encode rows: %w", err)
	}

	final := path + w.encoder.FileExtension()
	if err := w.PutObject(ctx, final, data); err != nil {
		return pkgstorage.File{}, err
	}
	return newFile(final, data), nil
}

// PutObject uploads data to the key of path.
func (w *S3Writer) PutObject(ctx context.Context, path string, data []byte) error {
	startTime := time.Now()
	key := objectKey(path, "s3")

	input := &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType(key)),
	}
	if w.sseEnabled {
		if w.sseKMSKeyID != "" {
			input.ServerSideEncryption = types.ServerSideEncryptionAwsKms
			input.SSEKMSKeyId = aws.String(w.sseKMSKeyID)
		} else {
			input.ServerSideEncryption = types.ServerSideEncryptionAes256
		}
	}

	result, err := w.uploader.Upload(ctx, input)
	if err != nil {
		w.incErrors("upload")
		return &errors.StorageError{Operation: "upload", Path: path, Err: err}
	}

	w.logger.Debug("uploaded object to S3",
		"bucket", w.bucket,
		"key", key,
		"file_size", len(data),
		"location", result.Location,
		"duration_ms", time.Since(startTime).Milliseconds(),
	)
	return nil
}

// GetObject downloads the object at path.
func (w *S3Writer) GetObject(ctx context.Context, path string) ([]byte, error) {
	key := objectKey(path, "s3")
	out, err := w.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(w.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, &errors.StorageError{Operation: "get", Path: path, Err: errors.ErrManifestNotFound}
		}
		w.incErrors("read")
		return nil, &errors.StorageError{Operation: "read", Path: path, Err: err}
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		w.incErrors("read")
		return nil, &errors.StorageError{Operation: "read", Path: path, Err: err}
	}
	return data, nil
}

// Purge deletes every object below prefix.
func (w *S3Writer) Purge(ctx context.Context, prefix string) error {
	keyPrefix := prefixKey(prefix, "s3")
	if keyPrefix == "" {
		return fmt.Errorf("refusing to purge the whole bucket %s", w.bucket)
	}

	paginator := s3.NewListObjectsV2Paginator(w.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(w.bucket),
		Prefix: aws.String(keyPrefix),
	})

	deleted := 0
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			w.incErrors("list")
			return &errors.StorageError{Operation: "delete", Path: prefix, Err: err}
		}
		if len(page.Contents) == 0 {
			continue
		}

		ids := make([]types.ObjectIdentifier, 0, len(page.Contents))
		for _, obj := range page.Contents {
			ids = append(ids, types.ObjectIdentifier{Key: obj.Key})
		}
		if _, err := w.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(w.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		}); err != nil {
			w.incErrors("delete")
			return &errors.StorageError{Operation: "delete", Path: prefix, Err: err}
		}
		deleted += len(ids)
	}

	w.logger.Debug("purged S3 prefix", "bucket", w.bucket, "prefix", keyPrefix, "objects", deleted)
	return nil
}

// Close closes the S3 writer.
func (w *S3Writer) Close() error {
	w.logger.Info("closing S3 writer")
	return nil
}

func (w *S3Writer) incErrors(op string) {
	if w.metrics != nil {
		w.metrics.IncStorageErrors("s3", op)
	}
}
