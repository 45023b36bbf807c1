package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/jittakal/kafbridge/internal/errors"
	pkgencoder "github.com/jittakal/kafbridge/pkg/encoder"
	"github.com/jittakal/kafbridge/pkg/segment"
	pkgstorage "github.com/jittakal/kafbridge/pkg/storage"
)

// Ensure implementation satisfies interface at compile time.
var _ pkgstorage.Writer = (*GCSWriter)(nil)

// GCSConfig contains Google Cloud Storage configuration.
type GCSConfig struct {
	Bucket               string
	ProjectID            string
	CredentialsFile      string
	CredentialsJSON      string
	Endpoint             string
	UseDefaultCredential bool
}

func validateGCSConfig(cfg GCSConfig) error {
	if cfg.Bucket == "" {
		return fmt.Errorf("gcs bucket is required")
	}
	return nil
}

// gcsClientOptions selects the authentication method: default credentials,
// a JSON document, or a service account file.
func gcsClientOptions(cfg GCSConfig) []option.ClientOption {
	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	switch {
	case cfg.UseDefaultCredential:
	case cfg.CredentialsJSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	return opts
}

// GCSWriter implements storage.Writer for Google Cloud Storage.
type GCSWriter struct {
	client  *storage.Client
	bucket  string
	encoder pkgencoder.Encoder
	logger  *slog.Logger
	metrics MetricsCollector
}

// NewGCSWriter creates a new Google Cloud Storage writer.
func NewGCSWriter(
	ctx context.Context,
	cfg GCSConfig,
	encoding EncoderConfig,
	logger *slog.Logger,
	metrics MetricsCollector,
) (*GCSWriter, error) {
	if err := validateGCSConfig(cfg); err != nil {
		return nil, err
	}

	enc, err := newEncoder(encoding)
	if err != nil {
		return nil, err
	}

	client, err := storage.NewClient(ctx, gcsClientOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	logger.Info("GCS writer created",
		"bucket", cfg.Bucket,
		"project_id", cfg.ProjectID,
		"format", enc.Format(),
	)

	return &GCSWriter{
		client:  client,
		bucket:  cfg.Bucket,
		encoder: enc,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// WriteRows encodes rows and uploads them to path plus the format extension.
func (w *GCSWriter) WriteRows(ctx context.Context, path string, schema segment.Schema, rows []segment.ParsedRow) (pkgstorage.File, error) {
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

// PutObject uploads data to the object of path.
func (w *GCSWriter) PutObject(ctx context.Context, path string, data []byte) error {
	startTime := time.Now()
	objectPath := objectKey(path, "gs")

	gcsWriter := w.client.Bucket(w.bucket).Object(objectPath).NewWriter(ctx)
	gcsWriter.ContentType = contentType(objectPath)

	if _, err := gcsWriter.Write(data); err != nil {
		gcsWriter.Close()
		w.incErrors("upload")
		return &errors.StorageError{Operation: "upload", Path: path, Err: err}
	}

	// Close finalizes the upload
	if err := gcsWriter.Close(); err != nil {
		w.incErrors("close")
		return &errors.StorageError{Operation: "upload", Path: path, Err: err}
	}

	w.logger.Debug("uploaded object to GCS",
		"bucket", w.bucket,
		"object", objectPath,
		"file_size", len(data),
		"duration_ms", time.Since(startTime).Milliseconds(),
	)
	return nil
}

// GetObject downloads the object at path.
func (w *GCSWriter) GetObject(ctx context.Context, path string) ([]byte, error) {
	reader, err := w.client.Bucket(w.bucket).Object(objectKey(path, "gs")).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, &errors.StorageError{Operation: "get", Path: path, Err: errors.ErrManifestNotFound}
		}
		w.incErrors("read")
		return nil, &errors.StorageError{Operation: "read", Path: path, Err: err}
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		w.incErrors("read")
		return nil, &errors.StorageError{Operation: "read", Path: path, Err: err}
	}
	return data, nil
}

// Purge deletes every object below prefix.
func (w *GCSWriter) Purge(ctx context.Context, prefix string) error {
	objectPrefix := prefixKey(prefix, "gs")
	if objectPrefix == "" {
		return fmt.Errorf("refusing to purge the whole bucket %s", w.bucket)
	}

	bucket := w.client.Bucket(w.bucket)
	it := bucket.Objects(ctx, &storage.Query{Prefix: objectPrefix})
	deleted := 0
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			w.incErrors("list")
			return &errors.StorageError{Operation: "delete", Path: prefix, Err: err}
		}
		if err := bucket.Object(attrs.Name).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			w.incErrors("delete")
			return &errors.StorageError{Operation: "delete", Path: prefix, Err: err}
		}
		deleted++
	}

	w.logger.Debug("purged GCS prefix", "bucket", w.bucket, "prefix", objectPrefix, "objects", deleted)
	return nil
}

// Close closes the GCS writer.
func (w *GCSWriter) Close() error {
	w.logger.Info("closing GCS writer")
	if w.client != nil {
		return w.client.Close()
	}
	return nil
}

func (w *GCSWriter) incErrors(op string) {
	if w.metrics != nil {
		w.metrics.IncStorageErrors("gcs", op)
	}
}
