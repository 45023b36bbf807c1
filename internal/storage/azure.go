package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/jittakal/kafbridge/internal/errors"
	pkgencoder "github.com/jittakal/kafbridge/pkg/encoder"
	"github.com/jittakal/kafbridge/pkg/segment"
	pkgstorage "github.com/jittakal/kafbridge/pkg/storage"
)

// Ensure implementation satisfies interface at compile time.
var _ pkgstorage.Writer = (*AzureWriter)(nil)

// AzureConfig contains Azure Blob Storage configuration.
type AzureConfig struct {
	AccountName   string
	AccountKey    string
	ContainerName string
	Endpoint      string
}

func validateAzureConfig(cfg AzureConfig) error {
	if cfg.AccountName == "" {
		return fmt.Errorf("azure account name is required")
	}
	if cfg.AccountKey == "" {
		return fmt.Errorf("azure account key is required")
	}
	if cfg.ContainerName == "" {
		return fmt.Errorf("azure container is required")
	}
	return nil
}

// azureConnectionString builds the shared key connection string.
func azureConnectionString(cfg AzureConfig) string {
	if cfg.Endpoint != "" {
		return fmt.Sprintf("DefaultEndpointsProtocol=https;AccountName=%s;AccountKey=%s;BlobEndpoint=%s",
			cfg.AccountName, cfg.AccountKey, cfg.Endpoint)
	}
	return fmt.Sprintf("DefaultEndpointsProtocol=https;AccountName=%s;AccountKey=%s;EndpointSuffix=core.windows.net",
		cfg.AccountName, cfg.AccountKey)
}

// AzureWriter implements storage.Writer for Azure Blob Storage.
type AzureWriter struct {
	client        *azblob.Client
	containerName string
	encoder       pkgencoder.Encoder
	logger        *slog.Logger
	metrics       MetricsCollector
}

// NewAzureWriter creates a new Azure Blob storage writer.
func NewAzureWriter(
	cfg AzureConfig,
	encoding EncoderConfig,
	logger *slog.Logger,
	metrics MetricsCollector,
) (*AzureWriter, error) {
	if err := validateAzureConfig(cfg); err != nil {
		return nil, err
	}

	client, err := azblob.NewClientFromConnectionString(azureConnectionString(cfg), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure client: %w", err)
	}

	enc, err := newEncoder(encoding)
	if err != nil {
		return nil, err
	}

	logger.Info("Azure writer created",
		"container", cfg.ContainerName,
		"account", cfg.AccountName,
		"format", enc.Format(),
	)

	return &AzureWriter{
		client:        client,
		containerName: cfg.ContainerName,
		encoder:       enc,
		logger:        logger,
		metrics:       metrics,
	}, nil
}

// WriteRows encodes rows and uploads them to path plus the format extension.
func (w *AzureWriter) WriteRows(ctx context.Context, path string, schema segment.Schema, rows []segment.ParsedRow) (pkgstorage.File, error) {
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

// PutObject uploads data as the blob of path.
func (w *AzureWriter) PutObject(ctx context.Context, path string, data []byte) error {
	startTime := time.Now()
	blobPath := objectKey(path, "wasbs")

	ct := contentType(blobPath)
	_, err := w.client.UploadBuffer(ctx, w.containerName, blobPath, data, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &ct},
	})
	if err != nil {
		w.incErrors("upload")
		return &errors.StorageError{Operation: "upload", Path: path, Err: err}
	}

	w.logger.Debug("uploaded blob to Azure",
		"container", w.containerName,
		"blob", blobPath,
		"file_size", len(data),
		"duration_ms", time.Since(startTime).Milliseconds(),
	)
	return nil
}

// GetObject downloads the blob at path.
func (w *AzureWriter) GetObject(ctx context.Context, path string) ([]byte, error) {
	resp, err := w.client.DownloadStream(ctx, w.containerName, objectKey(path, "wasbs"), nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, &errors.StorageError{Operation: "get", Path: path, Err: errors.ErrManifestNotFound}
		}
		w.incErrors("read")
		return nil, &errors.StorageError{Operation: "read", Path: path, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		w.incErrors("read")
		return nil, &errors.StorageError{Operation: "read", Path: path, Err: err}
	}
	return data, nil
}

// Purge deletes every blob below prefix.
func (w *AzureWriter) Purge(ctx context.Context, prefix string) error {
	blobPrefix := prefixKey(prefix, "wasbs")
	if blobPrefix == "" {
		return fmt.Errorf("refusing to purge the whole container %s", w.containerName)
	}

	pager := w.client.NewListBlobsFlatPager(w.containerName, &azblob.ListBlobsFlatOptions{Prefix: &blobPrefix})
	deleted := 0
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			w.incErrors("list")
			return &errors.StorageError{Operation: "delete", Path: prefix, Err: err}
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			if _, err := w.client.DeleteBlob(ctx, w.containerName, *item.Name, nil); err != nil &&
				!bloberror.HasCode(err, bloberror.BlobNotFound) {
				w.incErrors("delete")
				return &errors.StorageError{Operation: "delete", Path: prefix, Err: err}
			}
			deleted++
		}
	}

	w.logger.Debug("purged Azure prefix", "container", w.containerName, "prefix", blobPrefix, "blobs", deleted)
	return nil
}

// Close closes the Azure writer.
func (w *AzureWriter) Close() error {
	w.logger.Info("Azure writer closed")
	return nil
}

func (w *AzureWriter) incErrors(op string) {
	if w.metrics != nil {
		w.metrics.IncStorageErrors("azure", op)
	}
}
