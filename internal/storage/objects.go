// Package storage implements the staging storage backends.
package storage

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/jittakal/kafbridge/internal/encoder"
	pkgencoder "github.com/jittakal/kafbridge/pkg/encoder"
	"github.com/jittakal/kafbridge/pkg/segment"
	pkgstorage "github.com/jittakal/kafbridge/pkg/storage"
)

// MetricsCollector defines metrics operations for storage.
type MetricsCollector interface {
	IncStorageErrors(backend string, operation string)
}

// EncoderConfig selects the staged file format.
type EncoderConfig struct {
	Format      pkgencoder.FileFormat
	Compression string
	Delimiter   string
}

func newEncoder(cfg EncoderConfig) (pkgencoder.Encoder, error) {
	compression := cfg.Compression
	if compression == "" {
		compression = encoder.DefaultCompression(cfg.Format)
	}
	enc, err := encoder.NewFactory(cfg.Format, compression, cfg.Delimiter).CreateEncoder()
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}
	return enc, nil
}

// encodeRows encodes rows into memory. Staged chunks are bounded by
// file_rotation.max_records_per_file.
func encodeRows(enc pkgencoder.Encoder, schema segment.Schema, rows []segment.ParsedRow) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := enc.Encode(&buf, schema, rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func newFile(path string, data []byte) pkgstorage.File {
	return pkgstorage.File{
		Path:        path,
		Size:        int64(len(data)),
		Fingerprint: Fingerprint(data),
	}
}

// Fingerprint returns the xxhash64 of data as 16 hex digits.
func Fingerprint(data []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}

// objectKey strips "<scheme>://<bucket>/" from path and any leading slash.
// Paths without the scheme are already keys.
func objectKey(path, scheme string) string {
	key := path
	if prefix := scheme + "://"; strings.HasPrefix(path, prefix) {
		parts := strings.SplitN(strings.TrimPrefix(path, prefix), "/", 2)
		if len(parts) == 2 {
			key = parts[1]
		} else {
			key = ""
		}
	}
	return strings.TrimPrefix(key, "/")
}

// prefixKey returns the listing prefix of a staging directory.
func prefixKey(path, scheme string) string {
	key := objectKey(path, scheme)
	if key != "" && !strings.HasSuffix(key, "/") {
		key += "/"
	}
	return key
}

// contentType returns the MIME type of a staged object.
func contentType(name string) string {
	switch {
	case strings.HasSuffix(name, ".parquet"):
		return "application/vnd.apache.parquet"
	case strings.HasSuffix(name, ".avro"):
		return "application/avro"
	case strings.HasSuffix(name, ".csv"):
		return "text/csv"
	case strings.HasSuffix(name, ".json"):
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
