package encoder

import (
	"fmt"
	"io"

	"github.com/jittakal/kafbridge/pkg/encoder"
	"github.com/jittakal/kafbridge/pkg/segment"
	"github.com/parquet-go/parquet-go"
)

// Ensure implementation satisfies interface at compile time.
var _ encoder.Encoder = (*ParquetEncoder)(nil)

// ParquetEncoder implements encoder.Encoder for Apache Parquet columnar format.
// The flat table schema is built at runtime with one required string column
// per table column.
// Supports multiple compression codecs: SNAPPY (default), GZIP, LZ4, ZSTD.
type ParquetEncoder struct {
	compressionName string
}

// NewParquetEncoder creates a new Parquet encoder with specified compression.
func NewParquetEncoder(compression string) *ParquetEncoder {
	return &ParquetEncoder{
		compressionName: compression,
	}
}

// compressionCodec converts string compression name to parquet WriterOption.
func compressionCodec(compression string) parquet.WriterOption {
	switch compression {
	case "snappy", "SNAPPY":
		return parquet.Compression(&parquet.Snappy)
	case "gzip", "GZIP":
		return parquet.Compression(&parquet.Gzip)
	case "lz4", "LZ4":
		return parquet.Compression(&parquet.Lz4Raw)
	case "zstd", "ZSTD":
		return parquet.Compression(&parquet.Zstd)
	case "uncompressed", "UNCOMPRESSED", "none", "NONE":
		return parquet.Compression(&parquet.Uncompressed)
	default:
		return parquet.Compression(&parquet.Snappy)
	}
}

// flatTableSchema builds the parquet schema of a flat table.
func flatTableSchema(schema segment.Schema) *parquet.Schema {
	group := make(parquet.Group, len(schema))
	for _, col := range schema {
		group[col.Name] = parquet.String()
	}
	return parquet.NewSchema("flat_table", group)
}

// Encode writes rows to w as a single Parquet file.
func (e *ParquetEncoder) Encode(w io.Writer, schema segment.Schema, rows []segment.ParsedRow) (int, error) {
	if len(schema) == 0 {
		return 0, fmt.Errorf("no columns to encode")
	}

	pqSchema := flatTableSchema(schema)

	// Group fields are ordered by name; map table columns to leaf indexes.
	leaves := make([]int, len(schema))
	for i, col := range schema {
		leaf, ok := pqSchema.Lookup(col.Name)
		if !ok {
			return 0, fmt.Errorf("column %s missing from parquet schema", col.Name)
		}
		leaves[i] = leaf.ColumnIndex
	}

	pqRows := make([]parquet.Row, len(rows))
	for i, row := range rows {
		if len(row.Values) != len(schema) {
			return 0, fmt.Errorf("row at offset %d has %d values, schema has %d columns", row.Offset, len(row.Values), len(schema))
		}
		pqRow := make(parquet.Row, len(schema))
		for j, v := range row.Values {
			pqRow[leaves[j]] = parquet.ByteArrayValue([]byte(v)).Level(0, 0, leaves[j])
		}
		pqRows[i] = pqRow
	}

	writer := parquet.NewWriter(
		w,
		pqSchema,
		compressionCodec(e.compressionName),
		parquet.CreatedBy("kafbridge", "1.0", "0"),
	)

	if _, err := writer.WriteRows(pqRows); err != nil {
		writer.Close()
		return 0, fmt.Errorf("failed to write rows: %w", err)
	}

	if err := writer.Close(); err != nil {
		return 0, fmt.Errorf("failed to close writer: %w", err)
	}

	return len(rows), nil
}

// Format returns the file format.
func (e *ParquetEncoder) Format() encoder.FileFormat {
	return encoder.FormatParquet
}

// FileExtension returns the file extension.
func (e *ParquetEncoder) FileExtension() string {
	return ".parquet"
}
