// Package encoder defines interfaces for encoding staged rows to file formats.
package encoder

import (
	"io"

	"github.com/jittakal/kafbridge/pkg/segment"
)

// FileFormat represents the staging file format.
type FileFormat string

const (
	FormatDelimited FileFormat = "delimited"
	FormatParquet   FileFormat = "parquet"
	FormatAvro      FileFormat = "avro"
)

// Encoder encodes rows to a specific file format.
type Encoder interface {
	// Encode writes rows to w and returns the number of rows written.
	// Equal input produces byte-identical output.
	Encode(w io.Writer, schema segment.Schema, rows []segment.ParsedRow) (int, error)

	// Format returns the file format this encoder produces.
	Format() FileFormat

	// FileExtension returns the file extension (e.g., ".parquet", ".avro").
	FileExtension() string
}
