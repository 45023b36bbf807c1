package encoder

import (
	"encoding/csv"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/jittakal/kafbridge/pkg/encoder"
	"github.com/jittakal/kafbridge/pkg/segment"
)

// Ensure implementation satisfies interface at compile time.
var _ encoder.Encoder = (*DelimitedEncoder)(nil)

// DelimitedEncoder writes one delimited line per row with RFC 4180 quoting.
type DelimitedEncoder struct {
	delimiter rune
}

// NewDelimitedEncoder creates a delimited encoder. An empty delimiter means ",".
func NewDelimitedEncoder(delimiter string) (*DelimitedEncoder, error) {
	if delimiter == "" {
		delimiter = ","
	}
	if delimiter == `\t` {
		delimiter = "\t"
	}
	r, size := utf8.DecodeRuneInString(delimiter)
	if r == utf8.RuneError || size != len(delimiter) {
		return nil, fmt.Errorf("delimiter must be a single character, got %q", delimiter)
	}
	return &DelimitedEncoder{delimiter: r}, nil
}

// Delimiter returns the field delimiter.
func (e *DelimitedEncoder) Delimiter() rune {
	return e.delimiter
}

// Encode writes rows to w.
func (e *DelimitedEncoder) Encode(w io.Writer, schema segment.Schema, rows []segment.ParsedRow) (int, error) {
	writer := csv.NewWriter(w)
	writer.Comma = e.delimiter

	for i, row := range rows {
		if len(row.Values) != len(schema) {
			return i, fmt.Errorf("row at offset %d has %d values, schema has %d columns", row.Offset, len(row.Values), len(schema))
		}
		if err := writer.Write(row.Values); err != nil {
			return i, fmt.Errorf("failed to write row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return 0, fmt.Errorf("failed to flush rows: %w", err)
	}
	return len(rows), nil
}

// Format returns the file format.
func (e *DelimitedEncoder) Format() encoder.FileFormat {
	return encoder.FormatDelimited
}

// FileExtension returns the file extension.
func (e *DelimitedEncoder) FileExtension() string {
	return ".csv"
}
