package encoder

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jittakal/kafbridge/pkg/encoder"
	"github.com/jittakal/kafbridge/pkg/segment"
	"github.com/linkedin/goavro/v2"
)

// Ensure implementation satisfies interface at compile time.
var _ encoder.Encoder = (*AvroEncoder)(nil)

// AvroEncoder implements encoder.Encoder for Avro object container files.
// Every table column becomes a string field. OCF files carry a random sync
// marker, so two encodings of the same rows differ in those bytes.
type AvroEncoder struct {
	compression string
}

// NewAvroEncoder creates a new Avro encoder with the given OCF codec
// ("null", "deflate" or "snappy").
func NewAvroEncoder(compression string) (*AvroEncoder, error) {
	switch strings.ToLower(compression) {
	case "", "null", "none", "uncompressed":
		compression = goavro.CompressionNullLabel
	case "deflate":
		compression = goavro.CompressionDeflateLabel
	case "snappy":
		compression = goavro.CompressionSnappyLabel
	default:
		return nil, fmt.Errorf("unsupported avro compression: %s", compression)
	}
	return &AvroEncoder{compression: compression}, nil
}

// avroFieldName maps a column name to a valid Avro name.
func avroFieldName(name string) string {
	var b strings.Builder
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9' && i > 0:
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// avroSchema returns the Avro schema of a flat table.
func avroSchema(schema segment.Schema) (string, []string, error) {
	type field struct {
		Name string `json:"name"`
		Type string `json:"type"`
	}

	names := make([]string, len(schema))
	fields := make([]field, len(schema))
	seen := make(map[string]struct{}, len(schema))
	for i, col := range schema {
		name := avroFieldName(col.Name)
		if _, dup := seen[name]; dup {
			return "", nil, fmt.Errorf("column %s collides with another column as avro field %s", col.Name, name)
		}
		seen[name] = struct{}{}
		names[i] = name
		fields[i] = field{Name: name, Type: "string"}
	}

	doc, err := json.Marshal(map[string]any{
		"type":      "record",
		"name":      "FlatRow",
		"namespace": "io.kafbridge",
		"fields":    fields,
	})
	if err != nil {
		return "", nil, err
	}
	return string(doc), names, nil
}

// Encode writes rows to w as an Avro object container file.
func (e *AvroEncoder) Encode(w io.Writer, schema segment.Schema, rows []segment.ParsedRow) (int, error) {
	if len(schema) == 0 {
		return 0, fmt.Errorf("no columns to encode")
	}

	doc, names, err := avroSchema(schema)
	if err != nil {
		return 0, err
	}
	codec, err := goavro.NewCodec(doc)
	if err != nil {
		return 0, fmt.Errorf("failed to create avro codec: %w", err)
	}

	ocfWriter, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:               w,
		Codec:           codec,
		CompressionName: e.compression,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create OCF writer: %w", err)
	}

	batch := make([]any, 0, len(rows))
	for _, row := range rows {
		if len(row.Values) != len(schema) {
			return 0, fmt.Errorf("row at offset %d has %d values, schema has %d columns", row.Offset, len(row.Values), len(schema))
		}
		record := make(map[string]any, len(names))
		for i, name := range names {
			record[name] = row.Values[i]
		}
		batch = append(batch, record)
	}

	if err := ocfWriter.Append(batch); err != nil {
		return 0, fmt.Errorf("failed to write rows: %w", err)
	}

	return len(rows), nil
}

// Format returns the file format.
func (e *AvroEncoder) Format() encoder.FileFormat {
	return encoder.FormatAvro
}

// FileExtension returns the file extension.
func (e *AvroEncoder) FileExtension() string {
	return ".avro"
}
