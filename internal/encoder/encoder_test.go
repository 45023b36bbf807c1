package encoder

import (
	"bytes"
	"encoding/csv"
	"testing"

	"github.com/linkedin/goavro/v2"
	"github.com/parquet-go/parquet-go"

	"github.com/jittakal/kafbridge/pkg/encoder"
	"github.com/jittakal/kafbridge/pkg/segment"
)

var testSchema = segment.Schema{{Name: "order_id"}, {Name: "amount"}, {Name: "note"}}

func testRows() []segment.ParsedRow {
	return []segment.ParsedRow{
		{Offset: 0, Values: []string{"1", "10.5", "plain"}},
		{Offset: 1, Values: []string{"2", "3", `has "quotes", and commas`}},
		{Offset: 2, Values: []string{"3", "", ""}},
	}
}

func TestNewFactory(t *testing.T) {
	factory := NewFactory(encoder.FormatParquet, "gzip", ",")
	if factory.format != encoder.FormatParquet {
		t.Errorf("format = %v, want parquet", factory.format)
	}
	if factory.compression != "gzip" {
		t.Errorf("compression = %v, want gzip", factory.compression)
	}
}

func TestFactory_CreateEncoder(t *testing.T) {
	tests := []struct {
		name    string
		format  encoder.FileFormat
		wantExt string
		wantErr bool
	}{
		{"delimited format", encoder.FormatDelimited, ".csv", false},
		{"parquet format", encoder.FormatParquet, ".parquet", false},
		{"avro format", encoder.FormatAvro, ".avro", false},
		{"unsupported format", encoder.FileFormat("orc"), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compression := DefaultCompression(tt.format)
			enc, err := NewFactory(tt.format, compression, ",").CreateEncoder()
			if (err != nil) != tt.wantErr {
				t.Fatalf("CreateEncoder() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if enc.Format() != tt.format {
				t.Errorf("Format() = %v, want %v", enc.Format(), tt.format)
			}
			if enc.FileExtension() != tt.wantExt {
				t.Errorf("FileExtension() = %v, want %v", enc.FileExtension(), tt.wantExt)
			}
		})
	}
}

func TestSupportedFormats(t *testing.T) {
	if got := len(SupportedFormats()); got != 3 {
		t.Errorf("len(SupportedFormats()) = %d, want 3", got)
	}
	if len(SupportedCompressions(encoder.FormatParquet)) == 0 {
		t.Error("parquet should support compressions")
	}
	if got := SupportedCompressions(encoder.FormatDelimited); len(got) != 1 || got[0] != DefaultCompression(encoder.FormatDelimited) {
		t.Errorf("SupportedCompressions(delimited) = %v, want only the default", got)
	}
}

func TestDelimitedEncoder_RoundTrip(t *testing.T) {
	enc, err := NewDelimitedEncoder("|")
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	n, err := enc.Encode(&buf, testSchema, testRows())
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if n != 3 {
		t.Errorf("Encode() = %d, want 3", n)
	}

	reader := csv.NewReader(&buf)
	reader.Comma = '|'
	records, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	for i, want := range testRows() {
		for j := range want.Values {
			if records[i][j] != want.Values[j] {
				t.Errorf("record[%d][%d] = %q, want %q", i, j, records[i][j], want.Values[j])
			}
		}
	}
}

func TestDelimitedEncoder_InvalidDelimiter(t *testing.T) {
	if _, err := NewDelimitedEncoder("||"); err == nil {
		t.Error("NewDelimitedEncoder() should reject multi-character delimiters")
	}
	enc, err := NewDelimitedEncoder(`\t`)
	if err != nil {
		t.Fatal(err)
	}
	if enc.Delimiter() != '\t' {
		t.Errorf("Delimiter() = %q, want tab", enc.Delimiter())
	}
}

func TestEncoders_RejectSchemaMismatch(t *testing.T) {
	bad := []segment.ParsedRow{{Offset: 9, Values: []string{"only one"}}}

	delimited, _ := NewDelimitedEncoder(",")
	avroEnc, _ := NewAvroEncoder("null")
	for _, enc := range []encoder.Encoder{delimited, NewParquetEncoder("snappy"), avroEnc} {
		t.Run(string(enc.Format()), func(t *testing.T) {
			if _, err := enc.Encode(&bytes.Buffer{}, testSchema, bad); err == nil {
				t.Error("Encode() should reject rows that do not match the schema")
			}
		})
	}
}

type parquetTestRow struct {
	OrderID string `parquet:"order_id"`
	Amount  string `parquet:"amount"`
	Note    string `parquet:"note"`
}

func TestParquetEncoder_RoundTrip(t *testing.T) {
	for _, compression := range []string{"snappy", "gzip", "lz4", "zstd", "uncompressed"} {
		t.Run(compression, func(t *testing.T) {
			var buf bytes.Buffer
			if _, err := NewParquetEncoder(compression).Encode(&buf, testSchema, testRows()); err != nil {
				t.Fatalf("Encode() error = %v", err)
			}

			data := buf.Bytes()
			rows, err := parquet.Read[parquetTestRow](bytes.NewReader(data), int64(len(data)))
			if err != nil {
				t.Fatalf("failed to read parquet: %v", err)
			}
			if len(rows) != 3 {
				t.Fatalf("read %d rows, want 3", len(rows))
			}
			if rows[1].Note != `has "quotes", and commas` || rows[0].Amount != "10.5" || rows[2].OrderID != "3" {
				t.Errorf("rows = %+v", rows)
			}
		})
	}
}

func TestEncoders_Deterministic(t *testing.T) {
	delimited, _ := NewDelimitedEncoder(",")

	for _, enc := range []encoder.Encoder{delimited, NewParquetEncoder("snappy")} {
		t.Run(string(enc.Format()), func(t *testing.T) {
			var a, b bytes.Buffer
			if _, err := enc.Encode(&a, testSchema, testRows()); err != nil {
				t.Fatal(err)
			}
			if _, err := enc.Encode(&b, testSchema, testRows()); err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(a.Bytes(), b.Bytes()) {
				t.Error("encoding the same rows twice produced different bytes")
			}
		})
	}
}

func TestAvroEncoder_RoundTrip(t *testing.T) {
	for _, compression := range []string{"null", "deflate", "snappy"} {
		t.Run(compression, func(t *testing.T) {
			enc, err := NewAvroEncoder(compression)
			if err != nil {
				t.Fatal(err)
			}

			var buf bytes.Buffer
			if _, err := enc.Encode(&buf, testSchema, testRows()); err != nil {
				t.Fatalf("Encode() error = %v", err)
			}

			reader, err := goavro.NewOCFReader(&buf)
			if err != nil {
				t.Fatalf("NewOCFReader() error = %v", err)
			}
			var got []map[string]any
			for reader.Scan() {
				datum, err := reader.Read()
				if err != nil {
					t.Fatalf("Read() error = %v", err)
				}
				got = append(got, datum.(map[string]any))
			}
			if len(got) != 3 {
				t.Fatalf("read %d records, want 3", len(got))
			}
			if got[0]["order_id"] != "1" || got[1]["note"] != `has "quotes", and commas` {
				t.Errorf("records = %v", got)
			}
		})
	}
}

func TestAvroEncoder_Errors(t *testing.T) {
	if _, err := NewAvroEncoder("brotli"); err == nil {
		t.Error("NewAvroEncoder() should reject unknown codecs")
	}

	enc, _ := NewAvroEncoder("null")
	colliding := segment.Schema{{Name: "a-b"}, {Name: "a_b"}}
	rows := []segment.ParsedRow{{Values: []string{"1", "2"}}}
	if _, err := enc.Encode(&bytes.Buffer{}, colliding, rows); err == nil {
		t.Error("Encode() should reject colliding avro field names")
	}
}

func TestAvroFieldName(t *testing.T) {
	tests := map[string]string{
		"order_id":  "order_id",
		"1st":       "_st",
		"col-name":  "col_name",
		"Mixed9Ok":  "Mixed9Ok",
		"with.dots": "with_dots",
	}
	for in, want := range tests {
		if got := avroFieldName(in); got != want {
			t.Errorf("avroFieldName(%q) = %q, want %q", in, got, want)
		}
	}
}
