package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jaswdr/faker"
	"github.com/linkedin/goavro/v2"

	apperrors "github.com/jittakal/kafbridge/internal/errors"
	pkgparser "github.com/jittakal/kafbridge/pkg/parser"
	"github.com/jittakal/kafbridge/pkg/segment"
)

func schema(names ...string) segment.Schema {
	s := make(segment.Schema, len(names))
	for i, n := range names {
		s[i] = segment.ColumnRef{Name: n}
	}
	return s
}

func mustParser(t *testing.T, name string, columns segment.Schema, props pkgparser.Properties) pkgparser.Parser {
	t.Helper()
	p, err := DefaultRegistry().New(name, columns, props)
	if err != nil {
		t.Fatalf("New(%s) error = %v", name, err)
	}
	return p
}

func assertRejected(t *testing.T, err error) {
	t.Helper()
	if !errors.Is(err, apperrors.ErrRejected) {
		t.Fatalf("error = %v, want rejection", err)
	}
	var dataErr *apperrors.DataError
	if !errors.As(err, &dataErr) {
		t.Fatalf("error = %T, want DataError", err)
	}
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()

	want := []string{NameAvro, NameCloudEvent, NameDelimited, NameJSON}
	got := r.Names()
	if len(got) != len(want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Names()[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	if err := r.Register(NameJSON, NewJSONParser); err == nil {
		t.Error("Register() should reject duplicate names")
	}
}

func TestRegistry_UnknownParser(t *testing.T) {
	_, err := DefaultRegistry().New("protobuf", schema("a"), nil)

	var cfgErr *apperrors.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("New() error = %v, want ConfigurationError", err)
	}
	if !errors.Is(err, apperrors.ErrUnknownParser) {
		t.Error("error should wrap ErrUnknownParser")
	}
}

func TestRegistry_BadProperties(t *testing.T) {
	tests := []struct {
		name  string
		props pkgparser.Properties
	}{
		{NameAvro, nil},
		{NameAvro, pkgparser.Properties{"schema": "{not json"}},
		{NameDelimited, pkgparser.Properties{"delimiter": "::"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DefaultRegistry().New(tt.name, schema("a"), tt.props)
			if !apperrors.IsFatal(err) {
				t.Errorf("New() error = %v, want ConfigurationError", err)
			}
		})
	}
}

func TestDelimitedParser(t *testing.T) {
	p := mustParser(t, NameDelimited, schema("id", "name", "amount"), nil)

	row, err := p.Parse([]byte("7,widget,12.5\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	want := []string{"7", "widget", "12.5"}
	for i := range want {
		if row.Values[i] != want[i] {
			t.Errorf("Values[%d] = %q, want %q", i, row.Values[i], want[i])
		}
	}

	short, err := p.Parse([]byte("8,gadget"))
	if err != nil {
		t.Fatalf("Parse() of short record error = %v", err)
	}
	if short.Values[2] != "" {
		t.Errorf("missing field = %q, want empty", short.Values[2])
	}
}

func TestDelimitedParser_Rejections(t *testing.T) {
	p := mustParser(t, NameDelimited, schema("id", "name"), pkgparser.Properties{"strict": "true", "delimiter": "|"})

	tests := []struct {
		name    string
		payload []byte
	}{
		{"empty", []byte("")},
		{"too many fields", []byte("1|a|b")},
		{"too few fields", []byte("1")},
		{"bad quote", []byte(`1|"unterminated`)},
		{"invalid utf8", []byte{0xff, '|', 'a'}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Parse(tt.payload)
			assertRejected(t, err)
		})
	}

	if _, err := p.Parse([]byte("1|a")); err != nil {
		t.Errorf("Parse() of valid record error = %v", err)
	}
}

func TestDelimitedParser_TimestampAndDerivedColumns(t *testing.T) {
	p := mustParser(t, NameDelimited, schema("id", "ts", "hour_start"), pkgparser.Properties{
		PropTimestampColumn: "ts",
	})

	ts := time.Date(2024, 3, 5, 14, 37, 9, 0, time.UTC)
	row, err := p.Parse([]byte(fmt.Sprintf("1,%d", ts.UnixMilli())))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !row.Timestamp.Equal(ts) {
		t.Errorf("Timestamp = %v, want %v", row.Timestamp, ts)
	}
	if row.Values[2] != "2024-03-05 14:00:00" {
		t.Errorf("hour_start = %q", row.Values[2])
	}

	_, err = p.Parse([]byte("1,yesterday"))
	assertRejected(t, err)
}

func TestJSONParser(t *testing.T) {
	f := faker.New()
	name := f.Person().Name()
	email := f.Internet().Email()
	ts := time.Date(2024, 11, 20, 8, 15, 0, 0, time.UTC)

	payload, _ := json.Marshal(map[string]any{
		"ID":        42,
		"Customer":  map[string]any{"Name": name, "Email": email},
		"amount":    19.99,
		"paid":      true,
		"tags":      []string{"a", "b"},
		"timestamp": ts.UnixMilli(),
	})

	p := mustParser(t, NameJSON, schema("id", "customer_name", "CUSTOMER_EMAIL", "amount", "paid", "tags", "missing", "day_start"), nil)
	row, err := p.Parse(payload)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	want := []string{"42", name, email, "19.99", "true", `["a","b"]`, "", "2024-11-20"}
	for i := range want {
		if row.Values[i] != want[i] {
			t.Errorf("Values[%d] = %q, want %q", i, row.Values[i], want[i])
		}
	}
	if !row.Timestamp.Equal(ts) {
		t.Errorf("Timestamp = %v, want %v", row.Timestamp, ts)
	}
}

func TestJSONParser_TimestampParsers(t *testing.T) {
	tests := []struct {
		name    string
		props   pkgparser.Properties
		raw     string
		want    time.Time
		wantErr bool
	}{
		{
			name:  "seconds",
			props: pkgparser.Properties{PropTimestampColumn: "t", PropTimestampParser: "s"},
			raw:   `{"t": 1700000000}`,
			want:  time.Unix(1700000000, 0).UTC(),
		},
		{
			name:  "layout",
			props: pkgparser.Properties{PropTimestampColumn: "t", PropTimestampParser: time.RFC3339},
			raw:   `{"t": "2023-06-01T12:00:00Z"}`,
			want:  time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC),
		},
		{
			name:  "millis as string",
			props: pkgparser.Properties{PropTimestampColumn: "t"},
			raw:   `{"t": "1700000000123"}`,
			want:  time.UnixMilli(1700000000123).UTC(),
		},
		{
			name:  "missing timestamp",
			props: pkgparser.Properties{PropTimestampColumn: "t"},
			raw:   `{"x": 1}`,
		},
		{
			name:  "far future millis",
			props: pkgparser.Properties{PropTimestampColumn: "t"},
			raw:   `{"t": 253402300799999}`,
			want:  time.Date(9999, 12, 31, 23, 59, 59, 999000000, time.UTC),
		},
		{
			name:    "millis read as seconds",
			props:   pkgparser.Properties{PropTimestampColumn: "t", PropTimestampParser: "s"},
			raw:     `{"t": 1700000000000}`,
			wantErr: true,
		},
		{
			name:    "millis beyond year 9999",
			props:   pkgparser.Properties{PropTimestampColumn: "t"},
			raw:     `{"t": 253402300800000}`,
			wantErr: true,
		},
		{
			name:    "float beyond int64",
			props:   pkgparser.Properties{PropTimestampColumn: "t"},
			raw:     `{"t": 1e300}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := mustParser(t, NameJSON, schema("x"), tt.props)
			row, err := p.Parse([]byte(tt.raw))
			if tt.wantErr {
				assertRejected(t, err)
				return
			}
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if !row.Timestamp.Equal(tt.want) {
				t.Errorf("Timestamp = %v, want %v", row.Timestamp, tt.want)
			}
		})
	}
}

func TestJSONParser_Rejections(t *testing.T) {
	p := mustParser(t, NameJSON, schema("a"), nil)

	payloads := []string{"", "{", "[1,2]", "null", `{"timestamp": "noon"}`, `{"a": "x"} garbage`, `{"a": "x"}{"a": "y"}`}
	for _, payload := range payloads {
		t.Run(payload, func(t *testing.T) {
			_, err := p.Parse([]byte(payload))
			assertRejected(t, err)
		})
	}
}

const orderSchema = `{
	"type": "record",
	"name": "Order",
	"fields": [
		{"name": "id", "type": "long"},
		{"name": "note", "type": ["null", "string"], "default": null},
		{"name": "item", "type": {"type": "record", "name": "Item", "fields": [{"name": "sku", "type": "string"}]}},
		{"name": "timestamp", "type": "long"}
	]
}`

func TestAvroParser(t *testing.T) {
	codec, err := goavro.NewCodec(orderSchema)
	if err != nil {
		t.Fatal(err)
	}

	ts := time.Date(2024, 1, 31, 23, 59, 0, 0, time.UTC)
	datum, err := codec.BinaryFromNative(nil, map[string]any{
		"id":        int64(9),
		"note":      goavro.Union("string", "fragile"),
		"item":      map[string]any{"sku": "SKU-1"},
		"timestamp": ts.UnixMilli(),
	})
	if err != nil {
		t.Fatal(err)
	}

	p := mustParser(t, NameAvro, schema("id", "note", "item_sku", "month_start"), pkgparser.Properties{"schema": orderSchema})
	row, err := p.Parse(datum)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	want := []string{"9", "fragile", "SKU-1", "2024-01-01"}
	for i := range want {
		if row.Values[i] != want[i] {
			t.Errorf("Values[%d] = %q, want %q", i, row.Values[i], want[i])
		}
	}

	_, err = p.Parse([]byte{0x01})
	assertRejected(t, err)

	_, err = p.Parse(append(datum, 0x00))
	assertRejected(t, err)
}

func TestCloudEventParser(t *testing.T) {
	f := faker.New()
	id := f.UUID().V4()
	sentence := f.Lorem().Sentence(5)
	ts := time.Date(2024, 5, 17, 10, 30, 0, 0, time.UTC)

	payload := fmt.Sprintf(`{
		"specversion": "1.0",
		"id": %q,
		"source": "/orders",
		"type": "order.created",
		"time": %q,
		"datacontenttype": "application/json",
		"data": {"Message": %q, "qty": 3}
	}`, id, ts.Format(time.RFC3339), sentence)

	p := mustParser(t, NameCloudEvent, schema("ce_id", "ce_type", "ce_source", "message", "qty", "quarter_start"), nil)
	row, err := p.Parse([]byte(payload))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	want := []string{id, "order.created", "/orders", sentence, "3", "2024-04-01"}
	for i := range want {
		if row.Values[i] != want[i] {
			t.Errorf("Values[%d] = %q, want %q", i, row.Values[i], want[i])
		}
	}
	if !row.Timestamp.Equal(ts) {
		t.Errorf("Timestamp = %v, want %v", row.Timestamp, ts)
	}
}

func TestCloudEventParser_Rejections(t *testing.T) {
	p := mustParser(t, NameCloudEvent, schema("ce_id"), nil)

	tests := []struct {
		name    string
		payload string
	}{
		{"not json", "plain text"},
		{"missing id", `{"specversion":"1.0","source":"/s","type":"t"}`},
		{"data not object", `{"specversion":"1.0","id":"1","source":"/s","type":"t","datacontenttype":"application/json","data":[1]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Parse([]byte(tt.payload))
			assertRejected(t, err)
		})
	}
}

func TestDerivedTimeColumns(t *testing.T) {
	// Thursday
	ts := time.Date(2024, 8, 15, 13, 47, 33, 0, time.UTC)

	tests := []struct {
		column string
		want   string
	}{
		{"minute_start", "2024-08-15 13:47:00"},
		{"hour_start", "2024-08-15 13:00:00"},
		{"day_start", "2024-08-15"},
		{"week_start", "2024-08-12"},
		{"month_start", "2024-08-01"},
		{"quarter_start", "2024-07-01"},
		{"YEAR_START", "2024-01-01"},
	}

	for _, tt := range tests {
		t.Run(tt.column, func(t *testing.T) {
			got, ok := derivedTimeColumn(tt.column, ts)
			if !ok {
				t.Fatalf("%s is not a derived column", tt.column)
			}
			if got != tt.want {
				t.Errorf("%s = %q, want %q", tt.column, got, tt.want)
			}
		})
	}

	if _, ok := derivedTimeColumn("amount", ts); ok {
		t.Error("amount should not be a derived column")
	}
}

func TestApplyMessageTime(t *testing.T) {
	columns := schema("id", "day_start")
	row := segment.ParsedRow{Values: []string{"1", ""}}
	ts := time.Date(2024, 2, 29, 5, 0, 0, 0, time.UTC)

	ApplyMessageTime(columns, &row, ts)
	if !row.Timestamp.Equal(ts) || row.Values[1] != "2024-02-29" {
		t.Errorf("row = %+v", row)
	}

	other := ts.Add(48 * time.Hour)
	ApplyMessageTime(columns, &row, other)
	if !row.Timestamp.Equal(ts) {
		t.Error("ApplyMessageTime should keep a payload timestamp")
	}
}

func TestParsersAreConcurrencySafe(t *testing.T) {
	p := mustParser(t, NameJSON, schema("n"), nil)
	done := make(chan error, 8)

	for w := 0; w < 8; w++ {
		go func(w int) {
			for i := 0; i < 100; i++ {
				row, err := p.Parse([]byte(fmt.Sprintf(`{"n": %d}`, w*1000+i)))
				if err != nil {
					done <- err
					return
				}
				if row.Values[0] != fmt.Sprint(w*1000+i) {
					done <- fmt.Errorf("got %s", row.Values[0])
					return
				}
			}
			done <- nil
		}(w)
	}

	for w := 0; w < 8; w++ {
		if err := <-done; err != nil {
			t.Error(err)
		}
	}
}
