package parser

import (
	"fmt"

	"github.com/jittakal/kafbridge/internal/errors"
	"github.com/jittakal/kafbridge/pkg/parser"
	"github.com/jittakal/kafbridge/pkg/segment"
	"github.com/linkedin/goavro/v2"
)

// AvroParser decodes Avro binary datums written with a fixed schema.
type AvroParser struct {
	columns   segment.Schema
	codec     *goavro.Codec
	separator string
	tsColumn  string
	parseTS   timestampParser
}

// NewAvroParser builds an Avro parser. Properties: schema (required),
// separator, ts_col_name and ts_parser.
func NewAvroParser(columns segment.Schema, props parser.Properties) (parser.Parser, error) {
	schema := props.Get("schema", "")
	if schema == "" {
		return nil, fmt.Errorf("avro parser requires the schema property")
	}
	codec, err := goavro.NewCodec(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to create avro codec: %w", err)
	}

	return &AvroParser{
		columns:   columns,
		codec:     codec,
		separator: props.Get(PropSeparator, "_"),
		tsColumn:  props.Get(PropTimestampColumn, "timestamp"),
		parseTS:   newTimestampParser(props),
	}, nil
}

// Parse decodes one Avro datum.
func (p *AvroParser) Parse(payload []byte) (segment.ParsedRow, error) {
	native, remaining, err := p.codec.NativeFromBinary(payload)
	if err != nil {
		return segment.ParsedRow{}, errors.Reject("malformed avro datum: %v", err)
	}
	if len(remaining) > 0 {
		return segment.ParsedRow{}, errors.Reject("%d trailing bytes after avro datum", len(remaining))
	}

	record, ok := native.(map[string]any)
	if !ok {
		return segment.ParsedRow{}, errors.Reject("avro datum is not a record")
	}

	fields := make(map[string]any, len(record))
	flatten("", record, p.separator, fields)

	ts, err := extractTimestamp(fields, p.tsColumn, p.parseTS)
	if err != nil {
		return segment.ParsedRow{}, err
	}

	return buildRow(p.columns, ts, mapLookup(fields)), nil
}

// Name returns the registry name.
func (p *AvroParser) Name() string {
	return NameAvro
}
