package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/jittakal/kafbridge/internal/errors"
	"github.com/jittakal/kafbridge/pkg/parser"
	"github.com/jittakal/kafbridge/pkg/segment"
)

// JSONParser decodes JSON objects. Column lookup is case-insensitive and
// nested fields are addressed by joining keys with the separator.
type JSONParser struct {
	columns   segment.Schema
	separator string
	tsColumn  string
	parseTS   timestampParser
}

// NewJSONParser builds a JSON parser. Properties: separator (default "_"),
// ts_col_name (default "timestamp") and ts_parser.
func NewJSONParser(columns segment.Schema, props parser.Properties) (parser.Parser, error) {
	return &JSONParser{
		columns:   columns,
		separator: props.Get(PropSeparator, "_"),
		tsColumn:  props.Get(PropTimestampColumn, "timestamp"),
		parseTS:   newTimestampParser(props),
	}, nil
}

// Parse decodes one JSON object.
func (p *JSONParser) Parse(payload []byte) (segment.ParsedRow, error) {
	root, err := decodeObject(payload)
	if err != nil {
		return segment.ParsedRow{}, errors.Reject("malformed json: %v", err)
	}
	if root == nil {
		return segment.ParsedRow{}, errors.Reject("json payload is not an object")
	}

	fields := make(map[string]any, len(root))
	flatten("", root, p.separator, fields)

	ts, err := extractTimestamp(fields, p.tsColumn, p.parseTS)
	if err != nil {
		return segment.ParsedRow{}, err
	}

	return buildRow(p.columns, ts, mapLookup(fields)), nil
}

// decodeObject decodes exactly one JSON object, keeping numbers as
// json.Number.
func decodeObject(data []byte) (map[string]any, error) {
	var obj map[string]any
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	if err := decoder.Decode(&obj); err != nil {
		return nil, err
	}
	if _, err := decoder.Token(); err != io.EOF {
		return nil, fmt.Errorf("trailing data after object")
	}
	return obj, nil
}

// Name returns the registry name.
func (p *JSONParser) Name() string {
	return NameJSON
}
