package parser

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jittakal/kafbridge/internal/errors"
	"github.com/jittakal/kafbridge/pkg/parser"
	"github.com/jittakal/kafbridge/pkg/segment"
)

// DelimitedParser maps delimited fields positionally onto the columns that
// are not derived time columns.
type DelimitedParser struct {
	columns   segment.Schema
	positions map[string]int
	fields    int
	delimiter rune
	strict    bool
	tsColumn  string
	parseTS   timestampParser
}

// NewDelimitedParser builds a delimited parser. Properties: delimiter
// (default ","), strict ("true" rejects field-count mismatches), ts_col_name
// and ts_parser.
func NewDelimitedParser(columns segment.Schema, props parser.Properties) (parser.Parser, error) {
	delim := props.Get("delimiter", ",")
	if delim == `\t` {
		delim = "\t"
	}
	r, size := utf8.DecodeRuneInString(delim)
	if r == utf8.RuneError || size != len(delim) {
		return nil, fmt.Errorf("delimiter must be a single character, got %q", delim)
	}

	p := &DelimitedParser{
		columns:   columns,
		positions: make(map[string]int, len(columns)),
		delimiter: r,
		strict:    props.Get("strict", "false") == "true",
		tsColumn:  props.Get(PropTimestampColumn, ""),
		parseTS:   newTimestampParser(props),
	}
	for _, col := range columns {
		if _, derived := derivedTimeColumn(col.Name, time.Unix(0, 0)); derived {
			continue
		}
		p.positions[strings.ToLower(col.Name)] = p.fields
		p.fields++
	}
	return p, nil
}

// Parse decodes one delimited line.
func (p *DelimitedParser) Parse(payload []byte) (segment.ParsedRow, error) {
	payload = bytes.TrimRight(payload, "\r\n")
	if len(payload) == 0 {
		return segment.ParsedRow{}, errors.Reject("empty payload")
	}
	if !utf8.Valid(payload) {
		return segment.ParsedRow{}, errors.Reject("payload is not valid UTF-8")
	}

	reader := csv.NewReader(bytes.NewReader(payload))
	reader.Comma = p.delimiter
	reader.FieldsPerRecord = -1
	fields, err := reader.Read()
	if err != nil {
		return segment.ParsedRow{}, errors.Reject("malformed delimited record: %v", err)
	}
	if p.strict && len(fields) != p.fields {
		return segment.ParsedRow{}, errors.Reject("expected %d fields, got %d", p.fields, len(fields))
	}

	lookup := func(column string) (string, bool) {
		i, ok := p.positions[strings.ToLower(column)]
		if !ok || i >= len(fields) {
			return "", false
		}
		return fields[i], true
	}

	var ts time.Time
	if p.tsColumn != "" {
		if raw, ok := lookup(p.tsColumn); ok && raw != "" {
			ts, err = p.parseTS(raw)
			if err != nil {
				return segment.ParsedRow{}, errors.Reject("invalid timestamp in %s: %v", p.tsColumn, err)
			}
		}
	}

	return buildRow(p.columns, ts, lookup), nil
}

// Name returns the registry name.
func (p *DelimitedParser) Name() string {
	return NameDelimited
}
