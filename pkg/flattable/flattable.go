// Package flattable exposes the column-schema-driven row decoder used to turn
// topic payloads into flat-table rows, and to read delimited staged output
// back into the same rows.
package flattable

import (
	"encoding/csv"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/jittakal/kafbridge/internal/errors"
	"github.com/jittakal/kafbridge/internal/parser"
	pkgparser "github.com/jittakal/kafbridge/pkg/parser"
	"github.com/jittakal/kafbridge/pkg/segment"
)

// TableInput decodes payloads of one table.
type TableInput struct {
	columns   segment.Schema
	parser    pkgparser.Parser
	delimiter rune
}

// New creates a table input for columns. delimiter is the staging delimiter
// used by DecodeStagedLine; empty means ",".
func New(columns segment.Schema, p pkgparser.Parser, delimiter string) (*TableInput, error) {
	if len(columns) == 0 {
		return nil, &errors.ConfigurationError{Component: "flattable", Reason: "no columns"}
	}
	if p == nil {
		return nil, &errors.ConfigurationError{Component: "flattable", Reason: "no parser"}
	}

	if delimiter == "" {
		delimiter = ","
	}
	if delimiter == `\t` {
		delimiter = "\t"
	}
	r, size := utf8.DecodeRuneInString(delimiter)
	if r == utf8.RuneError || size != len(delimiter) {
		return nil, &errors.ConfigurationError{
			Component: "flattable",
			Reason:    fmt.Sprintf("delimiter must be a single character, got %q", delimiter),
		}
	}

	return &TableInput{columns: columns, parser: p, delimiter: r}, nil
}

// Columns returns the table columns in order.
func (t *TableInput) Columns() segment.Schema {
	return t.columns
}

// ParseRow decodes payload into column values. Rejected payloads return an
// error wrapping errors.ErrRejected.
func (t *TableInput) ParseRow(payload []byte) ([]string, error) {
	row, err := t.parser.Parse(payload)
	if err != nil {
		return nil, err
	}
	return row.Values, nil
}

// ParseMessage decodes msg into a row carrying its partition and offset.
// Rows without a payload timestamp take the message timestamp.
func (t *TableInput) ParseMessage(msg segment.RawMessage) (segment.ParsedRow, error) {
	row, err := t.parser.Parse(msg.Payload)
	if err != nil {
		var dataErr *errors.DataError
		if errors.As(err, &dataErr) {
			dataErr.Partition = msg.Partition
			dataErr.Offset = msg.Offset
		}
		return segment.ParsedRow{}, err
	}
	if len(row.Values) != len(t.columns) {
		return segment.ParsedRow{}, &errors.DataError{
			Partition: msg.Partition,
			Offset:    msg.Offset,
			Reason:    fmt.Sprintf("parser returned %d values for %d columns", len(row.Values), len(t.columns)),
		}
	}

	row.Partition = msg.Partition
	row.Offset = msg.Offset
	parser.ApplyMessageTime(t.columns, &row, msg.Timestamp)
	return row, nil
}

// DecodeStagedLine splits one line of delimited staged output into values.
func (t *TableInput) DecodeStagedLine(line string) ([]string, error) {
	reader := csv.NewReader(strings.NewReader(line))
	reader.Comma = t.delimiter
	reader.FieldsPerRecord = len(t.columns)

	values, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to decode staged line: %w", err)
	}
	return values, nil
}
