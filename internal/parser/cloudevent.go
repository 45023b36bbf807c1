package parser

import (
	"encoding/json"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/jittakal/kafbridge/internal/errors"
	"github.com/jittakal/kafbridge/pkg/parser"
	"github.com/jittakal/kafbridge/pkg/segment"
)

// CloudEventParser decodes structured-mode JSON CloudEvents. Columns are read
// from the event data object; ce_id, ce_type, ce_source, ce_subject and
// ce_time address the envelope attributes.
type CloudEventParser struct {
	columns   segment.Schema
	separator string
	tsColumn  string
	parseTS   timestampParser
}

// NewCloudEventParser builds a CloudEvents parser. The event time is the row
// timestamp unless ts_col_name names a data field.
func NewCloudEventParser(columns segment.Schema, props parser.Properties) (parser.Parser, error) {
	return &CloudEventParser{
		columns:   columns,
		separator: props.Get(PropSeparator, "_"),
		tsColumn:  props.Get(PropTimestampColumn, ""),
		parseTS:   newTimestampParser(props),
	}, nil
}

// Parse decodes one CloudEvent.
func (p *CloudEventParser) Parse(payload []byte) (segment.ParsedRow, error) {
	var event cloudevents.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return segment.ParsedRow{}, errors.Reject("malformed cloudevent: %v", err)
	}
	if err := event.Validate(); err != nil {
		return segment.ParsedRow{}, errors.Reject("invalid cloudevent: %v", err)
	}

	fields := make(map[string]any)
	if data := event.Data(); len(data) > 0 {
		obj, err := decodeObject(data)
		if err != nil {
			return segment.ParsedRow{}, errors.Reject("cloudevent data is not a json object: %v", err)
		}
		flatten("", obj, p.separator, fields)
	}

	fields["ce_id"] = event.ID()
	fields["ce_type"] = event.Type()
	fields["ce_source"] = event.Source()
	if subject := event.Subject(); subject != "" {
		fields["ce_subject"] = subject
	}

	ts := event.Time()
	if !ts.IsZero() {
		fields["ce_time"] = ts.UTC().Format(time.RFC3339Nano)
	}
	if p.tsColumn != "" {
		var err error
		if ts, err = extractTimestamp(fields, p.tsColumn, p.parseTS); err != nil {
			return segment.ParsedRow{}, err
		}
	}

	return buildRow(p.columns, ts.UTC(), mapLookup(fields)), nil
}

// Name returns the registry name.
func (p *CloudEventParser) Name() string {
	return NameCloudEvent
}
