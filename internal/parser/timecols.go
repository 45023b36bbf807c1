package parser

import (
	"strings"
	"time"

	"github.com/jittakal/kafbridge/pkg/segment"
)

const (
	timeLayout = "2006-01-02 15:04:05"
	dateLayout = "2006-01-02"
)

// derivedTimeColumn formats the column value derived from ts, when name is a
// derived time column.
func derivedTimeColumn(name string, ts time.Time) (string, bool) {
	t := ts.UTC()
	switch strings.ToLower(name) {
	case "minute_start":
		return t.Truncate(time.Minute).Format(timeLayout), true
	case "hour_start":
		return t.Truncate(time.Hour).Format(timeLayout), true
	case "day_start":
		return dayStart(t).Format(dateLayout), true
	case "week_start":
		// weeks start on Monday
		offset := (int(t.Weekday()) + 6) % 7
		return dayStart(t).AddDate(0, 0, -offset).Format(dateLayout), true
	case "month_start":
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).Format(dateLayout), true
	case "quarter_start":
		month := time.Month((int(t.Month())-1)/3*3 + 1)
		return time.Date(t.Year(), month, 1, 0, 0, 0, 0, time.UTC).Format(dateLayout), true
	case "year_start":
		return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, time.UTC).Format(dateLayout), true
	}
	return "", false
}

func dayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// buildRow fills values in schema order. Derived time columns come from ts,
// everything else from lookup; missing fields become empty strings.
func buildRow(columns segment.Schema, ts time.Time, lookup func(column string) (string, bool)) segment.ParsedRow {
	values := make([]string, len(columns))
	for i, col := range columns {
		if !ts.IsZero() {
			if v, ok := derivedTimeColumn(col.Name, ts); ok {
				values[i] = v
				continue
			}
		}
		if v, ok := lookup(col.Name); ok {
			values[i] = v
		}
	}
	return segment.ParsedRow{Timestamp: ts, Values: values}
}

// ApplyMessageTime gives a row without a payload timestamp the message
// timestamp ts and fills its derived time columns.
func ApplyMessageTime(columns segment.Schema, row *segment.ParsedRow, ts time.Time) {
	if !row.Timestamp.IsZero() || ts.IsZero() {
		return
	}
	row.Timestamp = ts.UTC()
	for i, col := range columns {
		if i >= len(row.Values) {
			break
		}
		if v, ok := derivedTimeColumn(col.Name, row.Timestamp); ok {
			row.Values[i] = v
		}
	}
}
