package event

import (
	"strconv"
	"time"
)

// RawKind is the replication-engine row-change kind a RawEvent carries,
// prior to normalization.
type RawKind int

const (
	RawUnknown RawKind = iota
	RawWrite
	RawUpdate
	RawDelete
)

// RawEvent is the per-engine row-change record the source cursor (§4.A)
// yields. Rows holds one entry per changed row for Write/Delete, and
// before/after pairs (before, after, before, after, ...) for Update —
// the same shape go-mysql-org/go-mysql's RowsEvent uses.
type RawEvent struct {
	Kind        RawKind
	Timestamp   time.Time
	Schema      string
	Table       string
	LogFile     string
	LogPosition int64
	ColumnNames []string
	Rows        [][]interface{}
}

// Normalize is the pure function of §4.B: it converts one raw row-change
// event into zero or more CDC events. Unknown event kinds are skipped,
// not an error. Every row within the enclosing event inherits that
// event's log position — the position identifies the event, not the row.
func Normalize(raw RawEvent) []Event {
	switch raw.Kind {
	case RawWrite:
		events := make([]Event, 0, len(raw.Rows))
		for _, row := range raw.Rows {
			events = append(events, raw.toEvent(TypeInsert, row))
		}
		return events
	case RawDelete:
		events := make([]Event, 0, len(raw.Rows))
		for _, row := range raw.Rows {
			events = append(events, raw.toEvent(TypeDelete, row))
		}
		return events
	case RawUpdate:
		events := make([]Event, 0, len(raw.Rows)/2)
		for i := 0; i+1 < len(raw.Rows); i += 2 {
			after := raw.Rows[i+1]
			events = append(events, raw.toEvent(TypeUpdate, after))
		}
		return events
	default:
		return nil
	}
}

func (raw RawEvent) toEvent(t Type, row []interface{}) Event {
	fields := make(map[string]Value, len(row))
	for i, v := range row {
		name := columnName(raw.ColumnNames, i)
		fields[name] = FromDriverValue(v)
	}
	return Event{
		Type:        t,
		Timestamp:   raw.Timestamp,
		Schema:      raw.Schema,
		Table:       raw.Table,
		LogFile:     raw.LogFile,
		LogPosition: raw.LogPosition,
		Row:         fields,
	}
}

func columnName(names []string, i int) string {
	if i < len(names) {
		return names[i]
	}
	// More values than resolved column names (schema drift since the
	// cursor was opened); fall back to a positional name.
	return "col_" + strconv.Itoa(i)
}
