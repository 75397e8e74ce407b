// Package event defines the CDC event record that flows from the
// normalizer (§4.B) to the sink (§4.C), and the Position type that
// underlies the watermark's total order.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Type is the CDC event kind.
type Type string

const (
	TypeInsert   Type = "insert"
	TypeUpdate   Type = "update"
	TypeDelete   Type = "delete"
	TypeBackfill Type = "backfill"
)

// Position is a totally ordered (log_file, log_position) pair identifying
// a point in the source's binlog. The zero value represents "no position".
type Position struct {
	LogFile     string
	LogPosition int64
}

// Less reports whether p sorts strictly before o: by log file name
// lexicographically, then by position within the same file.
func (p Position) Less(o Position) bool {
	if p.LogFile != o.LogFile {
		return p.LogFile < o.LogFile
	}
	return p.LogPosition < o.LogPosition
}

// LessOrEqual reports whether p sorts at or before o.
func (p Position) LessOrEqual(o Position) bool {
	return p == o || p.Less(o)
}

func (p Position) String() string {
	return fmt.Sprintf("%s:%d", p.LogFile, p.LogPosition)
}

// IsZero reports whether p carries no position (no log file recorded).
func (p Position) IsZero() bool {
	return p.LogFile == ""
}

// ValueKind tags the native MySQL type a Value retains.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindInt
	KindFloat
	KindBool
	KindString
	KindBytes
	KindDatetime
	KindDecimal
)

// Value is a single column value, tagged with its native source type so
// that a round trip through the sink's JSON payload loses no information
// beyond datetime precision (preserved as ISO-8601 in the round trip).
type Value struct {
	Kind    ValueKind
	Int     int64
	Float   float64
	Bool    bool
	Str     string
	Bytes   []byte
	Time    time.Time
	Decimal decimal.Decimal
}

// FromDriverValue converts a value as produced by the replication
// library's row decoder into a tagged Value. MySQL replication clients
// surface column values using a small set of Go native types; anything
// outside that set is retained as its string form.
func FromDriverValue(v interface{}) Value {
	switch t := v.(type) {
	case nil:
		return Value{Kind: KindNull}
	case bool:
		return Value{Kind: KindBool, Bool: t}
	case int8:
		return Value{Kind: KindInt, Int: int64(t)}
	case int16:
		return Value{Kind: KindInt, Int: int64(t)}
	case int32:
		return Value{Kind: KindInt, Int: int64(t)}
	case int64:
		return Value{Kind: KindInt, Int: t}
	case int:
		return Value{Kind: KindInt, Int: int64(t)}
	case uint8:
		return Value{Kind: KindInt, Int: int64(t)}
	case uint16:
		return Value{Kind: KindInt, Int: int64(t)}
	case uint32:
		return Value{Kind: KindInt, Int: int64(t)}
	case uint64:
		return Value{Kind: KindInt, Int: int64(t)}
	case float32:
		return Value{Kind: KindFloat, Float: float64(t)}
	case float64:
		return Value{Kind: KindFloat, Float: t}
	case decimal.Decimal:
		return Value{Kind: KindDecimal, Decimal: t}
	case time.Time:
		return Value{Kind: KindDatetime, Time: t}
	case string:
		return Value{Kind: KindString, Str: t}
	case []byte:
		return Value{Kind: KindBytes, Bytes: append([]byte(nil), t...)}
	default:
		return Value{Kind: KindString, Str: fmt.Sprintf("%v", t)}
	}
}

// MarshalJSON renders the value in its natural JSON form, with datetimes
// encoded as ISO-8601 and decimals encoded as their exact decimal string
// (not a float, to avoid silent precision loss).
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.Bool)
	case KindInt:
		return json.Marshal(v.Int)
	case KindFloat:
		return json.Marshal(v.Float)
	case KindString:
		return json.Marshal(v.Str)
	case KindBytes:
		return json.Marshal(v.Bytes)
	case KindDatetime:
		return json.Marshal(v.Time.UTC().Format(time.RFC3339Nano))
	case KindDecimal:
		return json.Marshal(v.Decimal.String())
	default:
		return nil, fmt.Errorf("event: unknown value kind %d", v.Kind)
	}
}

// Event is one row-change record, the unit the normalizer emits and the
// sink appends.
type Event struct {
	Type        Type
	Timestamp   time.Time
	Schema      string
	Table       string
	LogFile     string
	LogPosition int64
	Row         map[string]Value
}

// Position returns the event's position in the source's binlog.
func (e Event) Position() Position {
	return Position{LogFile: e.LogFile, LogPosition: e.LogPosition}
}
