// Package sink implements §4.C: one append-only Iceberg-style table per
// (schema, table), storing each CDC event as a fixed five-column record
// with the row payload deferred to a JSON string column.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"go.uber.org/zap"

	"mysql-iceberg-cdc/internal/cdcerrors"
	"mysql-iceberg-cdc/internal/event"
	"mysql-iceberg-cdc/internal/iceberg"
	"mysql-iceberg-cdc/internal/objectstore"
	"mysql-iceberg-cdc/internal/parquetcodec"
)

// record is the fixed, versioned-once Parquet schema of §4.C.
type record struct {
	EventType       string `parquet:"name=event_type, type=BYTE_ARRAY, convertedtype=UTF8"`
	TimestampMicros int64  `parquet:"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MICROS"`
	LogFile         string `parquet:"name=log_file, type=BYTE_ARRAY, convertedtype=UTF8"`
	LogPosition     int64  `parquet:"name=log_position, type=INT64"`
	Payload         string `parquet:"name=payload, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// AppendResult is the outcome of one Append call.
type AppendResult struct {
	RecordCount int
}

// Sink is one instance per (schema, table), rooted at
// s3://<bucket>/<connection>/<schema>/<table>/.
type Sink struct {
	table  *iceberg.Table
	schema string
	name   string
	logger *zap.Logger
}

// New opens (or lazily prepares to create) the Iceberg-style table for
// connectionName/schema/table.
func New(store objectstore.Store, connectionName, schema, table string, logger *zap.Logger) *Sink {
	location := path.Join(connectionName, schema, table)
	return &Sink{
		table:  iceberg.Open(store, location, logger),
		schema: schema,
		name:   table,
		logger: logger,
	}
}

// Append commits batch, split into one data file per day (UTC) its
// events' timestamps fall on — a batch straddling midnight produces one
// commit per distinct day rather than mislabeling every row under
// whichever day the first event happened to land on. Each day's commit is
// atomic on its own; a batch spanning several days is not committed
// atomically as a whole: when a later day's commit fails, the days
// committed before it stay in the table. An empty batch is a no-op.
// Failure on any day's commit must not be followed by a watermark
// advance, so this returns on the first error without committing the
// remaining days.
func (s *Sink) Append(ctx context.Context, batch []event.Event) (AppendResult, error) {
	if len(batch) == 0 {
		return AppendResult{RecordCount: 0}, nil
	}

	order := make([]string, 0, len(batch))
	byDay := make(map[string][]event.Event, 1)
	for _, e := range batch {
		day := e.Timestamp.UTC().Format("2006-01-02")
		if _, seen := byDay[day]; !seen {
			order = append(order, day)
		}
		byDay[day] = append(byDay[day], e)
	}

	var total int
	for _, day := range order {
		n, err := s.appendPartition(ctx, day, byDay[day])
		if err != nil {
			return AppendResult{}, err
		}
		total += n
	}
	return AppendResult{RecordCount: total}, nil
}

// appendPartition commits one day's worth of a batch as a single data
// file.
func (s *Sink) appendPartition(ctx context.Context, partition string, events []event.Event) (int, error) {
	records := make([]interface{}, 0, len(events))
	for _, e := range events {
		payload, err := json.Marshal(e.Row)
		if err != nil {
			return 0, fmt.Errorf("sink: marshal row payload: %w", err)
		}
		records = append(records, &record{
			EventType:       string(e.Type),
			TimestampMicros: e.Timestamp.UnixMicro(),
			LogFile:         e.LogFile,
			LogPosition:     e.LogPosition,
			Payload:         string(payload),
		})
	}

	data, err := parquetcodec.Encode(new(record), records)
	if err != nil {
		return 0, fmt.Errorf("%w: encode batch: %v", cdcerrors.ErrSinkWriteFailed, err)
	}

	if _, err := s.table.Append(ctx, partition, data, len(records)); err != nil {
		return 0, fmt.Errorf("%w: commit batch for %s.%s: %v", cdcerrors.ErrSinkWriteFailed, s.schema, s.name, err)
	}

	s.logger.Info("sink: appended batch",
		zap.String("schema", s.schema),
		zap.String("table", s.name),
		zap.Int("record_count", len(records)),
		zap.String("partition", partition),
	)
	return len(records), nil
}

// OrphanDataFiles reports data files committed to the table's object
// store that the current snapshot no longer references, so a caller can
// log or schedule their cleanup without the iceberg table needing to grow
// a delete path itself.
func (s *Sink) OrphanDataFiles(ctx context.Context) ([]string, error) {
	return s.table.OrphanDataFiles(ctx)
}

// timestampFromMicros is used by tests that decode records back out of a
// committed data file.
func timestampFromMicros(micros int64) time.Time {
	return time.UnixMicro(micros).UTC()
}
