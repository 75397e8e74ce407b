// Package watermark implements §4.D: a durable, monotonically-advancing
// position per (connection, server_id, schema, table), backed by the
// same Iceberg-style table abstraction the event sink uses, but
// compacted on every write since it only ever holds one row per key.
package watermark

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mysql-iceberg-cdc/internal/event"
	"mysql-iceberg-cdc/internal/iceberg"
	"mysql-iceberg-cdc/internal/objectstore"
	"mysql-iceberg-cdc/internal/parquetcodec"
)

// record is the watermark table's fixed schema; one row per composite
// key (connection_name, server_id, schema, table).
type record struct {
	ConnectionName   string `parquet:"name=connection_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	ServerID         int64  `parquet:"name=server_id, type=INT64"`
	Schema           string `parquet:"name=schema, type=BYTE_ARRAY, convertedtype=UTF8"`
	Table            string `parquet:"name=table, type=BYTE_ARRAY, convertedtype=UTF8"`
	LogFile          string `parquet:"name=log_file, type=BYTE_ARRAY, convertedtype=UTF8"`
	LogPosition      int64  `parquet:"name=log_position, type=INT64"`
	BackfillComplete bool   `parquet:"name=backfill_complete, type=BOOLEAN"`
	UpdatedAtMicros  int64  `parquet:"name=updated_at, type=INT64, convertedtype=TIMESTAMP_MICROS"`
}

// Watermark is a (schema, table)'s durable replication position.
type Watermark struct {
	Position         event.Position
	BackfillComplete bool
}

// Store is the watermark table for one (connection, server_id) pair,
// rooted at s3://<bucket>/<connection>/watermarks/, database
// cdc_metadata, table watermarks.
type Store struct {
	table          *iceberg.Table
	connectionName string
	serverID       uint32
	logger         *zap.Logger
}

// New opens the watermark table for connectionName/serverID.
func New(store objectstore.Store, connectionName string, serverID uint32, logger *zap.Logger) *Store {
	location := connectionName + "/watermarks/"
	return &Store{
		table:          iceberg.Open(store, location, logger),
		connectionName: connectionName,
		serverID:       serverID,
		logger:         logger,
	}
}

// Get returns the current watermark for (schema, table), or the zero
// Watermark if no row exists yet for this key.
func (s *Store) Get(ctx context.Context, schema, table string) (Watermark, error) {
	rec, err := s.find(ctx, schema, table)
	if err != nil {
		return Watermark{}, err
	}
	if rec == nil {
		return Watermark{}, nil
	}
	return Watermark{
		Position:         event.Position{LogFile: rec.LogFile, LogPosition: rec.LogPosition},
		BackfillComplete: rec.BackfillComplete,
	}, nil
}

// IsBackfillComplete reports whether (schema, table)'s backfill has been
// marked complete.
func (s *Store) IsBackfillComplete(ctx context.Context, schema, table string) (bool, error) {
	w, err := s.Get(ctx, schema, table)
	if err != nil {
		return false, err
	}
	return w.BackfillComplete, nil
}

// Set performs the monotonic upsert of §4.D: a regression or an empty
// log file is a no-op returning false, not an error.
func (s *Store) Set(ctx context.Context, schema, table, logFile string, logPos int64) (bool, error) {
	if logFile == "" {
		s.logger.Warn("watermark: refusing to set empty log file", zap.String("schema", schema), zap.String("table", table))
		return false, nil
	}

	current, err := s.Get(ctx, schema, table)
	if err != nil {
		return false, err
	}
	next := event.Position{LogFile: logFile, LogPosition: logPos}
	if !current.Position.IsZero() && next.LessOrEqual(current.Position) {
		return false, nil
	}

	if err := s.upsert(ctx, schema, table, next, current.BackfillComplete); err != nil {
		return false, err
	}
	return true, nil
}

// MarkBackfillComplete flips backfill_complete to true, preserving the
// current position (or the zero position if none has been recorded).
func (s *Store) MarkBackfillComplete(ctx context.Context, schema, table string) error {
	current, err := s.Get(ctx, schema, table)
	if err != nil {
		return err
	}
	return s.upsert(ctx, schema, table, current.Position, true)
}

func (s *Store) upsert(ctx context.Context, schema, table string, pos event.Position, backfillComplete bool) error {
	rows, err := s.allRecords(ctx)
	if err != nil {
		return err
	}

	updated := record{
		ConnectionName:   s.connectionName,
		ServerID:         int64(s.serverID),
		Schema:           schema,
		Table:            table,
		LogFile:          pos.LogFile,
		LogPosition:      pos.LogPosition,
		BackfillComplete: backfillComplete,
		UpdatedAtMicros:  time.Now().UnixMicro(),
	}

	replaced := false
	for i, r := range rows {
		if r.ConnectionName == s.connectionName && r.ServerID == int64(s.serverID) && r.Schema == schema && r.Table == table {
			rows[i] = updated
			replaced = true
			break
		}
	}
	if !replaced {
		rows = append(rows, updated)
	}

	recs := make([]interface{}, len(rows))
	for i := range rows {
		recs[i] = &rows[i]
	}
	data, err := parquetcodec.Encode(new(record), recs)
	if err != nil {
		return fmt.Errorf("watermark: encode table: %w", err)
	}
	if _, err := s.table.Replace(ctx, data, len(recs)); err != nil {
		return fmt.Errorf("watermark: commit: %w", err)
	}
	return nil
}

func (s *Store) find(ctx context.Context, schema, table string) (*record, error) {
	rows, err := s.allRecords(ctx)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		r := rows[i]
		if r.ConnectionName == s.connectionName && r.ServerID == int64(s.serverID) && r.Schema == schema && r.Table == table {
			return &r, nil
		}
	}
	return nil, nil
}

func (s *Store) allRecords(ctx context.Context) ([]record, error) {
	files, err := s.table.ReadDataFiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: read table: %w", err)
	}
	if len(files) == 0 {
		return nil, nil
	}
	// Replace-mode commits keep exactly one data file, but read every
	// file the snapshot happens to reference defensively.
	var rows []record
	for _, f := range files {
		decoded, err := parquetcodec.Decode(f, new(record))
		if err != nil {
			return nil, fmt.Errorf("watermark: decode table: %w", err)
		}
		for _, d := range decoded {
			rows = append(rows, *d.(*record))
		}
	}
	return rows, nil
}
