package sink

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mysql-iceberg-cdc/internal/event"
	"mysql-iceberg-cdc/internal/objectstore"
	"mysql-iceberg-cdc/internal/parquetcodec"
)

func TestAppendEmptyBatchIsNoop(t *testing.T) {
	s := New(objectstore.NewMemoryStore(), "conn1", "app", "accounts", zap.NewNop())
	res, err := s.Append(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.RecordCount)
}

func TestAppendCommitsAndRoundTripsPayload(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMemoryStore()
	s := New(store, "conn1", "app", "accounts", zap.NewNop())

	ts := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)
	batch := []event.Event{
		{
			Type:        event.TypeInsert,
			Timestamp:   ts,
			Schema:      "app",
			Table:       "accounts",
			LogFile:     "mysql-bin.000002",
			LogPosition: 120,
			Row: map[string]event.Value{
				"id":   event.FromDriverValue(int64(1)),
				"name": event.FromDriverValue("alice"),
			},
		},
	}

	res, err := s.Append(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 1, res.RecordCount)

	files, err := s.table.ReadDataFiles(ctx)
	require.NoError(t, err)
	require.Len(t, files, 1)

	decoded, err := parquetcodec.Decode(files[0], new(record))
	require.NoError(t, err)
	require.Len(t, decoded, 1)

	rec := decoded[0].(*record)
	assert.Equal(t, "insert", rec.EventType)
	assert.Equal(t, "mysql-bin.000002", rec.LogFile)
	assert.Equal(t, int64(120), rec.LogPosition)
	assert.Equal(t, ts, timestampFromMicros(rec.TimestampMicros))

	var row map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(rec.Payload), &row))
	assert.Equal(t, "alice", row["name"])
}

func TestAppendSplitsBatchSpanningMidnightIntoOneFilePerDay(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMemoryStore()
	s := New(store, "conn1", "app", "accounts", zap.NewNop())

	beforeMidnight := time.Date(2026, 7, 30, 23, 59, 0, 0, time.UTC)
	afterMidnight := time.Date(2026, 7, 31, 0, 1, 0, 0, time.UTC)
	batch := []event.Event{
		{Type: event.TypeInsert, Timestamp: beforeMidnight, Schema: "app", Table: "accounts",
			LogFile: "mysql-bin.000002", LogPosition: 100, Row: map[string]event.Value{"id": event.FromDriverValue(int64(1))}},
		{Type: event.TypeInsert, Timestamp: afterMidnight, Schema: "app", Table: "accounts",
			LogFile: "mysql-bin.000002", LogPosition: 200, Row: map[string]event.Value{"id": event.FromDriverValue(int64(2))}},
	}

	res, err := s.Append(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 2, res.RecordCount)

	files, err := s.table.ReadDataFiles(ctx)
	require.NoError(t, err)
	require.Len(t, files, 2)

	var days []string
	for _, f := range files {
		decoded, err := parquetcodec.Decode(f, new(record))
		require.NoError(t, err)
		require.Len(t, decoded, 1)
		rec := decoded[0].(*record)
		days = append(days, timestampFromMicros(rec.TimestampMicros).Format("2006-01-02"))
	}
	assert.ElementsMatch(t, []string{"2026-07-30", "2026-07-31"}, days)
}
