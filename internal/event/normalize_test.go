package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeWrite(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	raw := RawEvent{
		Kind:        RawWrite,
		Timestamp:   ts,
		Schema:      "app",
		Table:       "accounts",
		LogFile:     "mysql-bin.000002",
		LogPosition: 120,
		ColumnNames: []string{"id", "name"},
		Rows: [][]interface{}{
			{int32(1), "alice"},
			{int32(2), "bob"},
		},
	}

	got := Normalize(raw)
	require.Len(t, got, 2)

	for i, id := range []int64{1, 2} {
		assert.Equal(t, TypeInsert, got[i].Type)
		assert.Equal(t, ts, got[i].Timestamp)
		assert.Equal(t, "mysql-bin.000002", got[i].LogFile)
		assert.Equal(t, int64(120), got[i].LogPosition)
		assert.Equal(t, id, got[i].Row["id"].Int)
	}
	assert.Equal(t, "alice", got[0].Row["name"].Str)
}

func TestNormalizeUpdateKeepsPostImageOnly(t *testing.T) {
	raw := RawEvent{
		Kind:        RawUpdate,
		ColumnNames: []string{"id", "balance"},
		LogFile:     "mysql-bin.000001",
		LogPosition: 500,
		Rows: [][]interface{}{
			{int32(1), float64(10)}, // before
			{int32(1), float64(20)}, // after
		},
	}

	got := Normalize(raw)
	require.Len(t, got, 1)
	assert.Equal(t, TypeUpdate, got[0].Type)
	assert.Equal(t, float64(20), got[0].Row["balance"].Float)
}

func TestNormalizeDeleteKeepsPreImage(t *testing.T) {
	raw := RawEvent{
		Kind:        RawDelete,
		ColumnNames: []string{"id"},
		Rows:        [][]interface{}{{int32(7)}},
	}

	got := Normalize(raw)
	require.Len(t, got, 1)
	assert.Equal(t, TypeDelete, got[0].Type)
	assert.Equal(t, int64(7), got[0].Row["id"].Int)
}

func TestNormalizeUnknownKindSkipped(t *testing.T) {
	raw := RawEvent{Kind: RawUnknown, Rows: [][]interface{}{{1}}}
	assert.Nil(t, Normalize(raw))
}

func TestNormalizeMissingColumnNameFallsBackToPositional(t *testing.T) {
	raw := RawEvent{
		Kind:        RawWrite,
		ColumnNames: []string{"id"},
		Rows:        [][]interface{}{{int32(1), "extra"}},
	}
	got := Normalize(raw)
	require.Len(t, got, 1)
	assert.Equal(t, "extra", got[0].Row["col_1"].Str)
}

func TestPositionOrdering(t *testing.T) {
	a := Position{LogFile: "mysql-bin.000001", LogPosition: 400}
	b := Position{LogFile: "mysql-bin.000002", LogPosition: 4}
	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
	assert.True(t, a.LessOrEqual(a))
	assert.False(t, a.Less(a))
}
