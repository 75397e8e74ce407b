package orchestrator

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mysql-iceberg-cdc/internal/cdcerrors"
	"mysql-iceberg-cdc/internal/objectstore"
	"mysql-iceberg-cdc/internal/sink"
	"mysql-iceberg-cdc/internal/source"
	"mysql-iceberg-cdc/internal/watermark"
)

func newTestOrchestrator(store objectstore.Store) *Orchestrator {
	sk := sink.New(store, "conn1", "app", "accounts", zap.NewNop())
	wm := watermark.New(store, "conn1", 1, zap.NewNop())
	return New(source.ConnParams{Host: "127.0.0.1", Port: 3306, User: "root", Passwd: "x"}, 1, "app", "accounts", 10, sk, wm, zap.NewNop())
}

func TestRunBackfillSkipsWhenAlreadyComplete(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMemoryStore()
	o := newTestOrchestrator(store)

	require.NoError(t, o.watermark.MarkBackfillComplete(ctx, "app", "accounts"))

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, o.RunBackfill(ctx, db))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunBackfillScansAppendsAndAdvancesWatermark(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMemoryStore()
	o := newTestOrchestrator(store)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SHOW MASTER STATUS").WillReturnRows(
		sqlmock.NewRows([]string{"File", "Position", "Binlog_Do_DB", "Binlog_Ignore_DB", "Executed_Gtid_Set"}).
			AddRow("mysql-bin.000005", 42, "", "", ""))

	mock.ExpectQuery("SELECT \\* FROM app.accounts").WillReturnRows(
		sqlmock.NewRows([]string{"id", "name"}).
			AddRow(1, "alice").
			AddRow(2, "bob"))

	require.NoError(t, o.RunBackfill(ctx, db))
	require.NoError(t, mock.ExpectationsWereMet())

	w, err := o.watermark.Get(ctx, "app", "accounts")
	require.NoError(t, err)
	assert.Equal(t, "mysql-bin.000005", w.Position.LogFile)
	assert.Equal(t, int64(42), w.Position.LogPosition)
	assert.True(t, w.BackfillComplete)
}

func TestIndexOf(t *testing.T) {
	files := []string{"mysql-bin.000001", "mysql-bin.000002", "mysql-bin.000003"}
	assert.Equal(t, 1, indexOf(files, "mysql-bin.000002"))
	assert.Equal(t, -1, indexOf(files, "mysql-bin.000099"))
}

func TestRunLiveFirstRunInitializesWatermarkWithoutReplay(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMemoryStore()
	o := newTestOrchestrator(store)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SHOW MASTER STATUS").WillReturnRows(
		sqlmock.NewRows([]string{"File", "Position", "Binlog_Do_DB", "Binlog_Ignore_DB", "Executed_Gtid_Set"}).
			AddRow("mysql-bin.000005", 42, "", "", ""))

	require.NoError(t, o.RunLive(ctx, db))
	require.NoError(t, mock.ExpectationsWereMet())

	w, err := o.watermark.Get(ctx, "app", "accounts")
	require.NoError(t, err)
	assert.Equal(t, "mysql-bin.000005", w.Position.LogFile)
	assert.Equal(t, int64(42), w.Position.LogPosition)
}

func TestRunLiveGapReturnsBinlogGapped(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMemoryStore()
	o := newTestOrchestrator(store)
	_, err := o.watermark.Set(ctx, "app", "accounts", "mysql-bin.000001", 4)
	require.NoError(t, err)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SHOW MASTER STATUS").WillReturnRows(
		sqlmock.NewRows([]string{"File", "Position", "Binlog_Do_DB", "Binlog_Ignore_DB", "Executed_Gtid_Set"}).
			AddRow("mysql-bin.000005", 42, "", "", ""))
	mock.ExpectQuery("SHOW BINARY LOGS").WillReturnRows(
		sqlmock.NewRows([]string{"Log_name", "File_size"}).
			AddRow("mysql-bin.000002", 1024).
			AddRow("mysql-bin.000003", 1024))

	err = o.RunLive(ctx, db)
	require.Error(t, err)
	assert.ErrorIs(t, err, cdcerrors.ErrBinlogGapped)
}

func TestTextualizeConvertsBytesToString(t *testing.T) {
	assert.Equal(t, "alice", textualize([]byte("alice")))
	assert.Equal(t, int64(1), textualize(int64(1)))
}
