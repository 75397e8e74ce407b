package iceberg

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mysql-iceberg-cdc/internal/objectstore"
)

func TestAppendAccumulatesDataFiles(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMemoryStore()
	tbl := Open(store, "conn/app/accounts/", zap.NewNop())

	snap1, err := tbl.Append(ctx, "2026-07-31", []byte("batch-1"), 2)
	require.NoError(t, err)
	assert.Len(t, snap1.DataFiles, 1)

	snap2, err := tbl.Append(ctx, "2026-07-31", []byte("batch-2"), 3)
	require.NoError(t, err)
	require.Len(t, snap2.DataFiles, 2)

	files, err := tbl.ReadDataFiles(ctx)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, []byte("batch-1"), files[0])
	assert.Equal(t, []byte("batch-2"), files[1])
}

func TestReplaceKeepsOnlyLatestDataFile(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMemoryStore()
	tbl := Open(store, "conn/watermarks/", zap.NewNop())

	_, err := tbl.Replace(ctx, []byte("row-v1"), 1)
	require.NoError(t, err)
	snap2, err := tbl.Replace(ctx, []byte("row-v2"), 1)
	require.NoError(t, err)

	require.Len(t, snap2.DataFiles, 1)
	files, err := tbl.ReadDataFiles(ctx)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, []byte("row-v2"), files[0])
}

func TestCurrentSnapshotZeroValueBeforeFirstCommit(t *testing.T) {
	ctx := context.Background()
	tbl := Open(objectstore.NewMemoryStore(), "conn/app/new_table/", zap.NewNop())

	snap, err := tbl.CurrentSnapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.ID)
	assert.Empty(t, snap.DataFiles)
}

func TestOrphanDataFilesReportsUnreferencedKeys(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMemoryStore()
	tbl := Open(store, "conn/app/accounts/", zap.NewNop())

	_, err := tbl.Append(ctx, "2026-07-31", []byte("batch-1"), 1)
	require.NoError(t, err)

	orphanKey := "conn/app/accounts/data/dt=2026-07-31/leftover.parquet"
	_, err = store.Put(ctx, orphanKey, []byte("abandoned"))
	require.NoError(t, err)

	orphans, err := tbl.OrphanDataFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{orphanKey}, orphans)
}

func TestOrphanDataFilesEmptyWhenEverythingReferenced(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMemoryStore()
	tbl := Open(store, "conn/app/accounts/", zap.NewNop())

	_, err := tbl.Append(ctx, "2026-07-31", []byte("batch-1"), 1)
	require.NoError(t, err)

	orphans, err := tbl.OrphanDataFiles(ctx)
	require.NoError(t, err)
	assert.Empty(t, orphans)
}

// racingStore runs race once, just before the first conditional write
// it forwards, so another writer's commit lands between our metadata read
// and our PutIfMatch.
type racingStore struct {
	objectstore.Store
	race func()
}

func (r *racingStore) PutIfMatch(ctx context.Context, key string, body []byte, etag string) (string, error) {
	if race := r.race; race != nil {
		r.race = nil
		race()
	}
	return r.Store.PutIfMatch(ctx, key, body, etag)
}

func TestCommitRetriesOnConcurrentMetadataWrite(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMemoryStore()
	const location = "conn/app/accounts/"

	_, err := Open(store, location, zap.NewNop()).Append(ctx, "2026-07-31", []byte("first"), 1)
	require.NoError(t, err)

	// Simulate a concurrent writer racing to commit first by writing the
	// metadata key directly before our commit's conditional PUT lands.
	racing := &racingStore{Store: store}
	racing.race = func() {
		_, err := Open(store, location, zap.NewNop()).Append(ctx, "2026-07-31", []byte("concurrent"), 1)
		require.NoError(t, err)
	}

	snap, err := Open(racing, location, zap.NewNop()).Append(ctx, "2026-07-31", []byte("second"), 1)
	require.NoError(t, err)
	assert.Len(t, snap.DataFiles, 3)
}
