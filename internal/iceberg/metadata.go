package iceberg

import "time"

// DataFile references one committed columnar data file.
type DataFile struct {
	Key         string `json:"key"`
	Partition   string `json:"partition,omitempty"`
	RecordCount int    `json:"record_count"`
}

// Snapshot is one committed version of the table: the full set of data
// files a reader must union to see the table's current contents. Real
// Iceberg snapshots reference a manifest list; we keep the file list
// inline since these tables are small enough that a separate manifest
// layer buys nothing.
type Snapshot struct {
	ID         string     `json:"id"`
	CommittedAt time.Time `json:"committed_at"`
	DataFiles  []DataFile `json:"data_files"`
}

// Metadata is the table's single metadata document. Table.commit swaps
// it in place behind an optimistic-concurrency conditional write on
// metadataKey, the same role Iceberg's catalog pointer plays for a real
// catalog-backed table.
type Metadata struct {
	Location          string     `json:"location"`
	SchemaVersion     int        `json:"schema_version"`
	CurrentSnapshotID string     `json:"current_snapshot_id"`
	Snapshots         []Snapshot `json:"snapshots"`
}

// currentDataFiles returns the data files of the current snapshot, or
// nil if the table has never been committed to.
func (m Metadata) currentDataFiles() []DataFile {
	for _, s := range m.Snapshots {
		if s.ID == m.CurrentSnapshotID {
			return s.DataFiles
		}
	}
	return nil
}
