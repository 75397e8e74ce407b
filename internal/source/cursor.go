// Package source implements §4.A: a non-blocking cursor over one
// (schema, table)'s row-change events, built on
// github.com/go-mysql-org/go-mysql/replication the same way the teacher's
// binlog_consumption.go drives it, plus the plain database/sql queries
// the teacher already uses for SHOW MASTER STATUS.
package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/go-mysql-org/go-mysql/replication"

	"mysql-iceberg-cdc/internal/cdcerrors"
	"mysql-iceberg-cdc/internal/event"
)

// drainReadTimeout bounds how long the underlying BinlogSyncer will wait
// for the next event (including heartbeats) before giving up on a quiet
// master: without it, BinlogStreamer.GetEvent blocks indefinitely on an
// idle connection, since go-mysql never signals end-of-stream on its own.
// drainHeartbeatPeriod asks the master to send a heartbeat at a shorter
// cadence so a merely-idle-but-healthy connection doesn't trip the read
// timeout. Both are threaded through BinlogSyncerConfig the same way
// store-mysql-listener.go and binlog_slave.go configure canal/BinlogSyncer.
const (
	drainReadTimeout     = 300 * time.Millisecond
	drainHeartbeatPeriod = 200 * time.Millisecond
)

// ConnParams is the source MySQL connection info, used both to open a
// replication session and a plain database/sql connection.
type ConnParams struct {
	Host   string
	Port   uint16
	User   string
	Passwd string
}

func (c ConnParams) dsn() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/", c.User, c.Passwd, c.Host, c.Port)
}

// Cursor streams one (schema, table)'s row-change events starting at a
// caller-supplied position, ending at the current tail of the stream
// rather than waiting for further events to arrive.
type Cursor struct {
	syncer      *replication.BinlogSyncer
	streamer    *replication.BinlogStreamer
	schema      string
	table       string
	columnNames []string
	currentFile string
}

// Open starts a replication session positioned at (logFile, logPos) and
// resolves column names for schema.table once, via a throwaway
// database/sql connection, caching them for the life of the cursor.
func Open(ctx context.Context, conn ConnParams, serverID uint32, schema, table, logFile string, logPos uint32) (*Cursor, error) {
	columnNames, err := resolveColumnNames(ctx, conn, schema, table)
	if err != nil {
		return nil, err
	}

	cfg := replication.BinlogSyncerConfig{
		ServerID:        serverID,
		Flavor:          "mysql",
		Host:            conn.Host,
		Port:            conn.Port,
		User:            conn.User,
		Password:        conn.Passwd,
		HeartbeatPeriod: drainHeartbeatPeriod,
		ReadTimeout:     drainReadTimeout,
	}
	syncer := replication.NewBinlogSyncer(cfg)
	streamer, err := syncer.StartSync(mysql.Position{Name: logFile, Pos: logPos})
	if err != nil {
		syncer.Close()
		return nil, fmt.Errorf("%w: start binlog sync at %s:%d: %v", cdcerrors.ErrSourceUnavailable, logFile, logPos, err)
	}

	return &Cursor{
		syncer:      syncer,
		streamer:    streamer,
		schema:      schema,
		table:       table,
		columnNames: columnNames,
		currentFile: logFile,
	}, nil
}

// Next returns the next row-change event for the cursor's (schema,
// table) in binlog order. ok is false once a single drain of the
// underlying connection (bounded by drainReadTimeout, regardless of
// whether the caller's ctx carries its own deadline) turns up nothing
// new — it is not waiting indefinitely for new events to arrive, only
// draining what is already available from the master. Rotate and
// unrelated events are consumed and skipped transparently.
func (c *Cursor) Next(ctx context.Context) (event.RawEvent, bool, error) {
	for {
		drainCtx, cancel := context.WithTimeout(ctx, drainReadTimeout)
		ev, err := c.streamer.GetEvent(drainCtx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return event.RawEvent{}, false, nil
			}
			return event.RawEvent{}, false, fmt.Errorf("source: read binlog event: %w", err)
		}

		if ev.Header.EventType == replication.ROTATE_EVENT {
			if rotate, ok := ev.Event.(*replication.RotateEvent); ok {
				c.currentFile = string(rotate.NextLogName)
			}
			continue
		}

		re, ok := ev.Event.(*replication.RowsEvent)
		if !ok {
			continue
		}
		if string(re.Table.Schema) != c.schema || string(re.Table.Table) != c.table {
			continue
		}

		kind := rawKindOf(ev.Header.EventType)
		if kind == event.RawUnknown {
			continue
		}

		raw := event.RawEvent{
			Kind:        kind,
			Timestamp:   time.Unix(int64(ev.Header.Timestamp), 0).UTC(),
			Schema:      c.schema,
			Table:       c.table,
			LogFile:     c.currentFile,
			LogPosition: int64(ev.Header.LogPos),
			ColumnNames: c.columnNames,
			Rows:        re.Rows,
		}
		return raw, true, nil
	}
}

// Close releases the replication session.
func (c *Cursor) Close() error {
	c.syncer.Close()
	return nil
}

// CurrentPosition returns the source's current binlog tail via SHOW
// MASTER STATUS.
func CurrentPosition(ctx context.Context, db *sql.DB) (event.Position, error) {
	var file string
	var pos uint32
	var unused1, unused2, unused3 sql.NullString
	err := db.QueryRowContext(ctx, "SHOW MASTER STATUS").Scan(&file, &pos, &unused1, &unused2, &unused3)
	if errors.Is(err, sql.ErrNoRows) {
		return event.Position{}, fmt.Errorf("source: SHOW MASTER STATUS returned no row: %w", cdcerrors.ErrSourceUnavailable)
	}
	if err != nil {
		return event.Position{}, fmt.Errorf("source: SHOW MASTER STATUS: %w", err)
	}
	return event.Position{LogFile: file, LogPosition: int64(pos)}, nil
}

// ListLogFiles returns the source's binlog file names, lexicographically
// sorted (oldest first — binlog file names are zero-padded sequence
// numbers, so lexicographic order is chronological order).
func ListLogFiles(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, "SHOW BINARY LOGS")
	if err != nil {
		return nil, fmt.Errorf("source: SHOW BINARY LOGS: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("source: SHOW BINARY LOGS columns: %w", err)
	}

	var files []string
	for rows.Next() {
		var name string
		scanArgs := make([]interface{}, len(cols))
		scanArgs[0] = &name
		for i := 1; i < len(cols); i++ {
			scanArgs[i] = new(sql.RawBytes)
		}
		if err := rows.Scan(scanArgs...); err != nil {
			return nil, fmt.Errorf("source: SHOW BINARY LOGS row: %w", err)
		}
		files = append(files, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("source: SHOW BINARY LOGS: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

func resolveColumnNames(ctx context.Context, conn ConnParams, schema, table string) ([]string, error) {
	db, err := sql.Open("mysql", conn.dsn())
	if err != nil {
		return nil, fmt.Errorf("%w: open connection: %v", cdcerrors.ErrSourceUnavailable, err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s.%s LIMIT 0", schema, table))
	if err != nil {
		return nil, fmt.Errorf("%w: resolve columns for %s.%s: %v", cdcerrors.ErrSourceUnavailable, schema, table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("source: column names for %s.%s: %w", schema, table, err)
	}
	return cols, nil
}

func rawKindOf(t replication.EventType) event.RawKind {
	switch t {
	case replication.WRITE_ROWS_EVENTv1, replication.WRITE_ROWS_EVENTv2:
		return event.RawWrite
	case replication.UPDATE_ROWS_EVENTv1, replication.UPDATE_ROWS_EVENTv2:
		return event.RawUpdate
	case replication.DELETE_ROWS_EVENTv1, replication.DELETE_ROWS_EVENTv2:
		return event.RawDelete
	default:
		return event.RawUnknown
	}
}
