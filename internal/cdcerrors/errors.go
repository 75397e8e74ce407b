// Package cdcerrors defines the sentinel error kinds the orchestrator
// branches on, following the same errors.New + fmt.Errorf("%w") wrapping
// idiom the rest of this module uses.
package cdcerrors

import "errors"

var (
	// ErrSourceUnavailable means the source MySQL connection could not be
	// established or a master-status query returned no row.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrBinlogGapped means the watermark's log file is no longer present
	// in the source's binlog file list (retention dropped it).
	ErrBinlogGapped = errors.New("binlog gapped: watermark file no longer on source")

	// ErrSinkWriteFailed means a sink batch commit did not complete; the
	// watermark must not be advanced.
	ErrSinkWriteFailed = errors.New("sink write failed")

	// ErrWatermarkWriteFailed means the watermark upsert failed after a
	// successful sink append; the batch will be re-emitted on next run.
	ErrWatermarkWriteFailed = errors.New("watermark write failed")

	// ErrConfigInvalid means required configuration is missing or malformed.
	ErrConfigInvalid = errors.New("invalid configuration")
)
