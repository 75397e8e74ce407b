// Package parquetcodec adapts xitongsys/parquet-go's reader/writer,
// which are built around a named file-like source, to the in-memory
// byte slices the Iceberg table abstraction deals in: one data file per
// sink batch, encoded to bytes and handed straight to the object store
// rather than ever touching a local disk path.
package parquetcodec

import (
	"fmt"
	"io"
	"reflect"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"
)

// memFile is a minimal in-memory source.ParquetFile: the parquet writer
// only ever needs sequential writes to a growing buffer, and the reader
// only needs random-access reads over a fixed buffer, so a plain slice
// with a cursor covers both directions without a temp file.
type memFile struct {
	buf    []byte
	offset int64
}

func newMemFile(initial []byte) *memFile {
	return &memFile{buf: initial}
}

func (f *memFile) Read(p []byte) (int, error) {
	if f.offset >= int64(len(f.buf)) {
		return 0, io.EOF
	}
	n := copy(p, f.buf[f.offset:])
	f.offset += int64(n)
	return n, nil
}

func (f *memFile) Write(p []byte) (int, error) {
	end := f.offset + int64(len(p))
	if end > int64(len(f.buf)) {
		grown := make([]byte, end)
		copy(grown, f.buf)
		f.buf = grown
	}
	copy(f.buf[f.offset:end], p)
	f.offset = end
	return len(p), nil
}

func (f *memFile) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = f.offset
	case io.SeekEnd:
		base = int64(len(f.buf))
	default:
		return 0, fmt.Errorf("parquetcodec: invalid whence %d", whence)
	}
	f.offset = base + offset
	return f.offset, nil
}

func (f *memFile) Close() error { return nil }

func (f *memFile) Open(name string) (source.ParquetFile, error) {
	return &memFile{buf: f.buf}, nil
}

func (f *memFile) Create(name string) (source.ParquetFile, error) {
	return &memFile{}, nil
}

// Encode writes records (each a pointer to the same struct type as
// sample) to a single Parquet file and returns its bytes.
func Encode(sample interface{}, records []interface{}) ([]byte, error) {
	file := newMemFile(nil)
	pw, err := writer.NewParquetWriter(file, sample, 1)
	if err != nil {
		return nil, fmt.Errorf("parquetcodec: new writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, rec := range records {
		if err := pw.Write(rec); err != nil {
			return nil, fmt.Errorf("parquetcodec: write record: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("parquetcodec: finalize: %w", err)
	}
	return file.buf, nil
}

// Decode reads every record out of a Parquet file previously produced by
// Encode with the same sample type, returning one *T per row (T inferred
// from sample's concrete type).
func Decode(data []byte, sample interface{}) ([]interface{}, error) {
	file := newMemFile(data)
	pr, err := reader.NewParquetReader(file, sample, 1)
	if err != nil {
		return nil, fmt.Errorf("parquetcodec: new reader: %w", err)
	}
	defer pr.ReadStop()

	numRows := int(pr.GetNumRows())
	if numRows == 0 {
		return nil, nil
	}
	records, err := pr.ReadByNumber(numRows)
	if err != nil {
		return nil, fmt.Errorf("parquetcodec: read rows: %w", err)
	}
	// ReadByNumber yields struct values of the sample's element type; hand
	// each one back behind a pointer, the same shape Encode was given.
	out := make([]interface{}, len(records))
	for i, rec := range records {
		v := reflect.ValueOf(rec)
		if v.Kind() == reflect.Ptr {
			out[i] = rec
			continue
		}
		p := reflect.New(v.Type())
		p.Elem().Set(v)
		out[i] = p.Interface()
	}
	return out, nil
}
