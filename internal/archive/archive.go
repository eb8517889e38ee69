// Package archive appends finished job results to Parquet files.
//
// A Writer is a notify.Listener: register it with the hub and every
// result report becomes one row per SyncResult. Files are readable with
// Read or any Parquet tool.
package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/xtxerr/invsync/internal/logging"
	"github.com/xtxerr/invsync/internal/notify"
	"github.com/xtxerr/invsync/internal/reconcile"
)

var log = logging.Component("archive")

// ErrWriterClosed is returned when writing to a closed writer.
var ErrWriterClosed = errors.New("archive writer closed")

// =============================================================================
// Options
// =============================================================================

// Options configures the Parquet writer.
type Options struct {
	// Compression algorithm
	Compression CompressionType
}

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionGzip
)

// DefaultOptions returns default Parquet options.
func DefaultOptions() Options {
	return Options{Compression: CompressionZstd}
}

// ParseCompressionType parses a compression type string.
func ParseCompressionType(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "zstd":
		return CompressionZstd
	case "gzip":
		return CompressionGzip
	case "none", "":
		return CompressionNone
	default:
		return CompressionZstd
	}
}

func getCompression(ct CompressionType) compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// =============================================================================
// Rows
// =============================================================================

// ResultRow is one archived SyncResult.
type ResultRow struct {
	JobID       int64             `parquet:"job_id"`
	TimestampMs int64             `parquet:"timestamp_ms"`
	Type        string            `parquet:"type,dict"`
	Class       string            `parquet:"class,dict"`
	ObjectID    int64             `parquet:"object_id"`
	Name        string            `parquet:"name,zstd"`
	Message     string            `parquet:"message,optional,zstd"`
	Source      string            `parquet:"source,optional,dict"`
	Proposed    map[string]string `parquet:"proposed"`
}

// Record is an archived result with the job it belongs to.
type Record struct {
	JobID     int64
	Timestamp time.Time
	Result    reconcile.SyncResult
}

func resultToRow(jobID int64, ts time.Time, r *reconcile.SyncResult) ResultRow {
	return ResultRow{
		JobID:       jobID,
		TimestampMs: ts.UnixMilli(),
		Type:        string(r.Type),
		Class:       r.Class,
		ObjectID:    r.ObjectID,
		Name:        r.Name,
		Message:     r.Message,
		Source:      r.Source,
		Proposed:    r.Proposed,
	}
}

func rowToRecord(row *ResultRow) Record {
	rec := Record{
		JobID:     row.JobID,
		Timestamp: time.UnixMilli(row.TimestampMs).UTC(),
		Result: reconcile.SyncResult{
			Type:     reconcile.Type(row.Type),
			Class:    row.Class,
			ObjectID: row.ObjectID,
			Name:     row.Name,
			Message:  row.Message,
			Source:   row.Source,
		},
	}
	if len(row.Proposed) > 0 {
		rec.Result.Proposed = row.Proposed
	}
	return rec
}

// =============================================================================
// Writer
// =============================================================================

// Writer appends result rows to one Parquet file. The file is complete
// only after Close.
type Writer struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	writer   *parquet.GenericWriter[ResultRow]
	rowCount int64
	closed   bool
	now      func() time.Time
}

// FileName returns the archive file name for a process started at t.
func FileName(dir string, t time.Time) string {
	return filepath.Join(dir, "results-"+t.UTC().Format("20060102T150405Z")+".parquet")
}

// NewWriter creates the file at path, and its directory if needed.
func NewWriter(path string, opts Options) (*Writer, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	writer := parquet.NewGenericWriter[ResultRow](f, parquet.Compression(getCompression(opts.Compression)))

	return &Writer{
		path:   path,
		file:   f,
		writer: writer,
		now:    time.Now,
	}, nil
}

// Write appends the results of one job.
func (w *Writer) Write(jobID int64, results []reconcile.SyncResult) error {
	if len(results) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}

	ts := w.now()
	rows := make([]ResultRow, len(results))
	for i := range results {
		rows[i] = resultToRow(jobID, ts, &results[i])
	}

	n, err := w.writer.Write(rows)
	if err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	w.rowCount += int64(n)

	// One row group per job keeps partial files readable up to the last
	// completed job once closed.
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("flush rows: %w", err)
	}
	return nil
}

// ReportProgress implements notify.Listener. Progress is not archived.
func (w *Writer) ReportProgress(int64, int, string) {}

// ReportResult implements notify.Listener.
func (w *Writer) ReportResult(jobID int64, results []reconcile.SyncResult) {
	if err := w.Write(jobID, results); err != nil {
		log.Warn("results not archived", "job_id", jobID, "results", len(results), "path", w.path, "error", err)
	}
}

var _ notify.Listener = (*Writer)(nil)

// Close finalizes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.writer.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("close writer: %w", err)
	}
	return w.file.Close()
}

// RowCount returns the number of rows written.
func (w *Writer) RowCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rowCount
}

// Path returns the file path.
func (w *Writer) Path() string {
	return w.path
}

// =============================================================================
// Reader
// =============================================================================

// Read returns every record in the file at path.
func Read(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	reader := parquet.NewGenericReader[ResultRow](f)
	defer reader.Close()

	rows := make([]ResultRow, reader.NumRows())
	n, err := reader.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read rows: %w", err)
	}

	out := make([]Record, n)
	for i := 0; i < n; i++ {
		out[i] = rowToRecord(&rows[i])
	}
	return out, nil
}
