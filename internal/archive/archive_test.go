package archive

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/xtxerr/invsync/internal/notify"
	"github.com/xtxerr/invsync/internal/reconcile"
)

func TestWriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "results.parquet")

	w, err := NewWriter(path, DefaultOptions())
	if err != nil {
		t.Fatalf("NewWriter() error = %v", err)
	}
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return ts }

	if err := w.Write(1, []reconcile.SyncResult{
		{Type: reconcile.TypeCreate, Class: "VLAN", Name: "Sales", Proposed: map[string]string{"vlanId": "10", "status": "active"}, Message: "new object", Source: "sw1"},
		{Type: reconcile.TypeDelete, Class: "VLAN", ObjectID: 41, Name: "old", Message: "absent from poll"},
	}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.Write(2, nil); err != nil {
		t.Fatalf("Write(empty) error = %v", err)
	}
	if err := w.Write(3, []reconcile.SyncResult{{Type: reconcile.TypeNoChange, Class: "VLAN", ObjectID: 1, Name: "default"}}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if w.RowCount() != 3 {
		t.Errorf("RowCount() = %d, want 3", w.RowCount())
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := w.Write(4, []reconcile.SyncResult{{Type: reconcile.TypeNoChange}}); err != ErrWriterClosed {
		t.Errorf("Write() after Close error = %v", err)
	}

	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Read() = %d records, want 3", len(got))
	}

	first := got[0]
	if first.JobID != 1 || !first.Timestamp.Equal(ts) {
		t.Errorf("record 0 = job %d at %s", first.JobID, first.Timestamp)
	}
	if r := first.Result; r.Type != reconcile.TypeCreate || r.Name != "Sales" || r.Source != "sw1" || r.Proposed["vlanId"] != "10" {
		t.Errorf("record 0 result = %+v", r)
	}
	if r := got[1].Result; r.Type != reconcile.TypeDelete || r.ObjectID != 41 || r.Proposed != nil {
		t.Errorf("record 1 result = %+v", r)
	}
	if got[2].JobID != 3 || got[2].Result.Name != "default" {
		t.Errorf("record 2 = %+v", got[2])
	}
}

func TestWriter_Listener(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.parquet")
	w, err := NewWriter(path, Options{Compression: ParseCompressionType("snappy")})
	if err != nil {
		t.Fatalf("NewWriter() error = %v", err)
	}

	hub := notify.NewHub()
	sub := hub.Register(w)
	hub.ReportProgress(5, 50, "ignored")
	hub.ReportResult(5, []reconcile.SyncResult{{Type: reconcile.TypeUpdate, Class: "VLAN", ObjectID: 9, Name: "x"}})
	sub.Close()

	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(got) != 1 || got[0].JobID != 5 || got[0].Result.Type != reconcile.TypeUpdate {
		t.Errorf("Read() = %+v", got)
	}
}

func TestParseCompressionType(t *testing.T) {
	tests := map[string]CompressionType{
		"":       CompressionNone,
		"none":   CompressionNone,
		"snappy": CompressionSnappy,
		"gzip":   CompressionGzip,
		"zstd":   CompressionZstd,
		"bogus":  CompressionZstd,
	}
	for in, want := range tests {
		if got := ParseCompressionType(in); got != want {
			t.Errorf("ParseCompressionType(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestFileName(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 30, 5, 0, time.FixedZone("CET", 3600))
	got := FileName("/var/lib/invsync", ts)
	if want := "/var/lib/invsync/results-20260301T113005Z.parquet"; got != want {
		t.Errorf("FileName() = %q, want %q", got, want)
	}
}
