// Package wire provides protobuf message framing for the job event stream.
//
// Events are encoded as google.protobuf.Struct messages and length-delimited
// using protobuf's standard varint encoding, so a stream can be appended to
// a file or a socket and read back message by message.
package wire

import (
	"bufio"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/protobuf/encoding/protodelim"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/xtxerr/invsync/config"
	"github.com/xtxerr/invsync/internal/errors"
	"github.com/xtxerr/invsync/internal/logging"
	"github.com/xtxerr/invsync/internal/notify"
	"github.com/xtxerr/invsync/internal/reconcile"
)

var log = logging.Component("wire")

// Reader reads length-delimited events from an io.Reader.
// It is safe for concurrent use.
type Reader struct {
	r  *bufio.Reader
	mu sync.Mutex
}

// NewReader creates a Reader wrapping the given io.Reader.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Read reads and decodes the next event. It returns io.EOF at a clean end
// of stream and an error if the message exceeds DefaultMaxMessageSize.
func (r *Reader) Read() (notify.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg := &structpb.Struct{}
	opts := protodelim.UnmarshalOptions{
		MaxSize: config.DefaultMaxMessageSize,
	}
	if err := opts.UnmarshalFrom(r.r, msg); err != nil {
		if err == io.EOF {
			return notify.Event{}, io.EOF
		}
		return notify.Event{}, fmt.Errorf("read event: %w", err)
	}
	return DecodeEvent(msg)
}

// ReadAll reads events until the end of the stream.
func (r *Reader) ReadAll() ([]notify.Event, error) {
	var out []notify.Event
	for {
		ev, err := r.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, ev)
	}
}

// Writer writes length-delimited events to an io.Writer.
// It is safe for concurrent use.
//
// Writer is a notify.Listener; register it with a hub to record the event
// stream. Write failures are logged and counted, never surfaced to jobs.
type Writer struct {
	w      io.Writer
	mu     sync.Mutex
	now    func() time.Time
	failed atomic.Int64
}

// NewWriter creates a Writer wrapping the given io.Writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, now: time.Now}
}

// Write encodes and writes an event with length prefix.
func (w *Writer) Write(ev notify.Event) error {
	msg, err := EncodeEvent(ev)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := protodelim.MarshalTo(w.w, msg); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// ReportProgress implements notify.Listener.
func (w *Writer) ReportProgress(jobID int64, percent int, message string) {
	w.report(notify.Event{
		Type:      notify.EventProgress,
		JobID:     jobID,
		Timestamp: w.now(),
		Percent:   percent,
		Message:   message,
	})
}

// ReportResult implements notify.Listener.
func (w *Writer) ReportResult(jobID int64, results []reconcile.SyncResult) {
	w.report(notify.Event{
		Type:      notify.EventResult,
		JobID:     jobID,
		Timestamp: w.now(),
		Percent:   100,
		Results:   results,
	})
}

func (w *Writer) report(ev notify.Event) {
	if err := w.Write(ev); err != nil {
		w.failed.Add(1)
		log.Warn("event not written", "job_id", ev.JobID, "type", string(ev.Type), "error", err)
	}
}

// Failed returns how many reports could not be written.
func (w *Writer) Failed() int64 {
	return w.failed.Load()
}

var _ notify.Listener = (*Writer)(nil)

// =============================================================================
// Event Codec
// =============================================================================

// Struct field names.
const (
	fieldType      = "type"
	fieldJobID     = "jobId"
	fieldTimestamp = "timestamp"
	fieldPercent   = "percent"
	fieldMessage   = "message"
	fieldResults   = "results"
)

// EncodeEvent converts an event to its Struct form.
func EncodeEvent(ev notify.Event) (*structpb.Struct, error) {
	fields := map[string]any{
		fieldType:      string(ev.Type),
		fieldJobID:     ev.JobID,
		fieldTimestamp: ev.Timestamp.UTC().Format(time.RFC3339Nano),
		fieldPercent:   ev.Percent,
	}
	if ev.Message != "" {
		fields[fieldMessage] = ev.Message
	}
	if ev.Type == notify.EventResult {
		results := make([]any, len(ev.Results))
		for i, r := range ev.Results {
			results[i] = encodeResult(r)
		}
		fields[fieldResults] = results
	}

	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encode event for job %d: %w", ev.JobID, err)
	}
	return msg, nil
}

func encodeResult(r reconcile.SyncResult) map[string]any {
	out := map[string]any{
		"type":     string(r.Type),
		"class":    r.Class,
		"objectId": r.ObjectID,
		"name":     r.Name,
	}
	if r.Message != "" {
		out["message"] = r.Message
	}
	if r.Source != "" {
		out["source"] = r.Source
	}
	if r.Proposed != nil {
		proposed := make(map[string]any, len(r.Proposed))
		for k, v := range r.Proposed {
			proposed[k] = v
		}
		out["proposed"] = proposed
	}
	return out
}

// DecodeEvent converts a Struct back to an event.
func DecodeEvent(msg *structpb.Struct) (notify.Event, error) {
	f := msg.GetFields()

	ev := notify.Event{
		Type:    notify.EventType(f[fieldType].GetStringValue()),
		JobID:   int64(f[fieldJobID].GetNumberValue()),
		Percent: int(f[fieldPercent].GetNumberValue()),
		Message: f[fieldMessage].GetStringValue(),
	}
	switch ev.Type {
	case notify.EventProgress, notify.EventResult:
	default:
		return notify.Event{}, fmt.Errorf("event type %q: %w", ev.Type, errors.ErrInvalidParam)
	}

	if ts := f[fieldTimestamp].GetStringValue(); ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return notify.Event{}, fmt.Errorf("event timestamp: %w", err)
		}
		ev.Timestamp = t
	}

	if ev.Type == notify.EventResult {
		values := f[fieldResults].GetListValue().GetValues()
		ev.Results = make([]reconcile.SyncResult, 0, len(values))
		for _, v := range values {
			ev.Results = append(ev.Results, decodeResult(v.GetStructValue()))
		}
	}
	return ev, nil
}

func decodeResult(s *structpb.Struct) reconcile.SyncResult {
	f := s.GetFields()
	r := reconcile.SyncResult{
		Type:     reconcile.Type(f["type"].GetStringValue()),
		Class:    f["class"].GetStringValue(),
		ObjectID: int64(f["objectId"].GetNumberValue()),
		Name:     f["name"].GetStringValue(),
		Message:  f["message"].GetStringValue(),
		Source:   f["source"].GetStringValue(),
	}
	if p := f["proposed"].GetStructValue(); p != nil {
		r.Proposed = make(map[string]string, len(p.GetFields()))
		for k, v := range p.GetFields() {
			r.Proposed[k] = v.GetStringValue()
		}
	}
	return r
}
