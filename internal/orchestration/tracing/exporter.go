package tracing

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// SpanRecord is one line of a devteam trace file. Phase, participant and
// provider are lifted out of the attributes so runs can be filtered with jq
// without digging into the attribute map.
type SpanRecord struct {
	Service     string         `json:"service,omitempty"`
	TraceID     string         `json:"trace_id"`
	SpanID      string         `json:"span_id"`
	ParentID    string         `json:"parent_span_id,omitempty"`
	Name        string         `json:"name"`
	Kind        string         `json:"kind"`
	Phase       string         `json:"phase,omitempty"`
	Participant string         `json:"participant,omitempty"`
	Provider    string         `json:"provider,omitempty"`
	Start       time.Time      `json:"start_time"`
	End         time.Time      `json:"end_time"`
	DurationMs  float64        `json:"duration_ms"`
	Status      string         `json:"status"`
	StatusMsg   string         `json:"status_message,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	Events      []EventRecord  `json:"events,omitempty"`
}

// EventRecord is a span event inside a SpanRecord.
type EventRecord struct {
	Name       string         `json:"name"`
	Time       time.Time      `json:"timestamp"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// FileExporter appends SpanRecords as JSONL. Safe for concurrent use.
type FileExporter struct {
	mu  sync.Mutex
	f   *os.File
	enc *json.Encoder
}

// NewFileExporter opens path for appending, creating it and its parent
// directories when missing.
func NewFileExporter(path string) (*FileExporter, error) {
	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create trace directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600) // #nosec G304 -- configured trace path
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	return &FileExporter{f: f, enc: json.NewEncoder(f)}, nil
}

// ExportSpans implements sdktrace.SpanExporter.
func (e *FileExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.f == nil {
		return nil
	}
	for _, span := range spans {
		if err := e.enc.Encode(NewSpanRecord(span)); err != nil {
			return fmt.Errorf("encode span %s: %w", span.Name(), err)
		}
	}
	return nil
}

// Shutdown closes the file. Later calls are no-ops.
func (e *FileExporter) Shutdown(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.f == nil {
		return nil
	}
	err := e.f.Close()
	e.f, e.enc = nil, nil
	return err
}

// NewSpanRecord flattens an ended span into its file form.
func NewSpanRecord(span sdktrace.ReadOnlySpan) SpanRecord {
	attrs := attrMap(span.Attributes())
	rec := SpanRecord{
		TraceID:     span.SpanContext().TraceID().String(),
		SpanID:      span.SpanContext().SpanID().String(),
		Name:        span.Name(),
		Kind:        strings.ToUpper(span.SpanKind().String()),
		Phase:       stringAttr(attrs, AttrPhase),
		Participant: stringAttr(attrs, AttrParticipant),
		Provider:    stringAttr(attrs, AttrProvider),
		Start:       span.StartTime(),
		End:         span.EndTime(),
		DurationMs:  float64(span.EndTime().Sub(span.StartTime()).Microseconds()) / 1000,
		Status:      strings.ToUpper(span.Status().Code.String()),
		StatusMsg:   span.Status().Description,
		Attributes:  attrs,
	}
	if span.Parent().IsValid() {
		rec.ParentID = span.Parent().SpanID().String()
	}
	if res := span.Resource(); res != nil {
		if v, ok := res.Set().Value("service.name"); ok {
			rec.Service = v.AsString()
		}
	}
	for _, ev := range span.Events() {
		rec.Events = append(rec.Events, EventRecord{Name: ev.Name, Time: ev.Time, Attributes: attrMap(ev.Attributes)})
	}
	return rec
}

func attrMap(kvs []attribute.KeyValue) map[string]any {
	if len(kvs) == 0 {
		return nil
	}
	m := make(map[string]any, len(kvs))
	for _, kv := range kvs {
		m[string(kv.Key)] = kv.Value.AsInterface()
	}
	return m
}

func stringAttr(attrs map[string]any, key string) string {
	s, _ := attrs[key].(string)
	return s
}

// ReadSpanRecords parses a trace file written by FileExporter.
func ReadSpanRecords(path string) ([]SpanRecord, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var records []SpanRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for line := 1; scanner.Scan(); line++ {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec SpanRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("decode span on line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	return records, scanner.Err()
}
