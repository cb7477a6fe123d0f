package tracing

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func phaseStub(name string, status codes.Code) tracetest.SpanStub {
	start := time.Now()
	return tracetest.SpanStub{
		Name:      name,
		SpanKind:  trace.SpanKindInternal,
		StartTime: start,
		EndTime:   start.Add(100 * time.Millisecond),
		Status:    sdktrace.Status{Code: status},
		Resource:  resource.NewSchemaless(attribute.String("service.name", "devteam")),
		Attributes: []attribute.KeyValue{
			attribute.String(AttrPhase, "architecture"),
			attribute.String(AttrParticipant, "architect"),
			attribute.Int(AttrIteration, 1),
		},
		Events: []sdktrace.Event{
			{
				Name:       EventFailover,
				Time:       start.Add(10 * time.Millisecond),
				Attributes: []attribute.KeyValue{attribute.String(AttrFailoverTo, "anthropic")},
			},
		},
	}
}

func TestNewFileExporter_CreatesParentDirectories(t *testing.T) {
	tracePath := filepath.Join(t.TempDir(), "nested", "dir", "traces.jsonl")

	exporter, err := NewFileExporter(tracePath)
	require.NoError(t, err)
	require.NoError(t, exporter.Shutdown(context.Background()))
	require.FileExists(t, tracePath)
}

func TestFileExporter_WritesReadableJSONL(t *testing.T) {
	tracePath := filepath.Join(t.TempDir(), "traces.jsonl")
	exporter, err := NewFileExporter(tracePath)
	require.NoError(t, err)

	err = exporter.ExportSpans(context.Background(), []sdktrace.ReadOnlySpan{
		phaseStub("phase.architecture", codes.Ok).Snapshot(),
		phaseStub("phase.review", codes.Error).Snapshot(),
	})
	require.NoError(t, err)
	require.NoError(t, exporter.Shutdown(context.Background()))

	records, err := ReadSpanRecords(tracePath)
	require.NoError(t, err)
	require.Len(t, records, 2)

	rec := records[0]
	require.Equal(t, "phase.architecture", rec.Name)
	require.Equal(t, "devteam", rec.Service)
	require.Equal(t, "INTERNAL", rec.Kind)
	require.Equal(t, "OK", rec.Status)
	require.Greater(t, rec.DurationMs, 0.0)
	require.Equal(t, "architect", rec.Attributes[AttrParticipant])
	require.EqualValues(t, 1, rec.Attributes[AttrIteration])
	require.Len(t, rec.Events, 1)
	require.Equal(t, "anthropic", rec.Events[0].Attributes[AttrFailoverTo])

	require.Equal(t, "ERROR", records[1].Status)
}

func TestFileExporter_AppendsAcrossExporters(t *testing.T) {
	tracePath := filepath.Join(t.TempDir(), "traces.jsonl")
	for i := 0; i < 2; i++ {
		exporter, err := NewFileExporter(tracePath)
		require.NoError(t, err)
		require.NoError(t, exporter.ExportSpans(context.Background(),
			[]sdktrace.ReadOnlySpan{phaseStub("phase.design", codes.Ok).Snapshot()}))
		require.NoError(t, exporter.Shutdown(context.Background()))
	}

	records, err := ReadSpanRecords(tracePath)
	require.NoError(t, err)
	require.Len(t, records, 2)
}

func TestFileExporter_ConcurrentExports(t *testing.T) {
	tracePath := filepath.Join(t.TempDir(), "traces.jsonl")
	exporter, err := NewFileExporter(tracePath)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				_ = exporter.ExportSpans(context.Background(),
					[]sdktrace.ReadOnlySpan{phaseStub("phase.review", codes.Ok).Snapshot()})
			}
		}()
	}
	wg.Wait()
	require.NoError(t, exporter.Shutdown(context.Background()))

	records, err := ReadSpanRecords(tracePath)
	require.NoError(t, err)
	require.Len(t, records, 50)
}

func TestFileExporter_EmptyBatchAndShutdownTwice(t *testing.T) {
	exporter, err := NewFileExporter(filepath.Join(t.TempDir(), "traces.jsonl"))
	require.NoError(t, err)
	require.NoError(t, exporter.ExportSpans(context.Background(), nil))
	require.NoError(t, exporter.Shutdown(context.Background()))
	require.NoError(t, exporter.Shutdown(context.Background()))
}

func TestReadSpanRecords_Missing(t *testing.T) {
	_, err := ReadSpanRecords(filepath.Join(t.TempDir(), "missing.jsonl"))
	require.Error(t, err)
}

func TestNewSpanRecord_LiftsDevteamAttributes(t *testing.T) {
	stub := phaseStub("phase.architecture", codes.Error)
	stub.Status.Description = "architect failed"
	stub.Attributes = append(stub.Attributes, attribute.String(AttrProvider, "openai"))

	rec := NewSpanRecord(stub.Snapshot())
	require.Equal(t, "architecture", rec.Phase)
	require.Equal(t, "architect", rec.Participant)
	require.Equal(t, "openai", rec.Provider)
	require.Equal(t, "ERROR", rec.Status)
	require.Equal(t, "architect failed", rec.StatusMsg)
	require.Empty(t, rec.ParentID)
	require.InDelta(t, 100.0, rec.DurationMs, 0.001)
}

func TestNewSpanRecord_NoAttributes(t *testing.T) {
	rec := NewSpanRecord(tracetest.SpanStub{Name: SpanRun}.Snapshot())
	require.Nil(t, rec.Attributes)
	require.Empty(t, rec.Phase)
	require.Equal(t, "UNSET", rec.Status)
	require.Equal(t, "UNSPECIFIED", rec.Kind)
}

func TestFileExporter_ExportAfterShutdown(t *testing.T) {
	tracePath := filepath.Join(t.TempDir(), "traces.jsonl")
	exporter, err := NewFileExporter(tracePath)
	require.NoError(t, err)
	require.NoError(t, exporter.Shutdown(context.Background()))
	require.NoError(t, exporter.ExportSpans(context.Background(),
		[]sdktrace.ReadOnlySpan{phaseStub("phase.review", codes.Ok).Snapshot()}))

	records, err := ReadSpanRecords(tracePath)
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestReadSpanRecords_BadLine(t *testing.T) {
	tracePath := filepath.Join(t.TempDir(), "traces.jsonl")
	require.NoError(t, os.WriteFile(tracePath, []byte("{\"name\":\"ok\"}\n\nnot json\n"), 0o600))

	_, err := ReadSpanRecords(tracePath)
	require.ErrorContains(t, err, "line 3")
}

func TestStartEnd_RecordsStatus(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := tp.Tracer("test")

	_, ok := Start(context.Background(), tracer, SpanPrefixPhase+"design", attribute.String(AttrPhase, "design"))
	End(ok, nil)
	_, failed := Start(context.Background(), tracer, SpanComplete)
	End(failed, errors.New("all providers failed"))

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	require.Equal(t, "phase.design", spans[0].Name())
	require.Equal(t, codes.Ok, spans[0].Status().Code)
	require.Equal(t, codes.Error, spans[1].Status().Code)
	require.Equal(t, "all providers failed", spans[1].Status().Description)
	require.Len(t, spans[1].Events(), 1, "error is recorded as an event")
}

func TestStart_NilTracer(t *testing.T) {
	require.NotPanics(t, func() {
		ctx, span := Start(context.Background(), nil, SpanRun)
		require.NotNil(t, ctx)
		End(span, nil)
	})
}
