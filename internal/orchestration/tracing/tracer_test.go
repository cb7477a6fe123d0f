package tracing

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.False(t, cfg.Enabled, "tracing should be disabled by default")
	require.Equal(t, "file", cfg.Exporter)
	require.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
	require.Equal(t, 1.0, cfg.SampleRate)
	require.Equal(t, DefaultServiceName, cfg.ServiceName)
	require.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "disabled file without path", cfg: Config{Exporter: ExporterFile}},
		{name: "empty exporter", cfg: Config{Enabled: true}},
		{name: "enabled file without path", cfg: Config{Enabled: true, Exporter: ExporterFile}, wantErr: "file_path"},
		{name: "unknown exporter", cfg: Config{Exporter: "jaeger"}, wantErr: `got "jaeger"`},
		{name: "negative sample rate", cfg: Config{SampleRate: -0.1}, wantErr: "sample_rate"},
		{name: "sample rate above one", cfg: Config{SampleRate: 1.1}, wantErr: "sample_rate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestNewProvider_Disabled(t *testing.T) {
	provider, err := NewProvider(Config{Enabled: false})
	require.NoError(t, err)
	require.False(t, provider.Enabled())

	_, span := provider.Tracer().Start(context.Background(), SpanRun)
	require.False(t, span.SpanContext().IsValid(), "no-op spans carry no context")
	span.End()
	require.NoError(t, provider.Shutdown(context.Background()))
}

func TestNewProvider_Exporters(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "file", cfg: Config{Enabled: true, Exporter: "file", FilePath: filepath.Join(t.TempDir(), "t.jsonl")}},
		{name: "stdout", cfg: Config{Enabled: true, Exporter: "stdout"}},
		{name: "none", cfg: Config{Enabled: true, Exporter: "none"}},
		{name: "file without path", cfg: Config{Enabled: true, Exporter: "file"}, wantErr: "file_path is required"},
		{name: "unknown exporter", cfg: Config{Enabled: true, Exporter: "zipkin"}, wantErr: "exporter must be"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := NewProvider(tt.cfg)
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				require.Nil(t, provider)
				return
			}
			require.NoError(t, err)
			require.True(t, provider.Enabled())

			ctx, parent := provider.Tracer().Start(context.Background(), SpanRun)
			_, child := provider.Tracer().Start(ctx, SpanPrefixPhase+"requirements")
			require.True(t, child.SpanContext().IsValid())
			require.Equal(t, parent.SpanContext().TraceID(), child.SpanContext().TraceID())
			child.End()
			parent.End()

			require.NoError(t, provider.Shutdown(context.Background()))
		})
	}
}

func TestNewProvider_FileExporterWritesRunSpans(t *testing.T) {
	tracePath := filepath.Join(t.TempDir(), "traces.jsonl")
	provider, err := NewProvider(Config{Enabled: true, Exporter: "file", FilePath: tracePath})
	require.NoError(t, err)

	ctx, run := StartRun(context.Background(), provider.Tracer(), "proj-1", "build a todo app")
	ctx, phase := StartPhase(ctx, provider.Tracer(), "review", "reviewer")
	_, attempt := StartAttempt(ctx, provider.Tracer(), "anthropic")
	End(attempt, errors.New("rate limited"))
	End(phase, nil)
	End(run, nil)
	require.NoError(t, provider.Shutdown(context.Background()))

	records, err := ReadSpanRecords(tracePath)
	require.NoError(t, err)
	require.Len(t, records, 3)

	byName := make(map[string]SpanRecord, len(records))
	for _, rec := range records {
		require.Equal(t, DefaultServiceName, rec.Service)
		require.Equal(t, records[0].TraceID, rec.TraceID)
		byName[rec.Name] = rec
	}
	require.Equal(t, "proj-1", byName[SpanRun].Attributes[AttrProjectID])
	require.Equal(t, "reviewer", byName["phase.review"].Participant)
	require.Equal(t, byName[SpanRun].SpanID, byName["phase.review"].ParentID)

	attemptRec := byName["llm.attempt.anthropic"]
	require.Equal(t, "anthropic", attemptRec.Provider)
	require.Equal(t, "ERROR", attemptRec.Status)
	require.Equal(t, byName["phase.review"].SpanID, attemptRec.ParentID)
}

func TestNewProvider_CustomServiceName(t *testing.T) {
	tracePath := filepath.Join(t.TempDir(), "traces.jsonl")
	provider, err := NewProvider(Config{Enabled: true, Exporter: ExporterFile, FilePath: tracePath, ServiceName: "devteam-ci"})
	require.NoError(t, err)

	_, span := StartRun(context.Background(), provider.Tracer(), "p", "r")
	End(span, nil)
	require.NoError(t, provider.Shutdown(context.Background()))

	records, err := ReadSpanRecords(tracePath)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "devteam-ci", records[0].Service)
}
