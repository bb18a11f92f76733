package telemetry

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	if m.RequestTotal == nil {
		t.Error("RequestTotal should not be nil")
	}
	if m.RequestDurationMs == nil {
		t.Error("RequestDurationMs should not be nil")
	}
	if m.StreamChunksTotal == nil {
		t.Error("StreamChunksTotal should not be nil")
	}
	if m.StreamBytesTotal == nil {
		t.Error("StreamBytesTotal should not be nil")
	}
	if m.UpstreamUp == nil {
		t.Error("UpstreamUp should not be nil")
	}
}

func TestRecordRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordRequest(RequestLabels{
		Mode:       ModeStream,
		Outcome:    "stream_complete",
		Status:     "200",
		DurationMs: 420,
		Chunks:     3,
		Bytes:      96,
	})
	m.RecordRequest(RequestLabels{
		Mode:       ModeBuffered,
		Outcome:    "upstream_error",
		Status:     "503",
		DurationMs: 12,
	})

	metric := &dto.Metric{}
	if err := m.RequestTotal.WithLabelValues(ModeStream, "stream_complete", "200").Write(metric); err != nil {
		t.Fatal(err)
	}
	if metric.Counter.GetValue() != 1 {
		t.Errorf("expected stream request count 1, got %f", metric.Counter.GetValue())
	}

	metric = &dto.Metric{}
	if err := m.StreamChunksTotal.Write(metric); err != nil {
		t.Fatal(err)
	}
	if metric.Counter.GetValue() != 3 {
		t.Errorf("expected 3 chunks, got %f", metric.Counter.GetValue())
	}

	metric = &dto.Metric{}
	if err := m.StreamBytesTotal.Write(metric); err != nil {
		t.Fatal(err)
	}
	if metric.Counter.GetValue() != 96 {
		t.Errorf("expected 96 bytes, got %f", metric.Counter.GetValue())
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "relay_request_duration_ms" {
			found = true
			if len(f.GetMetric()) != 2 {
				t.Errorf("expected 2 duration series, got %d", len(f.GetMetric()))
			}
		}
	}
	if !found {
		t.Error("relay_request_duration_ms not registered")
	}
}

func TestSetUpstreamUp(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.SetUpstreamUp(true)
	metric := &dto.Metric{}
	m.UpstreamUp.Write(metric)
	if metric.Gauge.GetValue() != 1 {
		t.Errorf("expected gauge 1, got %f", metric.Gauge.GetValue())
	}

	m.SetUpstreamUp(false)
	metric = &dto.Metric{}
	m.UpstreamUp.Write(metric)
	if metric.Gauge.GetValue() != 0 {
		t.Errorf("expected gauge 0, got %f", metric.Gauge.GetValue())
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.RecordRequest(RequestLabels{Mode: ModeBuffered})
	m.SetUpstreamUp(true)
}

func TestNewLogger_LevelVar(t *testing.T) {
	var buf bytes.Buffer
	level := new(slog.LevelVar)
	level.Set(ParseLevel("warn"))
	logger := NewLogger(&buf, "json", level)

	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("expected info to be filtered at warn, got %s", buf.String())
	}

	level.Set(ParseLevel("debug"))
	logger.Debug("shown", "key", "value")
	if !strings.Contains(buf.String(), `"msg":"shown"`) {
		t.Errorf("expected debug line after level change, got %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
