package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "no service name", mutate: func(c *Config) { c.ServiceName = "" }, wantErr: true},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: true},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: true},
		{
			name: "otlp without endpoint",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.Exporter = "otlp"
			},
			wantErr: true,
		},
		{name: "sampling out of range", mutate: func(c *Config) { c.Tracing.SamplingRate = 1.5 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, LoggingConfig{Level: "info", Format: "json"})

	logger.NewComponentLogger("engine").WithField("target", "/etc/motd").Info("converged")
	logger.Debug("hidden")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 log line, got %d: %q", len(lines), buf.String())
	}

	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["component"] != "engine" || entry["target"] != "/etc/motd" || entry["message"] != "converged" {
		t.Errorf("unexpected entry: %v", entry)
	}
}

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, LoggingConfig{Level: "info", Format: "json"})

	ctx := logger.WithContext(context.Background())
	FromContext(ctx).Info("hello")
	if !strings.Contains(buf.String(), "hello") {
		t.Errorf("expected logger from context to write, got %q", buf.String())
	}

	// no logger in context discards
	FromContext(context.Background()).Info("dropped")
}

func TestMetricsRecord(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: true, Namespace: "insta"})
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	m.RecordOperation("patch", OutcomeChanged, 10*time.Millisecond)
	m.RecordOperation("patch", OutcomeChanged, 10*time.Millisecond)
	m.RecordHunk("replaced")
	m.RecordPush(true)
	m.RecordPush(false)
	m.RecordError("conflict", "UNRECONCILABLE_STATE")

	if got := testutil.ToFloat64(m.operations.WithLabelValues("patch", OutcomeChanged)); got != 2 {
		t.Errorf("operations_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.hunksApplied.WithLabelValues("replaced")); got != 1 {
		t.Errorf("hunks_applied_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.remotePushes.WithLabelValues("failed")); got != 1 {
		t.Errorf("remote_pushes_total{failed} = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.errorsByClass); got != 1 {
		t.Errorf("errors_total series = %d, want 1", got)
	}
}

func TestMetricsDisabledAndNil(t *testing.T) {
	disabled, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	var nilMetrics *Metrics
	for _, m := range []*Metrics{disabled, nilMetrics} {
		m.RecordOperation("patch", OutcomeOK, time.Second)
		m.RecordHunk("inserted")
		m.RecordPush(true)
		m.RecordError("write", "WRITE_FAILED")
		if m.Registry() != nil {
			t.Error("expected no registry for disabled metrics")
		}
	}
}

func TestMetricsServer(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: true, Namespace: "insta", ListenAddress: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	m.RecordHunk("inserted")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr, err := m.StartMetricsServer(ctx)
	if err != nil {
		t.Fatalf("StartMetricsServer() error = %v", err)
	}

	resp, err := http.Get("http://" + addr + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "insta_hunks_applied_total") {
		t.Errorf("metrics output missing hunk counter:\n%s", body)
	}
}

func TestStartOperation(t *testing.T) {
	tel := Nop()
	m, _ := NewMetrics(MetricsConfig{Enabled: true, Namespace: "insta"})
	tel.Metrics = m

	ctx := tel.WithContext(context.Background())

	op := StartOperation(ctx, "chmod", "key")
	op.End(true, nil)

	op = StartOperation(ctx, "chmod", "key")
	op.End(false, errors.New("boom"))

	if got := testutil.ToFloat64(m.operations.WithLabelValues("chmod", OutcomeChanged)); got != 1 {
		t.Errorf("changed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.operations.WithLabelValues("chmod", OutcomeFailed)); got != 1 {
		t.Errorf("failed = %v, want 1", got)
	}

	// without telemetry in the context nothing is recorded
	StartOperation(context.Background(), "chmod", "key").End(true, nil)
}
