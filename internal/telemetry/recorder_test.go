package telemetry

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	otellog "go.opentelemetry.io/otel/log"
)

// resetInstruments resets the sync.Once so initInstruments re-runs against
// the current (noop) global MeterProvider during tests.
func resetInstruments(t *testing.T) {
	t.Helper()
	instOnce = sync.Once{}
	t.Cleanup(func() { instOnce = sync.Once{} })
}

// --- helper functions ---

func TestStatusStr(t *testing.T) {
	if got := statusStr(nil); got != "ok" {
		t.Errorf("statusStr(nil) = %q, want \"ok\"", got)
	}
	if got := statusStr(errors.New("boom")); got != "error" {
		t.Errorf("statusStr(err) = %q, want \"error\"", got)
	}
}

func TestTruncateOutput(t *testing.T) {
	tests := []struct {
		in    string
		limit int
		want  string
	}{
		{"hello", 10, "hello"},
		{"abcde", 5, "abcde"},
		{"abcdefghij", 5, "abcde…"},
		{"", 10, ""},
		{"héllo", 2, "h…"}, // é is two bytes; cut must not split it
	}
	for _, tt := range tests {
		if got := truncateOutput(tt.in, tt.limit); got != tt.want {
			t.Errorf("truncateOutput(%q, %d) = %q, want %q", tt.in, tt.limit, got, tt.want)
		}
	}
}

func TestSeverity(t *testing.T) {
	if got := severity(nil); got != otellog.SeverityInfo {
		t.Errorf("severity(nil) = %v, want SeverityInfo", got)
	}
	if got := severity(errors.New("err")); got != otellog.SeverityError {
		t.Errorf("severity(err) = %v, want SeverityError", got)
	}
}

func TestCheckSeverity(t *testing.T) {
	if checkSeverity("ok") != otellog.SeverityInfo ||
		checkSeverity("warn") != otellog.SeverityWarn ||
		checkSeverity("fail") != otellog.SeverityError {
		t.Error("checkSeverity mapping wrong")
	}
}

func TestErrKV(t *testing.T) {
	if kv := errKV(nil); kv.Value.AsString() != "" {
		t.Errorf("errKV(nil) value = %q, want empty", kv.Value.AsString())
	}
	if kv := errKV(errors.New("test error")); kv.Value.AsString() != "test error" {
		t.Errorf("errKV(err) value = %q", kv.Value.AsString())
	}
}

func TestPayloadKVsSortedAndTyped(t *testing.T) {
	kvs := payloadKVs(map[string]any{
		"status":   "ok",
		"duration": int64(12),
		"count":    3,
		"ratio":    0.5,
		"risky":    true,
		"list":     []string{"a", "b"},
	})
	var keys []string
	for _, kv := range kvs {
		keys = append(keys, kv.Key)
	}
	if got := strings.Join(keys, ","); got != "count,duration,list,ratio,risky,status" {
		t.Errorf("keys = %s", got)
	}
	if kvs[0].Value.Kind() != otellog.KindInt64 {
		t.Errorf("count kind = %v, want int64", kvs[0].Value.Kind())
	}
	if kvs[2].Value.AsString() != "[a b]" {
		t.Errorf("list value = %q", kvs[2].Value.AsString())
	}
}

// --- Record* functions (noop providers, must not panic) ---

func TestRecordCheck(t *testing.T) {
	resetInstruments(t)
	ctx := context.Background()
	RecordCheck(ctx, "env", "ok", 1.5)
	RecordCheck(ctx, "disk", "fail", 20)
}

func TestRecordRepair(t *testing.T) {
	resetInstruments(t)
	ctx := context.Background()
	RecordRepair(ctx, "build_fix", false, true)
	RecordRepair(ctx, "prisma_migrate", true, false)
}

func TestRecordRun(t *testing.T) {
	resetInstruments(t)
	RecordRun(context.Background(), "scan", 7, 1, 1, 1234)
}

func TestRecordCommand(t *testing.T) {
	resetInstruments(t)
	ctx := context.Background()
	RecordCommand(ctx, "pnpm -w build", "build", 12.5, nil, []byte("output"), "")
	RecordCommand(ctx, "pnpm -w install", "", 3.0, errors.New("fail"), nil, "stderr msg")
}

func TestRecordCommandWithOutput(t *testing.T) {
	resetInstruments(t)
	t.Setenv("DOCTOR_LOG_COMMAND_OUTPUT", "true")
	big := make([]byte, maxStdoutLog+100)
	RecordCommand(context.Background(), "cmd", "", 1.0, nil, big, string(make([]byte, maxStderrLog+100)))
}

func TestRecordNotification(t *testing.T) {
	resetInstruments(t)
	RecordNotification(context.Background(), "slack", nil)
	RecordNotification(context.Background(), "discord", errors.New("502"))
}

func TestSinkEmit(t *testing.T) {
	resetInstruments(t)
	err := Sink{}.Emit(context.Background(), Event{
		Type:    "doctor.check.ok",
		OrgID:   "system",
		Payload: map[string]any{"check": "env", "duration": int64(2)},
	})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if err := (Sink{}).Emit(context.Background(), Event{}); err == nil {
		t.Error("Emit without type should fail")
	}
}

func TestInitInactiveWithoutEnv(t *testing.T) {
	t.Setenv(EnvMetricsURL, "")
	t.Setenv(EnvLogsURL, "")
	p, err := Init(context.Background(), "doctor", "test")
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if p.Active() {
		t.Error("provider should be inactive without endpoints")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}
