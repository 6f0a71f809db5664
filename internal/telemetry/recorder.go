package telemetry

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterRecorderName = "github.com/paulyops/sysdoctor"
	loggerName        = "sysdoctor"
)

// recorderInstruments holds all lazy-initialized OTel metric instruments.
type recorderInstruments struct {
	checkTotal   metric.Int64Counter
	repairTotal  metric.Int64Counter
	runTotal     metric.Int64Counter
	commandTotal metric.Int64Counter
	notifyTotal  metric.Int64Counter
	eventTotal   metric.Int64Counter

	checkDurationHist   metric.Float64Histogram
	commandDurationHist metric.Float64Histogram
}

var (
	instOnce sync.Once
	inst     recorderInstruments
)

// initInstruments registers the instruments against the current global
// MeterProvider. The global provider delegates, so instruments created
// before [Init] still reach the real exporter.
func initInstruments() {
	instOnce.Do(func() {
		m := otel.GetMeterProvider().Meter(meterRecorderName)

		inst.checkTotal, _ = m.Int64Counter("doctor.checks.total",
			metric.WithDescription("Total diagnostic check executions"),
		)
		inst.repairTotal, _ = m.Int64Counter("doctor.repairs.total",
			metric.WithDescription("Total repair attempts"),
		)
		inst.runTotal, _ = m.Int64Counter("doctor.runs.total",
			metric.WithDescription("Total doctor runs"),
		)
		inst.commandTotal, _ = m.Int64Counter("doctor.commands.total",
			metric.WithDescription("Total whitelisted command executions"),
		)
		inst.notifyTotal, _ = m.Int64Counter("doctor.notifications.total",
			metric.WithDescription("Total notification deliveries"),
		)
		inst.eventTotal, _ = m.Int64Counter("doctor.events.total",
			metric.WithDescription("Total telemetry events emitted through the sink"),
		)

		inst.checkDurationHist, _ = m.Float64Histogram("doctor.check.duration_ms",
			metric.WithDescription("Check latency in milliseconds"),
			metric.WithUnit("ms"),
		)
		inst.commandDurationHist, _ = m.Float64Histogram("doctor.command.duration_ms",
			metric.WithDescription("Command round-trip latency in milliseconds"),
			metric.WithUnit("ms"),
		)
	})
}

// statusStr returns "ok" or "error" depending on whether err is nil.
func statusStr(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// emit sends an OTel log event with the given body and key-value attributes.
func emit(ctx context.Context, body string, sev otellog.Severity, attrs ...otellog.KeyValue) {
	logger := global.GetLoggerProvider().Logger(loggerName)
	var r otellog.Record
	r.SetBody(otellog.StringValue(body))
	r.SetSeverity(sev)
	r.AddAttributes(attrs...)
	logger.Emit(ctx, r)
}

// errKV returns a log KeyValue with the error message, or empty string if nil.
func errKV(err error) otellog.KeyValue {
	if err != nil {
		return otellog.String("error", err.Error())
	}
	return otellog.String("error", "")
}

// severity returns SeverityInfo on success, SeverityError on failure.
func severity(err error) otellog.Severity {
	if err != nil {
		return otellog.SeverityError
	}
	return otellog.SeverityInfo
}

const (
	// maxStdoutLog is the maximum number of bytes of stdout captured in logs.
	maxStdoutLog = 2048
	// maxStderrLog is the maximum number of bytes of stderr captured in logs.
	maxStderrLog = 1024
)

// truncateOutput trims s to limit bytes and appends "…" when truncated,
// without splitting a multi-byte rune.
func truncateOutput(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	truncated := s[:limit]
	for len(truncated) > 0 && !utf8.ValidString(truncated) {
		truncated = truncated[:len(truncated)-1]
	}
	return truncated + "…"
}

// checkSeverity maps a check status string onto a log severity.
func checkSeverity(status string) otellog.Severity {
	switch status {
	case "fail":
		return otellog.SeverityError
	case "warn":
		return otellog.SeverityWarn
	default:
		return otellog.SeverityInfo
	}
}

// RecordCheck records one check execution in the check counters and the
// latency histogram. The matching log record is the "doctor.check.<status>"
// event the orchestrator sends through [Sink].
func RecordCheck(ctx context.Context, check, status string, durationMs float64) {
	initInstruments()
	attrs := metric.WithAttributes(
		attribute.String("check", check),
		attribute.String("status", status),
	)
	inst.checkTotal.Add(ctx, 1, attrs)
	inst.checkDurationHist.Record(ctx, durationMs, attrs)
}

// RecordRepair records a fix attempt (metrics + log event).
func RecordRepair(ctx context.Context, kind string, risky, success bool) {
	initInstruments()
	outcome := "failed"
	if success {
		outcome = "success"
	}
	inst.repairTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.Bool("risky", risky),
			attribute.String("outcome", outcome),
		),
	)
	sev := otellog.SeverityInfo
	if !success {
		sev = otellog.SeverityWarn
	}
	emit(ctx, "doctor.repair", sev,
		otellog.String("kind", kind),
		otellog.Bool("risky", risky),
		otellog.String("outcome", outcome),
	)
}

// RecordRun records a completed doctor run with its summary counts.
func RecordRun(ctx context.Context, mode string, ok, warn, fail int, durationMs float64) {
	initInstruments()
	inst.runTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("mode", mode),
			attribute.Bool("healthy", fail == 0),
		),
	)
	sev := otellog.SeverityInfo
	if fail > 0 {
		sev = otellog.SeverityWarn
	}
	emit(ctx, "doctor.run", sev,
		otellog.String("mode", mode),
		otellog.Int("ok", ok),
		otellog.Int("warn", warn),
		otellog.Int("fail", fail),
		otellog.Float64("duration_ms", durationMs),
	)
}

// RecordCommand records a whitelisted command execution (metrics + log
// event). stdout and stderr are only included when DOCTOR_LOG_COMMAND_OUTPUT=true.
func RecordCommand(ctx context.Context, command, description string, durationMs float64, err error, stdout []byte, stderr string) {
	initInstruments()
	status := statusStr(err)
	attrs := metric.WithAttributes(
		attribute.String("status", status),
		attribute.String("command", command),
	)
	inst.commandTotal.Add(ctx, 1, attrs)
	inst.commandDurationHist.Record(ctx, durationMs, attrs)
	kvs := []otellog.KeyValue{
		otellog.String("command", command),
		otellog.String("description", description),
		otellog.Float64("duration_ms", durationMs),
		otellog.String("status", status),
		errKV(err),
	}
	// Output is opt-in: migration and build logs can carry connection strings.
	if os.Getenv("DOCTOR_LOG_COMMAND_OUTPUT") == "true" {
		kvs = append(kvs,
			otellog.String("stdout", truncateOutput(string(stdout), maxStdoutLog)),
			otellog.String("stderr", truncateOutput(stderr, maxStderrLog)),
		)
	}
	emit(ctx, "doctor.command", severity(err), kvs...)
}

// RecordNotification records a webhook delivery attempt (metrics + log event).
func RecordNotification(ctx context.Context, channel string, err error) {
	initInstruments()
	status := statusStr(err)
	inst.notifyTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("channel", channel),
			attribute.String("status", status),
		),
	)
	emit(ctx, "doctor.notification", severity(err),
		otellog.String("channel", channel),
		otellog.String("status", status),
		errKV(err),
	)
}

// Event is a generic telemetry record handed to a [Sink].
type Event struct {
	Type    string
	OrgID   string
	UserID  string
	Payload map[string]any
}

// Sink emits generic events as OTel log records and counts them.
type Sink struct{}

// Emit records e. It only fails on an event without a type.
func (Sink) Emit(ctx context.Context, e Event) error {
	if e.Type == "" {
		return fmt.Errorf("telemetry event without type")
	}
	initInstruments()
	inst.eventTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("type", e.Type)))
	kvs := []otellog.KeyValue{otellog.String("org_id", e.OrgID)}
	if e.UserID != "" {
		kvs = append(kvs, otellog.String("user_id", e.UserID))
	}
	kvs = append(kvs, payloadKVs(e.Payload)...)
	sev := otellog.SeverityInfo
	if status, ok := strings.CutPrefix(e.Type, "doctor.check."); ok {
		sev = checkSeverity(status)
	}
	emit(ctx, e.Type, sev, kvs...)
	return nil
}

// payloadKVs converts a payload map into log attributes in key order.
func payloadKVs(payload map[string]any) []otellog.KeyValue {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	kvs := make([]otellog.KeyValue, 0, len(keys))
	for _, k := range keys {
		switch v := payload[k].(type) {
		case string:
			kvs = append(kvs, otellog.String(k, v))
		case int:
			kvs = append(kvs, otellog.Int(k, v))
		case int64:
			kvs = append(kvs, otellog.Int64(k, v))
		case float64:
			kvs = append(kvs, otellog.Float64(k, v))
		case bool:
			kvs = append(kvs, otellog.Bool(k, v))
		default:
			kvs = append(kvs, otellog.String(k, fmt.Sprint(v)))
		}
	}
	return kvs
}
