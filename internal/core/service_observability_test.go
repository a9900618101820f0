package core

import (
	"bytes"
	"context"
	"errors"
	"expvar"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"sliptacore/pkg/domain"
)

type captureAuditRecorder struct {
	entries []AuditEntry
}

func (c *captureAuditRecorder) Record(_ context.Context, entry AuditEntry) {
	c.entries = append(c.entries, entry)
}

func (c *captureAuditRecorder) has(op string, status AuditStatus, predicate func(AuditEntry) bool) bool {
	for _, entry := range c.entries {
		if entry.Operation == op && entry.Status == status {
			if predicate == nil || predicate(entry) {
				return true
			}
		}
	}
	return false
}

type metricsCall struct {
	op       string
	success  bool
	duration time.Duration
}

type captureMetricsRecorder struct {
	calls []metricsCall
}

func (c *captureMetricsRecorder) Observe(_ context.Context, op string, success bool, duration time.Duration) {
	c.calls = append(c.calls, metricsCall{op: op, success: success, duration: duration})
}

func (c *captureMetricsRecorder) has(op string, success bool) bool {
	for _, call := range c.calls {
		if call.op == op && call.success == success {
			return true
		}
	}
	return false
}

type captureTracer struct {
	started []string
	ended   []spanRecord
}

type spanRecord struct {
	op      string
	auditID string
	err     error
}

func (c *captureTracer) Start(ctx context.Context, op string) (context.Context, TraceSpan) {
	c.started = append(c.started, op)
	return ctx, &captureSpan{tracer: c, op: op, auditID: AuditIDFromContext(ctx)}
}

func (c *captureTracer) has(op string, success bool) bool {
	for _, record := range c.ended {
		if record.op == op && (record.err == nil) == success {
			return true
		}
	}
	return false
}

type captureSpan struct {
	tracer  *captureTracer
	op      string
	auditID string
}

func (s *captureSpan) End(err error) {
	s.tracer.ended = append(s.tracer.ended, spanRecord{op: s.op, auditID: s.auditID, err: err})
}

func TestServiceObservabilityAuditOperations(t *testing.T) {
	ctx := context.Background()
	audit := &captureAuditRecorder{}
	metrics := &captureMetricsRecorder{}
	tracer := &captureTracer{}
	svc := newTestService(t,
		WithAuditRecorder(audit),
		WithMetricsRecorder(metrics),
		WithTracer(tracer),
	)

	a := newAudit(t, svc)
	if !audit.has("create_audit", AuditStatusSuccess, func(entry AuditEntry) bool {
		return entry.EntityID == a.ID && entry.Actor == auditor.ID && entry.Entity == EntityAudit
	}) {
		t.Fatalf("expected audit entry for create_audit success")
	}

	out := answer(t, svc, a.ID, "10.1", domain.AnswerNo, "no IQC records")
	if !audit.has("store_response", AuditStatusSuccess, func(entry AuditEntry) bool {
		return entry.EntityID == out.Response.ID && entry.AuditID == a.ID && entry.Timestamp.Equal(testNow)
	}) {
		t.Fatalf("expected audit entry for store_response success")
	}

	if _, err := svc.StoreResponse(ctx, viewer, StoreResponseInput{AuditID: a.ID, QuestionID: "10.2", Answer: domain.AnswerYes}); err == nil {
		t.Fatalf("expected store_response error for read-only actor")
	}
	if !audit.has("store_response", AuditStatusError, func(entry AuditEntry) bool { return entry.Error != "" }) {
		t.Fatalf("expected audit error entry for store_response")
	}
	if !metrics.has("store_response", false) {
		t.Fatalf("expected metrics entry for failed store_response")
	}
	if !tracer.has("store_response", false) {
		t.Fatalf("expected trace span for failed store_response")
	}

	plan := mustSinglePlan(t, svc, a.ID)
	if _, err := svc.TransitionActionPlan(ctx, auditor, TransitionPlanInput{PlanID: plan.ID, To: domain.PlanInProgress}); err != nil {
		t.Fatalf("transition plan: %v", err)
	}
	if _, err := svc.Score(ctx, viewer, a.ID); err != nil {
		t.Fatalf("score: %v", err)
	}
	if _, err := svc.ReconcileFindings(ctx, auditor, a.ID); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	for _, op := range []string{"create_audit", "store_response", "transition_action_plan", "reconcile_findings", "score"} {
		if !metrics.has(op, true) {
			t.Fatalf("expected metrics success entry for %s", op)
		}
		if !tracer.has(op, true) {
			t.Fatalf("expected finished span for %s", op)
		}
	}
	for _, op := range []string{"create_audit", "store_response", "transition_action_plan", "reconcile_findings"} {
		if !audit.has(op, AuditStatusSuccess, nil) {
			t.Fatalf("expected audit success entry for %s", op)
		}
	}
	if audit.has("score", AuditStatusSuccess, nil) {
		t.Fatalf("read operations must not produce audit entries")
	}
	for _, record := range tracer.ended {
		if record.op == "score" && record.auditID != a.ID {
			t.Fatalf("expected span tagged with audit id, got %q", record.auditID)
		}
	}
}

const entryStatusSuccess = "success"
const entryStatusError = "error"

func TestExpvarMetricsRecorderExports(t *testing.T) {
	recorder := NewExpvarMetricsRecorder("")
	if recorder.Name() == "" {
		t.Fatalf("expected recorder to have export name")
	}
	recorder.Observe(context.Background(), "test_op", true, 10*time.Millisecond)
	recorder.Observe(context.Background(), "test_op", false, 5*time.Millisecond)
	recorder.Observe(context.Background(), "", true, time.Millisecond)

	snapshot := recorder.Snapshot()
	if snapshot.DurationsMS["test_op"] <= 0 {
		t.Fatalf("expected positive duration, snapshot=%+v", snapshot)
	}
	if snapshot.Results["test_op"][entryStatusSuccess] != 1 || snapshot.Results["test_op"][entryStatusError] != 1 {
		t.Fatalf("unexpected results snapshot=%+v", snapshot)
	}
	if len(snapshot.Results) != 1 {
		t.Fatalf("expected empty operation to be ignored, snapshot=%+v", snapshot)
	}

	if v := expvar.Get(recorder.Name()); v == nil {
		t.Fatalf("expected expvar export to be registered")
	} else if !strings.Contains(v.String(), "test_op") {
		t.Fatalf("expected expvar output to contain operation: %s", v.String())
	}
}

func TestJSONTraceTracerExports(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewJSONTracer(&buf)
	_, span := tracer.Start(WithAuditID(context.Background(), "audit-9"), "trace_op")
	span.End(nil)
	_, failing := tracer.Start(context.Background(), "trace_fail")
	failing.End(errors.New("boom"))

	entries := tracer.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected two span entries, got %d", len(entries))
	}
	if entries[0].Operation != "trace_op" || entries[0].Status != entryStatusSuccess || entries[0].AuditID != "audit-9" {
		t.Fatalf("unexpected span entry: %+v", entries[0])
	}
	if entries[1].Status != entryStatusError || entries[1].Error != "boom" || entries[1].AuditID != "" {
		t.Fatalf("unexpected failing span entry: %+v", entries[1])
	}
	if !strings.Contains(buf.String(), "\"operation\":\"trace_op\"") {
		t.Fatalf("expected JSON output to contain operation: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "\"audit_id\":\"audit-9\"") {
		t.Fatalf("expected JSON output to contain audit id: %q", buf.String())
	}
}

func TestPrometheusMetricsRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	recorder, err := NewPrometheusMetricsRecorder(reg, "")
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	recorder.Observe(context.Background(), "store_response", true, 20*time.Millisecond)
	recorder.Observe(context.Background(), "store_response", true, 30*time.Millisecond)
	recorder.Observe(context.Background(), "store_response", false, time.Millisecond)
	recorder.Observe(context.Background(), "", true, time.Millisecond)

	if got := testutil.ToFloat64(recorder.results.WithLabelValues("store_response", entryStatusSuccess)); got != 2 {
		t.Fatalf("expected 2 successes, got %v", got)
	}
	if got := testutil.ToFloat64(recorder.results.WithLabelValues("store_response", entryStatusError)); got != 1 {
		t.Fatalf("expected 1 error, got %v", got)
	}
	if n := testutil.CollectAndCount(recorder.durations, "sliptacore_service_operation_duration_seconds"); n != 1 {
		t.Fatalf("expected one histogram series, got %d", n)
	}

	if _, err := NewPrometheusMetricsRecorder(reg, ""); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}
