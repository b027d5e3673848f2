package core

import (
	"bytes"
	"context"
	"expvar"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"entitygraph/internal/testutil"
)

func auditHas(entries []AuditEntry, op string, status AuditStatus, predicate func(AuditEntry) bool) bool {
	for _, entry := range entries {
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
	op  string
	err error
}

func (c *captureTracer) Start(ctx context.Context, op string) (context.Context, TraceSpan) {
	c.started = append(c.started, op)
	return ctx, &captureSpan{tracer: c, op: op}
}

func (c *captureTracer) has(op string, success bool) bool {
	for _, record := range c.ended {
		if record.op == op {
			if success && record.err == nil {
				return true
			}
			if !success && record.err != nil {
				return true
			}
		}
	}
	return false
}

type captureSpan struct {
	tracer *captureTracer
	op     string
}

func (s *captureSpan) End(err error) {
	s.tracer.ended = append(s.tracer.ended, spanRecord{op: s.op, err: err})
}

func TestServiceObservabilityAcrossOperations(t *testing.T) {
	ctx := context.Background()
	audit := NewMemoryAuditRecorder()
	metrics := &captureMetricsRecorder{}
	tracer := &captureTracer{}

	svc := NewInMemoryService(nil,
		WithAuditRecorder(audit),
		WithMetricsRecorder(metrics),
		WithTracer(tracer),
	)

	child := testutil.NewNode("block").SetAttr("x", 1)
	root := testutil.NewNode("doc").SetChild("child", child)

	if _, err := svc.RegisterTree(ctx, root); err != nil {
		t.Fatalf("register: %v", err)
	}
	v1 := root.Meta().PermanentID
	if !auditHas(audit.Entries(), opRegisterTree, AuditStatusSuccess, func(entry AuditEntry) bool {
		return entry.EntityID == v1.String() && entry.Entity == "doc"
	}) {
		t.Fatalf("expected register audit entry carrying the minted root id, got %+v", audit.Entries())
	}

	child.SetAttr("x", 2)
	committed, _, err := svc.CommitTree(ctx, root, false)
	if err != nil || !committed {
		t.Fatalf("commit: %v %v", committed, err)
	}
	v2 := root.Meta().PermanentID
	if !auditHas(audit.Entries(), opCommitTree, AuditStatusSuccess, func(entry AuditEntry) bool {
		return entry.EntityID == v2.String()
	}) {
		t.Fatalf("expected commit audit entry carrying the new root id")
	}

	// unchanged tree: still a successful operation, no version minted
	committed, _, err = svc.CommitTree(ctx, root, false)
	if err != nil || committed {
		t.Fatalf("idempotent commit: %v %v", committed, err)
	}

	if err := svc.DiscardVersion(ctx, v1); err != nil {
		t.Fatalf("discard: %v", err)
	}
	if !auditHas(audit.Entries(), opDiscardVersion, AuditStatusSuccess, func(entry AuditEntry) bool {
		return entry.EntityID == v1.String()
	}) {
		t.Fatalf("expected discard audit entry")
	}
	if err := svc.DiscardVersion(ctx, v1); err == nil {
		t.Fatalf("expected second discard to fail")
	}
	if !auditHas(audit.Entries(), opDiscardVersion, AuditStatusError, nil) {
		t.Fatalf("expected discard error audit entry")
	}
	if !metrics.has(opDiscardVersion, false) || !tracer.has(opDiscardVersion, false) {
		t.Fatalf("expected metrics and span for failed discard")
	}

	if _, err := svc.GetRecord(ctx, v2); err != nil {
		t.Fatalf("get record: %v", err)
	}
	if _, err := svc.GetLatest(ctx, root.Meta().LineageID); err != nil {
		t.Fatalf("get latest: %v", err)
	}
	if _, err := svc.GetLive(ctx, root.Meta().EphemeralID); err != nil {
		t.Fatalf("get live: %v", err)
	}
	if _, err := svc.GetGraph(ctx, v2); err != nil {
		t.Fatalf("get graph: %v", err)
	}
	if _, err := svc.GetHistory(ctx, root.Meta().LineageID); err != nil {
		t.Fatalf("get history: %v", err)
	}
	if lineages := svc.LineagesOfType(ctx, "doc"); len(lineages) != 1 {
		t.Fatalf("lineages of type: %v", lineages)
	}
	value, _, err := svc.ResolvePointer(ctx, fmt.Sprintf("@%s.child.x", v2))
	if err != nil || value != float64(2) {
		t.Fatalf("resolve: %v %v", value, err)
	}
	if _, _, err := svc.ResolvePointer(ctx, "not-a-pointer"); err == nil {
		t.Fatalf("expected resolve error")
	}
	if _, err := svc.Snapshot(ctx); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	readOps := []string{
		opGetRecord, opGetLatest, opGetLive, opGetGraph, opGetHistory,
		opLineagesOfType, opResolvePointer, opSnapshot,
	}
	for _, op := range readOps {
		if !metrics.has(op, true) {
			t.Fatalf("expected metrics success entry for %s", op)
		}
		if !tracer.has(op, true) {
			t.Fatalf("expected finished span for %s", op)
		}
	}
	if !metrics.has(opResolvePointer, false) || !tracer.has(opResolvePointer, false) {
		t.Fatalf("expected failure metrics and span for bad pointer")
	}

	// reads never audit
	for _, entry := range audit.Entries() {
		switch entry.Operation {
		case opRegisterTree, opCommitTree, opDiscardVersion:
		default:
			t.Fatalf("unexpected audit entry for %s", entry.Operation)
		}
	}
	if len(tracer.started) != len(tracer.ended) {
		t.Fatalf("unbalanced spans: %d started, %d ended", len(tracer.started), len(tracer.ended))
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
		t.Fatalf("expected empty operation to be dropped, snapshot=%+v", snapshot)
	}

	if v := expvar.Get(recorder.Name()); v == nil {
		t.Fatalf("expected expvar export to be registered")
	} else if !strings.Contains(v.String(), "test_op") {
		t.Fatalf("expected expvar output to contain operation: %s", v.String())
	}
}

func TestPrometheusMetricsRecorderExports(t *testing.T) {
	reg := prometheus.NewRegistry()
	recorder, err := NewPrometheusMetricsRecorder(reg)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	recorder.Observe(context.Background(), "commit_tree", true, 20*time.Millisecond)
	recorder.Observe(context.Background(), "commit_tree", false, 5*time.Millisecond)
	recorder.Observe(context.Background(), "", true, time.Millisecond)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var sawCounter, sawHistogram bool
	for _, mf := range families {
		switch mf.GetName() {
		case "entitygraph_operations_total":
			sawCounter = true
			var total float64
			for _, m := range mf.GetMetric() {
				total += m.GetCounter().GetValue()
			}
			if total != 2 {
				t.Fatalf("expected 2 operation counts, got %v", total)
			}
		case "entitygraph_operation_duration_seconds":
			sawHistogram = true
			if len(mf.GetMetric()) != 1 || mf.GetMetric()[0].GetHistogram().GetSampleCount() != 2 {
				t.Fatalf("unexpected histogram: %+v", mf.GetMetric())
			}
		}
	}
	if !sawCounter || !sawHistogram {
		t.Fatalf("expected both collectors exported, counter=%v histogram=%v", sawCounter, sawHistogram)
	}

	// registering the same collectors twice fails
	if _, err := NewPrometheusMetricsRecorder(reg); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}

func TestJSONTraceTracerExports(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewJSONTracer(&buf)
	_, span := tracer.Start(context.Background(), "trace_op")
	span.End(nil)
	_, failing := tracer.Start(context.Background(), "trace_fail")
	failing.End(fmt.Errorf("boom"))

	entries := tracer.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected two span entries, got %d", len(entries))
	}
	if entries[0].Operation != "trace_op" || entries[0].Status != entryStatusSuccess {
		t.Fatalf("unexpected span entry: %+v", entries[0])
	}
	if entries[1].Status != entryStatusError || entries[1].Error != "boom" {
		t.Fatalf("unexpected failed span entry: %+v", entries[1])
	}
	if !strings.Contains(buf.String(), "\"operation\":\"trace_op\"") {
		t.Fatalf("expected JSON output to contain operation: %q", buf.String())
	}
}

func TestJSONTraceTracerNilWriter(t *testing.T) {
	tracer := NewJSONTracer(nil)
	_, span := tracer.Start(context.Background(), "quiet")
	span.End(nil)
	if entries := tracer.Entries(); len(entries) != 1 || entries[0].Operation != "quiet" {
		t.Fatalf("expected retained entry without writer, got %+v", entries)
	}
}
