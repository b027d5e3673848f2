package core

import (
	"context"
	"testing"
	"time"

	"entitygraph/internal/registry"
	"entitygraph/pkg/domain"
)

// fakeRegistry is a do-nothing PersistentRegistry without RulesEngine or
// NowFunc providers, for exercising the service fallback paths.
type fakeRegistry struct{}

func (fakeRegistry) Get(domain.PermanentID) (*domain.Record, error)              { return nil, nil }
func (fakeRegistry) GetByLineageLatest(domain.LineageID) (*domain.Record, error) { return nil, nil }
func (fakeRegistry) GetLive(domain.EphemeralID) (domain.Entity, error)           { return nil, nil }
func (fakeRegistry) Graph(domain.PermanentID) (*domain.Graph, error)             { return nil, nil }
func (fakeRegistry) History(domain.LineageID) ([]domain.PermanentID, error)      { return nil, nil }
func (fakeRegistry) LineagesOfType(string) []domain.LineageID                    { return nil }
func (fakeRegistry) Resolve(string) (any, []domain.PermanentID, error)           { return nil, nil, nil }
func (fakeRegistry) Register(context.Context, domain.Entity) (domain.Result, error) {
	return domain.Result{}, nil
}
func (fakeRegistry) Commit(context.Context, domain.Entity, bool) (bool, domain.Result, error) {
	return false, domain.Result{}, nil
}
func (fakeRegistry) Discard(context.Context, domain.PermanentID) error { return nil }
func (fakeRegistry) Snapshot() (domain.Snapshot, error)                { return domain.Snapshot{}, nil }
func (fakeRegistry) Close() error                                      { return nil }

// providerRegistry layers RulesEngine and NowFunc providers over the fake.
type providerRegistry struct {
	fakeRegistry
	engine *domain.RulesEngine
	now    func() time.Time
}

func (p *providerRegistry) RulesEngine() *domain.RulesEngine { return p.engine }

func (p *providerRegistry) NowFunc() func() time.Time { return p.now }

func TestClockFuncNowNilFallsBackToUTCTime(t *testing.T) {
	got := ClockFunc(nil).Now()
	if got.IsZero() {
		t.Fatal("expected non-zero time from nil ClockFunc")
	}
	if got.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %s", got.Location())
	}
}

func TestClockFuncNowDelegatesToFunction(t *testing.T) {
	expected := time.Date(2024, 7, 4, 12, 34, 56, 0, time.FixedZone("offset", -5*3600))
	fn := ClockFunc(func() time.Time { return expected })
	got := fn.Now()
	if !got.Equal(expected.UTC()) || got.Location() != time.UTC {
		t.Fatalf("expected %s in UTC, got %s", expected.UTC(), got)
	}
}

func TestExtractRulesEngine(t *testing.T) {
	engine := domain.NewRulesEngine()
	if got := extractRulesEngine(registry.New(engine)); got != engine {
		t.Fatalf("expected engine pointer, got %v", got)
	}
	if extractRulesEngine(fakeRegistry{}) != nil {
		t.Fatal("expected nil for registries without RulesEngine provider")
	}
}

func TestSelectNowFuncPrefersRegistryClock(t *testing.T) {
	expected := time.Date(2025, 1, 2, 3, 4, 5, 0, time.FixedZone("cet", 3600))
	reg := &providerRegistry{
		engine: domain.NewRulesEngine(),
		now:    func() time.Time { return expected },
	}
	nowFn := selectNowFunc(reg, ClockFunc(func() time.Time { return time.Unix(0, 0) }))
	if got := nowFn(); !got.Equal(expected.UTC()) {
		t.Fatalf("expected registry clock to win, got %s", got)
	}
}

func TestSelectNowFuncFallsBackToClock(t *testing.T) {
	expected := time.Date(2030, 5, 6, 7, 8, 9, 0, time.UTC)
	clock := ClockFunc(func() time.Time { return expected })
	reg := &providerRegistry{engine: domain.NewRulesEngine()}
	nowFn := selectNowFunc(reg, clock)
	if got := nowFn(); !got.Equal(expected) {
		t.Fatalf("expected clock fallback, got %s", got)
	}
}

func TestSelectNowFuncDefaultsToSystemUTC(t *testing.T) {
	nowFn := selectNowFunc(fakeRegistry{}, nil)
	got := nowFn()
	if got.Location() != time.UTC {
		t.Fatalf("expected UTC time, got %s", got.Location())
	}
	if time.Since(got) > time.Second || time.Since(got) < -time.Second {
		t.Fatalf("expected near-current time, got %s", got)
	}
}

func TestAuditTimestampUsesRegistryClock(t *testing.T) {
	fixed := time.Date(2024, 10, 1, 8, 30, 0, 0, time.UTC)
	recorder := NewMemoryAuditRecorder()
	reg := &providerRegistry{now: func() time.Time { return fixed }}
	svc := NewService(reg,
		WithAuditRecorder(recorder),
		WithClock(ClockFunc(func() time.Time { return time.Unix(0, 0) })),
	)

	if err := svc.DiscardVersion(context.Background(), domain.NewPermanentID()); err != nil {
		t.Fatalf("discard: %v", err)
	}
	entries := recorder.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected one audit entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Operation != opDiscardVersion || entry.Action != domain.ActionDiscard {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if !entry.Timestamp.Equal(fixed) {
		t.Fatalf("expected registry clock timestamp %s, got %s", fixed, entry.Timestamp)
	}
}

func TestAuditSkipsUnknownOperations(t *testing.T) {
	recorder := NewMemoryAuditRecorder()
	svc := NewService(fakeRegistry{}, WithAuditRecorder(recorder))
	svc.recordAudit(context.Background(), "unknown_operation", "", "entity", AuditStatusSuccess, time.Second)
	if entries := recorder.Entries(); len(entries) != 0 {
		t.Fatalf("expected no audit entries for unknown operation, got %d", len(entries))
	}
}
