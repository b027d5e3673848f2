// Package core wires the versioned registry to hosts: a Service facade with
// logging, metrics, tracing and audit instrumentation, the built-in commit
// rules, environment-driven storage selection and the version archive.
package core

import (
	"context"
	"time"

	"entitygraph/internal/registry"
	"entitygraph/pkg/domain"
)

// Operation names used in logs, metrics, spans and audit entries.
const (
	opRegisterTree   = "register_tree"
	opCommitTree     = "commit_tree"
	opDiscardVersion = "discard_version"
	opGetRecord      = "get_record"
	opGetLatest      = "get_latest"
	opGetLive        = "get_live"
	opGetGraph       = "get_graph"
	opGetHistory     = "get_history"
	opLineagesOfType = "lineages_of_type"
	opResolvePointer = "resolve_pointer"
	opSnapshot       = "snapshot"
)

// Service exposes the registry operation set behind a uniform
// instrumentation boundary. Every call is traced, timed and logged;
// mutations additionally produce audit entries.
type Service struct {
	registry domain.PersistentRegistry
	engine   *domain.RulesEngine
	clock    Clock
	nowFn    func() time.Time
	logger   Logger
	audit    AuditRecorder
	metrics  MetricsRecorder
	tracer   Tracer
}

// NewService wraps an existing registry.
func NewService(reg domain.PersistentRegistry, options ...ServiceOption) *Service {
	opts := defaultServiceOptions()
	for _, opt := range options {
		if opt != nil {
			opt(&opts)
		}
	}
	return &Service{
		registry: reg,
		engine:   extractRulesEngine(reg),
		clock:    opts.clock,
		nowFn:    selectNowFunc(reg, opts.clock),
		logger:   opts.logger,
		audit:    opts.audit,
		metrics:  opts.metrics,
		tracer:   opts.tracer,
	}
}

// NewInMemoryService creates a service over a fresh in-memory registry. A
// nil engine gets the default engine with the built-in rules installed.
func NewInMemoryService(engine *domain.RulesEngine, options ...ServiceOption) *Service {
	if engine == nil {
		engine = NewDefaultRulesEngine()
	}
	return NewService(registry.New(engine), options...)
}

// Registry returns the wrapped persistent registry.
func (s *Service) Registry() domain.PersistentRegistry {
	return s.registry
}

// RulesEngine returns the engine evaluated inside mutation boundaries, or
// nil when the registry does not expose one.
func (s *Service) RulesEngine() *domain.RulesEngine {
	return s.engine
}

// Close releases the wrapped registry.
func (s *Service) Close() error {
	return s.registry.Close()
}

// extractRulesEngine recovers the rules engine from registries that expose
// one. Wrapping stores inherit the accessor by embedding.
func extractRulesEngine(reg domain.PersistentRegistry) *domain.RulesEngine {
	type provider interface {
		RulesEngine() *domain.RulesEngine
	}
	if p, ok := reg.(provider); ok {
		return p.RulesEngine()
	}
	return nil
}

// selectNowFunc picks the audit timestamp source. A registry that exposes
// its own clock wins so audit times line up with minted version stamps; the
// configured clock is the fallback.
func selectNowFunc(reg domain.PersistentRegistry, clock Clock) func() time.Time {
	type provider interface {
		NowFunc() func() time.Time
	}
	if p, ok := reg.(provider); ok {
		if fn := p.NowFunc(); fn != nil {
			return func() time.Time { return fn().UTC() }
		}
	}
	if clock != nil {
		return func() time.Time { return clock.Now().UTC() }
	}
	return func() time.Time { return time.Now().UTC() }
}

// run executes fn inside the instrumentation boundary. entityID is read
// after fn returns so mutations report the ids they minted.
func (s *Service) run(ctx context.Context, operation, entityType string, entityID func() string, fn func(context.Context) error) error {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, operation)
	err := fn(ctx)
	duration := time.Since(start)
	span.End(err)
	s.metrics.Observe(ctx, operation, err == nil, duration)

	id := ""
	if entityID != nil {
		id = entityID()
	}
	if err != nil {
		s.logger.Error(operation+" failed", "entity_id", id, "error", err)
		s.recordAudit(ctx, operation, entityType, id, AuditStatusError, duration)
		return err
	}
	s.logger.Debug(operation+" completed", "entity_id", id, "duration", duration)
	s.recordAudit(ctx, operation, entityType, id, AuditStatusSuccess, duration)
	return nil
}

func (s *Service) recordAudit(ctx context.Context, operation, entityType, entityID string, status AuditStatus, duration time.Duration) {
	action, ok := auditActionForOperation(operation)
	if !ok {
		return
	}
	s.audit.Record(ctx, AuditEntry{
		Operation: operation,
		Entity:    entityType,
		Action:    action,
		EntityID:  entityID,
		Status:    status,
		Duration:  duration,
		Timestamp: s.nowFn(),
	})
}

// auditActionForOperation maps mutating operations to audit actions. Read
// operations are absent and produce no audit entries.
func auditActionForOperation(operation string) (domain.Action, bool) {
	switch operation {
	case opRegisterTree:
		return domain.ActionRegister, true
	case opCommitTree:
		return domain.ActionCommit, true
	case opDiscardVersion:
		return domain.ActionDiscard, true
	default:
		return "", false
	}
}

func describeEntity(entity domain.Entity) (string, func() string) {
	if entity == nil {
		return "", func() string { return "" }
	}
	return entity.EntityType(), func() string {
		meta := entity.Meta()
		if meta == nil {
			return ""
		}
		return meta.PermanentID.String()
	}
}

// RegisterTree stores the first version of the tree rooted at root.
func (s *Service) RegisterTree(ctx context.Context, root domain.Entity) (domain.Result, error) {
	var res domain.Result
	entityType, entityID := describeEntity(root)
	err := s.run(ctx, opRegisterTree, entityType, entityID, func(ctx context.Context) error {
		var err error
		res, err = s.registry.Register(ctx, root)
		return err
	})
	return res, err
}

// CommitTree stores a new version of an already registered tree. The audit
// entry carries the freshly minted root id when nodes changed.
func (s *Service) CommitTree(ctx context.Context, root domain.Entity, force bool) (bool, domain.Result, error) {
	var (
		committed bool
		res       domain.Result
	)
	entityType, entityID := describeEntity(root)
	err := s.run(ctx, opCommitTree, entityType, entityID, func(ctx context.Context) error {
		var err error
		committed, res, err = s.registry.Commit(ctx, root, force)
		return err
	})
	return committed, res, err
}

// DiscardVersion removes a superseded tree version from the registry.
func (s *Service) DiscardVersion(ctx context.Context, rootID domain.PermanentID) error {
	return s.run(ctx, opDiscardVersion, "", func() string { return rootID.String() }, func(ctx context.Context) error {
		return s.registry.Discard(ctx, rootID)
	})
}

// GetRecord returns the frozen record stored under a permanent id.
func (s *Service) GetRecord(ctx context.Context, id domain.PermanentID) (*domain.Record, error) {
	var rec *domain.Record
	err := s.run(ctx, opGetRecord, "", id.String, func(context.Context) error {
		var err error
		rec, err = s.registry.Get(id)
		return err
	})
	return rec, err
}

// GetLatest returns the newest stored version of an entity lineage.
func (s *Service) GetLatest(ctx context.Context, lineage domain.LineageID) (*domain.Record, error) {
	var rec *domain.Record
	err := s.run(ctx, opGetLatest, "", lineage.String, func(context.Context) error {
		var err error
		rec, err = s.registry.GetByLineageLatest(lineage)
		return err
	})
	return rec, err
}

// GetLive returns the mutable in-process entity behind an ephemeral id.
func (s *Service) GetLive(ctx context.Context, id domain.EphemeralID) (domain.Entity, error) {
	var entity domain.Entity
	err := s.run(ctx, opGetLive, "", id.String, func(context.Context) error {
		var err error
		entity, err = s.registry.GetLive(id)
		return err
	})
	return entity, err
}

// GetGraph returns a copy of the stored graph rooted at rootID.
func (s *Service) GetGraph(ctx context.Context, rootID domain.PermanentID) (*domain.Graph, error) {
	var g *domain.Graph
	err := s.run(ctx, opGetGraph, "", rootID.String, func(context.Context) error {
		var err error
		g, err = s.registry.Graph(rootID)
		return err
	})
	return g, err
}

// GetHistory returns the ordered version history of a tree lineage.
func (s *Service) GetHistory(ctx context.Context, lineage domain.LineageID) ([]domain.PermanentID, error) {
	var history []domain.PermanentID
	err := s.run(ctx, opGetHistory, "", lineage.String, func(context.Context) error {
		var err error
		history, err = s.registry.History(lineage)
		return err
	})
	return history, err
}

// LineagesOfType returns the lineages registered for an entity type.
func (s *Service) LineagesOfType(ctx context.Context, entityType string) []domain.LineageID {
	var lineages []domain.LineageID
	_ = s.run(ctx, opLineagesOfType, entityType, nil, func(context.Context) error {
		lineages = s.registry.LineagesOfType(entityType)
		return nil
	})
	return lineages
}

// ResolvePointer evaluates a reference pointer against the stored records.
func (s *Service) ResolvePointer(ctx context.Context, pointer string) (any, []domain.PermanentID, error) {
	var (
		value any
		chain []domain.PermanentID
	)
	err := s.run(ctx, opResolvePointer, "", func() string { return pointer }, func(context.Context) error {
		var err error
		value, chain, err = s.registry.Resolve(pointer)
		return err
	})
	return value, chain, err
}

// Snapshot exports the registry state for persistence or inspection.
func (s *Service) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	var snap domain.Snapshot
	err := s.run(ctx, opSnapshot, "", nil, func(context.Context) error {
		var err error
		snap, err = s.registry.Snapshot()
		return err
	})
	return snap, err
}
