// Package registry implements the in-memory entity registry: an append-only
// store of frozen graph versions with lineage history, type discovery and
// live-handle indexes. All mutations run under a single writer lock and
// publish a fresh state value, so readers operate on immutable snapshots
// without blocking.
package registry

import (
	"sort"
	"sync"
	"time"

	"entitygraph/internal/ref"
	"entitygraph/pkg/domain"
)

// Registry is the canonical home of registered entity trees. Stored graphs
// and records are immutable once published; re-versioning appends new graphs
// keyed by freshly minted root permanent ids.
type Registry struct {
	mu     sync.RWMutex
	state  *state
	engine *domain.RulesEngine
	nowFn  func() time.Time
}

// state carries every index the registry maintains. Mutations clone the
// state, apply their writes to the clone and swap it in; published states
// are never modified again.
type state struct {
	graphsByRoot       map[domain.PermanentID]*domain.Graph
	lineageHistory     map[domain.LineageID][]domain.PermanentID
	ephemeralIndex     map[domain.EphemeralID]domain.Entity
	typeIndex          map[string][]domain.LineageID
	recordsByPermanent map[domain.PermanentID]*domain.Record
	latestByLineage    map[domain.LineageID]domain.PermanentID
	nodeGraph          map[domain.PermanentID]domain.PermanentID
}

func newState() *state {
	return &state{
		graphsByRoot:       map[domain.PermanentID]*domain.Graph{},
		lineageHistory:     map[domain.LineageID][]domain.PermanentID{},
		ephemeralIndex:     map[domain.EphemeralID]domain.Entity{},
		typeIndex:          map[string][]domain.LineageID{},
		recordsByPermanent: map[domain.PermanentID]*domain.Record{},
		latestByLineage:    map[domain.LineageID]domain.PermanentID{},
		nodeGraph:          map[domain.PermanentID]domain.PermanentID{},
	}
}

// clone shallow-copies every index. Map values are immutable or replaced
// wholesale on write, so sharing them between states is safe.
func (s *state) clone() *state {
	next := &state{
		graphsByRoot:       make(map[domain.PermanentID]*domain.Graph, len(s.graphsByRoot)),
		lineageHistory:     make(map[domain.LineageID][]domain.PermanentID, len(s.lineageHistory)),
		ephemeralIndex:     make(map[domain.EphemeralID]domain.Entity, len(s.ephemeralIndex)),
		typeIndex:          make(map[string][]domain.LineageID, len(s.typeIndex)),
		recordsByPermanent: make(map[domain.PermanentID]*domain.Record, len(s.recordsByPermanent)),
		latestByLineage:    make(map[domain.LineageID]domain.PermanentID, len(s.latestByLineage)),
		nodeGraph:          make(map[domain.PermanentID]domain.PermanentID, len(s.nodeGraph)),
	}
	for k, v := range s.graphsByRoot {
		next.graphsByRoot[k] = v
	}
	for k, v := range s.lineageHistory {
		next.lineageHistory[k] = v
	}
	for k, v := range s.ephemeralIndex {
		next.ephemeralIndex[k] = v
	}
	for k, v := range s.typeIndex {
		next.typeIndex[k] = v
	}
	for k, v := range s.recordsByPermanent {
		next.recordsByPermanent[k] = v
	}
	for k, v := range s.latestByLineage {
		next.latestByLineage[k] = v
	}
	for k, v := range s.nodeGraph {
		next.nodeGraph[k] = v
	}
	return next
}

// insertGraph indexes a frozen graph as the newest version of its lineage.
func (s *state) insertGraph(g *domain.Graph) {
	history := s.lineageHistory[g.LineageID]
	s.lineageHistory[g.LineageID] = append(append([]domain.PermanentID{}, history...), g.RootPermanentID)
	s.indexGraph(g)
}

// indexGraph adds a graph's records to every node index. Records already
// stored under an id are kept; re-versioning carries unchanged record
// pointers forward, so the first stored version wins.
func (s *state) indexGraph(g *domain.Graph) {
	root := g.RootPermanentID
	s.graphsByRoot[root] = g
	ids := make([]domain.PermanentID, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	for _, id := range ids {
		rec := g.Nodes[id]
		if _, ok := s.recordsByPermanent[id]; !ok {
			s.recordsByPermanent[id] = rec
			s.nodeGraph[id] = root
		}
		s.latestByLineage[rec.Meta.LineageID] = id
		s.typeIndex[rec.Type] = appendLineage(s.typeIndex[rec.Type], rec.Meta.LineageID)
	}
}

func appendLineage(lineages []domain.LineageID, id domain.LineageID) []domain.LineageID {
	if containsLineage(lineages, id) {
		return lineages
	}
	return append(append([]domain.LineageID{}, lineages...), id)
}

func containsLineage(lineages []domain.LineageID, id domain.LineageID) bool {
	for _, candidate := range lineages {
		if candidate == id {
			return true
		}
	}
	return false
}

func removeLineage(lineages []domain.LineageID, id domain.LineageID) []domain.LineageID {
	out := make([]domain.LineageID, 0, len(lineages))
	for _, candidate := range lineages {
		if candidate != id {
			out = append(out, candidate)
		}
	}
	return out
}

// New constructs an empty registry. A nil engine disables rule evaluation.
func New(engine *domain.RulesEngine) *Registry {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Registry{
		state:  newState(),
		engine: engine,
		nowFn:  time.Now,
	}
}

// currentState returns the published state. Callers read it without further
// locking; mutations never touch a published state.
func (r *Registry) currentState() *state {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Get returns the frozen record stored under a permanent id.
func (r *Registry) Get(id domain.PermanentID) (*domain.Record, error) {
	st := r.currentState()
	rec, ok := st.recordsByPermanent[id]
	if !ok {
		return nil, domain.EntityNotFoundError{ID: id.String()}
	}
	return rec, nil
}

// GetByLineageLatest returns the newest stored version of an entity lineage.
func (r *Registry) GetByLineageLatest(id domain.LineageID) (*domain.Record, error) {
	st := r.currentState()
	pid, ok := st.latestByLineage[id]
	if !ok {
		return nil, domain.LineageNotFoundError{LineageID: id}
	}
	rec, ok := st.recordsByPermanent[pid]
	if !ok {
		return nil, domain.EntityNotFoundError{ID: pid.String()}
	}
	return rec, nil
}

// GetLive returns the mutable in-process entity registered under an
// ephemeral id. Live handles never survive snapshot restore.
func (r *Registry) GetLive(id domain.EphemeralID) (domain.Entity, error) {
	st := r.currentState()
	entity, ok := st.ephemeralIndex[id]
	if !ok {
		return nil, domain.EntityNotFoundError{ID: id.String()}
	}
	return entity, nil
}

// Graph returns a copy of the stored graph whose root carries the given
// permanent id. The copy shares immutable records but owns its maps.
func (r *Registry) Graph(rootID domain.PermanentID) (*domain.Graph, error) {
	st := r.currentState()
	g, ok := st.graphsByRoot[rootID]
	if !ok {
		return nil, domain.EntityNotFoundError{ID: rootID.String()}
	}
	return g.Clone(), nil
}

// History returns the ordered root permanent ids of every stored version of
// a tree lineage, oldest first.
func (r *Registry) History(id domain.LineageID) ([]domain.PermanentID, error) {
	st := r.currentState()
	history, ok := st.lineageHistory[id]
	if !ok {
		return nil, domain.LineageNotFoundError{LineageID: id}
	}
	return append([]domain.PermanentID{}, history...), nil
}

// LineagesOfType returns the lineage ids of every entity type seen by the
// registry, in first-registration order.
func (r *Registry) LineagesOfType(entityType string) []domain.LineageID {
	st := r.currentState()
	return append([]domain.LineageID{}, st.typeIndex[entityType]...)
}

// Resolve evaluates a reference pointer against the stored records and
// returns the addressed value together with the permanent ids traversed.
func (r *Registry) Resolve(pointer string) (any, []domain.PermanentID, error) {
	st := r.currentState()
	return ref.Resolve(stateSource{st: st}, pointer)
}

// RulesEngine returns the engine evaluated inside mutation boundaries.
func (r *Registry) RulesEngine() *domain.RulesEngine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.engine
}

// NowFunc returns the clock that stamps minted versions.
func (r *Registry) NowFunc() func() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nowFn
}

// Close releases resources held by the registry. The in-memory registry
// holds none.
func (r *Registry) Close() error {
	return nil
}

// stateSource adapts a state value to the resolver's record source.
type stateSource struct {
	st *state
}

func (s stateSource) Record(id domain.PermanentID) (*domain.Record, bool) {
	rec, ok := s.st.recordsByPermanent[id]
	return rec, ok
}

func (s stateSource) GraphFor(id domain.PermanentID) (*domain.Graph, bool) {
	root, ok := s.st.nodeGraph[id]
	if !ok {
		return nil, false
	}
	g, ok := s.st.graphsByRoot[root]
	return g, ok
}

// stateView adapts a state value to the rule engine's read-only view.
type stateView struct {
	st *state
}

func (v stateView) FindRecord(id domain.PermanentID) (*domain.Record, bool) {
	rec, ok := v.st.recordsByPermanent[id]
	return rec, ok
}

func (v stateView) FindGraph(rootID domain.PermanentID) (*domain.Graph, bool) {
	g, ok := v.st.graphsByRoot[rootID]
	return g, ok
}

func (v stateView) LineageVersions(id domain.LineageID) []domain.PermanentID {
	return append([]domain.PermanentID{}, v.st.lineageHistory[id]...)
}

var _ domain.PersistentRegistry = (*Registry)(nil)
var _ domain.RuleView = stateView{}
