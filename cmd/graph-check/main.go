// Command graph-check validates an exported registry snapshot. It decodes
// the JSON document produced by Snapshot, re-derives the structural
// invariants the registry maintains at runtime, and reports every violation
// instead of stopping at the first. The command is meant for CI gates over
// archived snapshots and for inspecting exports before a restore.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"entitygraph/pkg/domain"
)

// exitFunc is swapped by tests to observe the process exit code.
var exitFunc = os.Exit

// main runs the command-line interface using the program arguments and exits
// the process with the status code returned by cli.
func main() {
	code := cli(os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

func cli(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("graph-check", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var snapshotPath string
	fs.StringVar(&snapshotPath, "snapshot", "registry-snapshot.json", "path to exported registry snapshot json")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	rep, err := run(snapshotPath)
	if err != nil {
		if _, writeErr := fmt.Fprintf(stderr, "Snapshot validation failed: %v\n", err); writeErr != nil {
			return 1
		}
		return 1
	}
	if len(rep.Violations) > 0 {
		for _, v := range rep.Violations {
			if _, writeErr := fmt.Fprintf(stderr, "  - %s\n", v); writeErr != nil {
				return 1
			}
		}
		if _, writeErr := fmt.Fprintf(stderr, "Snapshot validation failed: %d violation(s).\n", len(rep.Violations)); writeErr != nil {
			return 1
		}
		return 1
	}
	if _, writeErr := fmt.Fprintf(stdout, "Snapshot validation passed: %d graph(s), %d lineage(s), %d entity type(s).\n", rep.GraphCount, rep.LineageCount, rep.TypeCount); writeErr != nil {
		return 1
	}
	return 0
}

// validatePath ensures the snapshot file path is within the working tree and
// not an absolute or path-traversing reference. This mitigates G304 concerns
// around variable-based file inclusion.
func validatePath(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", fmt.Errorf("empty path")
	}
	if filepath.IsAbs(p) {
		return "", fmt.Errorf("absolute paths not allowed: %s", p)
	}
	clean := filepath.Clean(p)
	if strings.Contains(clean, "..") { // prevents traversal outside working dir
		return "", fmt.Errorf("path traversal not allowed: %s", p)
	}
	return clean, nil
}

// run validates the snapshot path, decodes the snapshot document and checks
// it. The returned error covers path, I/O and decode failures; invariant
// violations are collected in the report so one broken graph does not hide
// the rest.
func run(snapshotPath string) (rep *report, err error) {
	safePath, vErr := validatePath(snapshotPath)
	if vErr != nil {
		return nil, vErr
	}
	file, err := os.Open(safePath) // #nosec G304: path validated by validatePath
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			rep = nil
			err = fmt.Errorf("close snapshot: %w", cerr)
		}
	}()

	snap, err := parseSnapshot(file)
	if err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	return checkSnapshot(snap), nil
}

// parseSnapshot decodes exactly one snapshot document. Unknown fields and
// trailing data are rejected so a truncated or concatenated export does not
// pass as valid.
func parseSnapshot(r io.Reader) (*domain.Snapshot, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	var snap domain.Snapshot
	if err := dec.Decode(&snap); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after snapshot document")
	}
	return &snap, nil
}

// report is the outcome of checking one snapshot: counts for the summary
// line plus every violation found, in a deterministic order.
type report struct {
	GraphCount   int
	LineageCount int
	TypeCount    int
	Violations   []string
}

func (r *report) addf(format string, args ...any) {
	r.Violations = append(r.Violations, fmt.Sprintf(format, args...))
}

// checkSnapshot re-derives the invariants the registry enforces while
// building state: schema version, per-graph structure, lineage history
// continuity and type index coverage. An empty snapshot is valid.
func checkSnapshot(snap *domain.Snapshot) *report {
	rep := &report{
		GraphCount:   len(snap.Graphs),
		LineageCount: len(snap.LineageHistory),
		TypeCount:    len(snap.TypeIndex),
	}
	if snap.SchemaVersion != domain.SnapshotSchemaVersion {
		rep.addf("schema: unsupported schema version %d, want %d", snap.SchemaVersion, domain.SnapshotSchemaVersion)
	}

	byRoot := make(map[domain.PermanentID]*domain.Graph, len(snap.Graphs))
	for i, g := range snap.Graphs {
		label := fmt.Sprintf("graphs[%d]", i)
		if g == nil {
			rep.addf("%s: graph is nil", label)
			continue
		}
		if !g.RootPermanentID.IsZero() {
			label = fmt.Sprintf("%s (root %s)", label, g.RootPermanentID)
			if _, dup := byRoot[g.RootPermanentID]; dup {
				rep.addf("%s: duplicate graph for this root", label)
			} else {
				byRoot[g.RootPermanentID] = g
			}
		}
		checkGraph(rep, label, g)
	}

	referenced := checkLineageHistory(rep, snap, byRoot)
	for _, id := range sortedRoots(byRoot) {
		if !referenced[id] {
			rep.addf("graph %s: not referenced by any lineage history", id)
		}
	}

	checkTypeIndex(rep, snap, byRoot)
	return rep
}

// checkGraph validates one frozen tree version: root presence, node
// identity, edge endpoints, single-root ownership, ancestry paths and
// provenance completeness.
func checkGraph(rep *report, label string, g *domain.Graph) {
	if g.RootPermanentID.IsZero() {
		rep.addf("%s: graph has no root permanent id", label)
		return
	}
	if g.LineageID.IsZero() {
		rep.addf("%s: graph has no lineage id", label)
	}
	root, ok := g.Nodes[g.RootPermanentID]
	if !ok {
		rep.addf("%s: graph does not contain its own root", label)
	}

	for _, id := range sortedNodeIDs(g) {
		rec := g.Nodes[id]
		if rec == nil {
			rep.addf("%s: node %s is nil", label, id)
			continue
		}
		if rec.Meta.PermanentID != id {
			rep.addf("%s: node %s carries permanent id %s", label, id, rec.Meta.PermanentID)
		}
		if rec.Meta.LineageID.IsZero() {
			rep.addf("%s: node %s has no lineage id", label, id)
		}
		if id == g.RootPermanentID {
			if rec.Meta.LineageID != g.LineageID {
				rep.addf("%s: root lineage %s does not match graph lineage %s", label, rec.Meta.LineageID, g.LineageID)
			}
			if !rec.Meta.RootPermanentID.IsZero() {
				rep.addf("%s: root carries a root reference %s", label, rec.Meta.RootPermanentID)
			}
		} else if rec.Meta.RootPermanentID.IsZero() {
			// Unchanged nodes are carried forward across versions and keep
			// the root reference stamped when they were minted, so only
			// presence is required here.
			rep.addf("%s: node %s has no root reference", label, id)
		}
		checkRecordHistory(rep, label, rec)
		checkProvenance(rep, label, rec)
	}

	checkEdges(rep, label, g)
	checkAcyclic(rep, label, g)
	if root != nil {
		checkAncestry(rep, label, g)
	}
}

// checkEdges validates edge endpoints and descriptors, that the root is the
// only node without an incoming primary edge, and that nothing points back
// at the root.
func checkEdges(rep *report, label string, g *domain.Graph) {
	primaryIn := make(map[domain.PermanentID]int, len(g.Nodes))
	for _, key := range sortedEdgeKeys(g) {
		edge := g.Edges[key]
		if _, ok := g.Nodes[key.Source]; !ok {
			rep.addf("%s: edge %s->%s has unknown source", label, key.Source, key.Target)
		}
		if _, ok := g.Nodes[key.Target]; !ok {
			rep.addf("%s: edge %s->%s has unknown target", label, key.Source, key.Target)
		}
		if edge.Field == "" {
			rep.addf("%s: edge %s->%s has no declaring field", label, key.Source, key.Target)
		}
		if !knownEdgeKind(edge.Kind) {
			rep.addf("%s: edge %s->%s has unknown kind %q", label, key.Source, key.Target, edge.Kind)
		}
		if key.Target == g.RootPermanentID {
			rep.addf("%s: edge %s->%s points at the root", label, key.Source, key.Target)
		}
		if edge.Primary {
			primaryIn[key.Target]++
		}
	}
	for _, id := range sortedNodeIDs(g) {
		if id == g.RootPermanentID {
			continue
		}
		switch n := primaryIn[id]; n {
		case 1:
		case 0:
			rep.addf("%s: node %s has no primary ownership edge", label, id)
		default:
			rep.addf("%s: node %s has %d primary ownership edges", label, id, n)
		}
	}
}

// checkAcyclic reports a directed loop in the edge set. Builds reject loops,
// so one in a stored graph means the snapshot was corrupted or hand-edited.
func checkAcyclic(rep *report, label string, g *domain.Graph) {
	next := make(map[domain.PermanentID][]domain.PermanentID, len(g.Nodes))
	for _, key := range sortedEdgeKeys(g) {
		next[key.Source] = append(next[key.Source], key.Target)
	}
	const (
		unseen = iota
		onWalk
		settled
	)
	state := map[domain.PermanentID]int{}
	var visit func(domain.PermanentID) bool
	visit = func(id domain.PermanentID) bool {
		state[id] = onWalk
		for _, target := range next[id] {
			if state[target] == onWalk {
				rep.addf("%s: edge set closes a loop through %s", label, target)
				return true
			}
			if state[target] == unseen && visit(target) {
				return true
			}
		}
		state[id] = settled
		return false
	}
	for _, id := range sortedNodeIDs(g) {
		if state[id] == unseen && visit(id) {
			return
		}
	}
}

func knownEdgeKind(kind domain.EdgeKind) bool {
	switch kind {
	case domain.EdgeDirect, domain.EdgeListMember, domain.EdgeMapMember, domain.EdgeSetMember, domain.EdgeTupleMember:
		return true
	}
	return false
}

// checkAncestry validates that every node carries a root-to-node path, that
// each path walks existing edges, and that the primary ownership edge of a
// node is the last step of its path.
func checkAncestry(rep *report, label string, g *domain.Graph) {
	for _, id := range sortedPathIDs(g) {
		if _, ok := g.Nodes[id]; !ok {
			rep.addf("%s: ancestry path recorded for unknown node %s", label, id)
		}
	}
	for _, id := range sortedNodeIDs(g) {
		path := g.AncestryPaths[id]
		if len(path) == 0 {
			rep.addf("%s: node %s has no ancestry path", label, id)
			continue
		}
		if path[0] != g.RootPermanentID {
			rep.addf("%s: ancestry path of %s starts at %s, want the root", label, id, path[0])
			continue
		}
		if last := path[len(path)-1]; last != id {
			rep.addf("%s: ancestry path of %s ends at %s", label, id, last)
			continue
		}
		for i := 0; i+1 < len(path); i++ {
			key := domain.EdgeKey{Source: path[i], Target: path[i+1]}
			if _, ok := g.Edges[key]; !ok {
				rep.addf("%s: ancestry path of %s uses missing edge %s->%s", label, id, key.Source, key.Target)
			}
		}
		if id != g.RootPermanentID {
			parent := path[len(path)-2]
			key := domain.EdgeKey{Source: parent, Target: id}
			if edge, ok := g.Edges[key]; ok && !edge.Primary {
				rep.addf("%s: ancestry parent edge %s->%s is not primary", label, parent, id)
			}
		}
	}
}

// checkRecordHistory validates the per-record version bookkeeping: the
// version list and the predecessor reference must agree. A predecessor may
// point at a discarded version, so it is not required to exist in the
// snapshot.
func checkRecordHistory(rep *report, label string, rec *domain.Record) {
	id := rec.Meta.PermanentID
	history := rec.Meta.History
	if len(history) == 0 {
		if !rec.Meta.PredecessorID.IsZero() {
			rep.addf("%s: first version %s carries predecessor %s", label, id, rec.Meta.PredecessorID)
		}
		return
	}
	if rec.Meta.PredecessorID.IsZero() {
		rep.addf("%s: re-versioned node %s has no predecessor", label, id)
	} else if tail := history[len(history)-1]; tail != rec.Meta.PredecessorID {
		rep.addf("%s: version list of %s ends at %s, want predecessor %s", label, id, tail, rec.Meta.PredecessorID)
	}
	seen := make(map[domain.PermanentID]bool, len(history))
	for _, prior := range history {
		if prior == id {
			rep.addf("%s: version list of %s contains itself", label, id)
		}
		if seen[prior] {
			rep.addf("%s: version list of %s repeats %s", label, id, prior)
		}
		seen[prior] = true
	}
}

// checkProvenance validates that declared fields, recorded attributes and
// provenance entries describe the same field set.
func checkProvenance(rep *report, label string, rec *domain.Record) {
	id := rec.Meta.PermanentID
	declared := make(map[string]bool, len(rec.Fields))
	for _, field := range rec.Fields {
		if declared[field] {
			rep.addf("%s: %s %s declares field %q twice", label, rec.Type, id, field)
		}
		declared[field] = true
		if _, ok := rec.Provenance[field]; !ok {
			rep.addf("%s: %s %s: field %q has no provenance entry", label, rec.Type, id, field)
		}
	}
	for _, field := range sortedKeys(rec.Attributes) {
		if !declared[field] {
			rep.addf("%s: %s %s records attribute %q for an undeclared field", label, rec.Type, id, field)
		}
	}
	for _, field := range sortedKeys(rec.Provenance) {
		if !declared[field] {
			rep.addf("%s: %s %s records provenance %q for an undeclared field", label, rec.Type, id, field)
		}
	}
}

// checkLineageHistory validates every version chain: each listed root must
// have a graph in the matching lineage, and each kept version must descend
// from the one before it. Discarded versions leave gaps in the list but not
// in the per-record version lists, which stay immutable.
func checkLineageHistory(rep *report, snap *domain.Snapshot, byRoot map[domain.PermanentID]*domain.Graph) map[domain.PermanentID]bool {
	referenced := make(map[domain.PermanentID]bool, len(byRoot))
	for _, lineage := range sortedLineages(snap.LineageHistory) {
		history := snap.LineageHistory[lineage]
		if len(history) == 0 {
			rep.addf("lineage %s: history is empty", lineage)
			continue
		}
		var prev *domain.Record
		for _, rootID := range history {
			referenced[rootID] = true
			g, ok := byRoot[rootID]
			if !ok {
				rep.addf("lineage %s: history references missing graph %s", lineage, rootID)
				prev = nil
				continue
			}
			if g.LineageID != lineage {
				rep.addf("lineage %s: graph %s belongs to lineage %s", lineage, rootID, g.LineageID)
			}
			root := g.Root()
			if root == nil {
				prev = nil
				continue
			}
			if prev != nil {
				checkDescent(rep, lineage, prev, root)
			}
			prev = root
		}
	}
	return referenced
}

// checkDescent validates that a later kept root version descends from an
// earlier kept one. The earlier version sits in the later version list at
// the offset its own list length dictates, whether or not intermediate
// versions were discarded.
func checkDescent(rep *report, lineage domain.LineageID, earlier, later *domain.Record) {
	at := -1
	for i, prior := range later.Meta.History {
		if prior == earlier.Meta.PermanentID {
			at = i
			break
		}
	}
	if at < 0 {
		rep.addf("lineage %s: root %s does not descend from earlier version %s", lineage, later.Meta.PermanentID, earlier.Meta.PermanentID)
		return
	}
	if at != len(earlier.Meta.History) {
		rep.addf("lineage %s: version chains of %s and %s disagree", lineage, earlier.Meta.PermanentID, later.Meta.PermanentID)
	}
}

// checkTypeIndex validates coverage in both directions: every record's
// lineage is indexed under its declared type, and every indexed lineage is
// backed by at least one stored record of that type.
func checkTypeIndex(rep *report, snap *domain.Snapshot, byRoot map[domain.PermanentID]*domain.Graph) {
	stored := make(map[string]map[domain.LineageID]bool)
	for _, id := range sortedRoots(byRoot) {
		g := byRoot[id]
		for _, nodeID := range sortedNodeIDs(g) {
			rec := g.Nodes[nodeID]
			if rec == nil || rec.Meta.LineageID.IsZero() {
				continue
			}
			if rec.Type == "" {
				rep.addf("graph %s: node %s has no entity type", id, nodeID)
				continue
			}
			lineages := stored[rec.Type]
			if lineages == nil {
				lineages = make(map[domain.LineageID]bool)
				stored[rec.Type] = lineages
			}
			lineages[rec.Meta.LineageID] = true
		}
	}

	indexed := make(map[string]map[domain.LineageID]bool, len(snap.TypeIndex))
	for _, entityType := range sortedKeys(snap.TypeIndex) {
		seen := make(map[domain.LineageID]bool, len(snap.TypeIndex[entityType]))
		for _, lineage := range snap.TypeIndex[entityType] {
			if seen[lineage] {
				rep.addf("type %q: lineage %s is indexed twice", entityType, lineage)
				continue
			}
			seen[lineage] = true
			if !stored[entityType][lineage] {
				rep.addf("type %q: indexed lineage %s has no stored record of that type", entityType, lineage)
			}
		}
		indexed[entityType] = seen
	}

	for _, entityType := range sortedKeys(stored) {
		for _, lineage := range sortedLineageSet(stored[entityType]) {
			if !indexed[entityType][lineage] {
				rep.addf("type %q: stored lineage %s is missing from the type index", entityType, lineage)
			}
		}
	}
}

func sortedLineageSet(set map[domain.LineageID]bool) []domain.LineageID {
	lineages := make([]domain.LineageID, 0, len(set))
	for lineage := range set {
		lineages = append(lineages, lineage)
	}
	sort.Slice(lineages, func(i, j int) bool { return lineages[i].String() < lineages[j].String() })
	return lineages
}

func sortedNodeIDs(g *domain.Graph) []domain.PermanentID {
	ids := make([]domain.PermanentID, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

func sortedPathIDs(g *domain.Graph) []domain.PermanentID {
	ids := make([]domain.PermanentID, 0, len(g.AncestryPaths))
	for id := range g.AncestryPaths {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

func sortedEdgeKeys(g *domain.Graph) []domain.EdgeKey {
	keys := make([]domain.EdgeKey, 0, len(g.Edges))
	for key := range g.Edges {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Source != keys[j].Source {
			return keys[i].Source.String() < keys[j].Source.String()
		}
		return keys[i].Target.String() < keys[j].Target.String()
	})
	return keys
}

func sortedRoots(byRoot map[domain.PermanentID]*domain.Graph) []domain.PermanentID {
	ids := make([]domain.PermanentID, 0, len(byRoot))
	for id := range byRoot {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

func sortedLineages(history map[domain.LineageID][]domain.PermanentID) []domain.LineageID {
	lineages := make([]domain.LineageID, 0, len(history))
	for lineage := range history {
		lineages = append(lineages, lineage)
	}
	sort.Slice(lineages, func(i, j int) bool { return lineages[i].String() < lineages[j].String() })
	return lineages
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
