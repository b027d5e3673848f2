package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"entitygraph/internal/blob"
	"entitygraph/pkg/domain"
)

// Archiver copies frozen tree versions out of the registry into an archive
// store so hosts can discard superseded versions without losing them. One
// object per version, keyed lineages/<lineage_id>/<root_permanent_id>.json.
type Archiver struct {
	service *Service
	store   blob.Store
}

// NewArchiver binds a service to an archive store.
func NewArchiver(service *Service, store blob.Store) *Archiver {
	return &Archiver{service: service, store: store}
}

// Store returns the underlying archive store.
func (a *Archiver) Store() blob.Store { return a.store }

func archiveKey(lineage domain.LineageID, rootID domain.PermanentID) string {
	return fmt.Sprintf("lineages/%s/%s.json", lineage, rootID)
}

// ArchiveVersion writes the graph rooted at rootID to the archive store.
// Re-archiving an already archived version is a no-op returning the stored
// object, so retention jobs can retry safely.
func (a *Archiver) ArchiveVersion(ctx context.Context, rootID domain.PermanentID) (blob.ObjectInfo, error) {
	graph, err := a.service.GetGraph(ctx, rootID)
	if err != nil {
		return blob.ObjectInfo{}, err
	}
	key := archiveKey(graph.LineageID, rootID)
	if info, err := a.store.Stat(ctx, key); err == nil {
		return info, nil
	}
	payload, err := json.MarshalIndent(graph, "", "  ")
	if err != nil {
		return blob.ObjectInfo{}, fmt.Errorf("encode graph %s: %w", rootID, err)
	}
	opts := blob.PutOptions{
		ContentType: "application/json",
		Metadata: map[string]string{
			"lineage_id":        graph.LineageID.String(),
			"root_permanent_id": rootID.String(),
		},
	}
	info, err := a.store.Put(ctx, key, bytes.NewReader(payload), opts)
	if err != nil {
		return blob.ObjectInfo{}, fmt.Errorf("archive graph %s: %w", rootID, err)
	}
	return info, nil
}

// LoadArchivedVersion reads a previously archived graph back from the store.
func (a *Archiver) LoadArchivedVersion(ctx context.Context, lineage domain.LineageID, rootID domain.PermanentID) (*domain.Graph, error) {
	key := archiveKey(lineage, rootID)
	_, rc, err := a.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load archived graph %s: %w", rootID, err)
	}
	defer func() { _ = rc.Close() }()
	var graph domain.Graph
	if err := json.NewDecoder(rc).Decode(&graph); err != nil {
		return nil, fmt.Errorf("decode archived graph %s: %w", rootID, err)
	}
	return &graph, nil
}

// ListArchived returns the archived versions of a lineage, sorted by key.
func (a *Archiver) ListArchived(ctx context.Context, lineage domain.LineageID) ([]blob.ObjectInfo, error) {
	return a.store.List(ctx, "lineages/"+lineage.String()+"/")
}

// ArchiveAndDiscard archives the version and then removes it from the
// registry. The archive write lands before the discard so a failure between
// the two never loses the version.
func (a *Archiver) ArchiveAndDiscard(ctx context.Context, rootID domain.PermanentID) (blob.ObjectInfo, error) {
	info, err := a.ArchiveVersion(ctx, rootID)
	if err != nil {
		return blob.ObjectInfo{}, err
	}
	if err := a.service.DiscardVersion(ctx, rootID); err != nil {
		return blob.ObjectInfo{}, err
	}
	return info, nil
}
