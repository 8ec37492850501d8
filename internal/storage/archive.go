package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/andresuchdata/procureplan/internal/domain"
)

const defaultSnapshotPrefix = "snapshots/"

// SnapshotArchive stores frozen snapshots as JSON objects keyed by snapshot id.
// A nil store turns every operation into a no-op.
type SnapshotArchive struct {
	store  ObjectStorage
	prefix string
}

func NewSnapshotArchive(store ObjectStorage, prefix string) *SnapshotArchive {
	if prefix == "" {
		prefix = defaultSnapshotPrefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &SnapshotArchive{store: store, prefix: prefix}
}

// Enabled reports whether snapshots are actually persisted.
func (a *SnapshotArchive) Enabled() bool {
	return a != nil && a.store != nil
}

func (a *SnapshotArchive) Put(ctx context.Context, snap *domain.Snapshot) error {
	if !a.Enabled() {
		return nil
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", snap.ID, err)
	}
	return a.store.UploadObject(ctx, a.key(snap.ID), payload)
}

func (a *SnapshotArchive) Get(ctx context.Context, id string) (*domain.Snapshot, error) {
	if !a.Enabled() {
		return nil, domain.ErrSnapshotNotFound
	}
	payload, err := a.store.GetObject(ctx, a.key(id))
	if errors.Is(err, ErrObjectNotFound) {
		return nil, domain.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, err
	}

	var snap domain.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", id, err)
	}
	return &snap, nil
}

// List returns the archived snapshot ids in lexical order.
func (a *SnapshotArchive) List(ctx context.Context) ([]string, error) {
	if !a.Enabled() {
		return nil, nil
	}
	objects, err := a.store.ListObjects(ctx, a.prefix)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(objects))
	for _, o := range objects {
		name := path.Base(o.Key)
		if strings.HasSuffix(name, ".json") {
			ids = append(ids, strings.TrimSuffix(name, ".json"))
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (a *SnapshotArchive) key(id string) string {
	return a.prefix + id + ".json"
}
