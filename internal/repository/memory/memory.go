// Package memory holds in-process repositories used by tests and the
// single-shot CLI when no database is configured.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/andresuchdata/procureplan/internal/domain"
	"github.com/andresuchdata/procureplan/internal/repository"
	"github.com/google/uuid"
)

type RunStore struct {
	mu          sync.RWMutex
	runs        map[string]*domain.DecisionRun
	order       []string
	snapshots   map[string][]byte
	forecasts   map[string][]domain.ForecastResult
	policies    map[string][]domain.InventoryPolicy
	allocations map[string]*domain.Allocation
}

var _ repository.RunRepository = (*RunStore)(nil)

func NewRunStore() *RunStore {
	return &RunStore{
		runs:        make(map[string]*domain.DecisionRun),
		snapshots:   make(map[string][]byte),
		forecasts:   make(map[string][]domain.ForecastResult),
		policies:    make(map[string][]domain.InventoryPolicy),
		allocations: make(map[string]*domain.Allocation),
	}
}

func (s *RunStore) CreateRun(ctx context.Context, run *domain.DecisionRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; exists {
		return domain.InvalidInputf("run %s already exists", run.ID)
	}
	s.runs[run.ID] = cloneRun(run)
	s.order = append(s.order, run.ID)
	return nil
}

func (s *RunStore) GetRun(ctx context.Context, id string) (*domain.DecisionRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, domain.ErrRunNotFound
	}
	return cloneRun(run), nil
}

// ListRuns returns the most recently created runs first.
func (s *RunStore) ListRuns(ctx context.Context, limit int) ([]*domain.DecisionRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.DecisionRun, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, cloneRun(s.runs[s.order[i]]))
	}
	return out, nil
}

func (s *RunStore) UpdateRun(ctx context.Context, run *domain.DecisionRun, expected domain.RunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.runs[run.ID]
	if !ok {
		return domain.ErrRunNotFound
	}
	if current.Status != expected || !domain.CanTransition(expected, run.Status) {
		return domain.ErrInvalidTransition
	}
	s.runs[run.ID] = cloneRun(run)
	return nil
}

func (s *RunStore) SaveSnapshot(ctx context.Context, snap *domain.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.snapshots[snap.ID]; !exists {
		s.snapshots[snap.ID] = payload
	}
	return nil
}

func (s *RunStore) GetSnapshot(ctx context.Context, id string) (*domain.Snapshot, error) {
	s.mu.RLock()
	payload, ok := s.snapshots[id]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrSnapshotNotFound
	}

	var snap domain.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *RunStore) SaveForecasts(ctx context.Context, runID string, results []domain.ForecastResult) (string, error) {
	id := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forecasts[id] = append([]domain.ForecastResult(nil), results...)
	return id, nil
}

func (s *RunStore) SavePolicies(ctx context.Context, runID, forecastSetID string, policies []domain.InventoryPolicy) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.forecasts[forecastSetID]; !ok {
		return "", domain.ErrResultUnavailable
	}
	id := uuid.NewString()
	s.policies[id] = append([]domain.InventoryPolicy(nil), policies...)
	return id, nil
}

func (s *RunStore) SaveAllocation(ctx context.Context, runID, policySetID string, alloc *domain.Allocation) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.policies[policySetID]; !ok {
		return "", domain.ErrResultUnavailable
	}
	id := uuid.NewString()
	cp := *alloc
	cp.Decisions = append([]domain.AllocationDecision(nil), alloc.Decisions...)
	s.allocations[id] = &cp
	return id, nil
}

func (s *RunStore) GetForecasts(ctx context.Context, setID string) ([]domain.ForecastResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	results, ok := s.forecasts[setID]
	if !ok {
		return nil, domain.ErrResultUnavailable
	}
	return append([]domain.ForecastResult(nil), results...), nil
}

func (s *RunStore) GetPolicies(ctx context.Context, setID string) ([]domain.InventoryPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	policies, ok := s.policies[setID]
	if !ok {
		return nil, domain.ErrResultUnavailable
	}
	return append([]domain.InventoryPolicy(nil), policies...), nil
}

func (s *RunStore) GetAllocation(ctx context.Context, setID string) (*domain.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	alloc, ok := s.allocations[setID]
	if !ok {
		return nil, domain.ErrResultUnavailable
	}
	cp := *alloc
	return &cp, nil
}

func cloneRun(run *domain.DecisionRun) *domain.DecisionRun {
	cp := *run
	cp.Config.ProductIDs = append([]string(nil), run.Config.ProductIDs...)
	cp.Warnings = append([]string(nil), run.Warnings...)
	if run.CompletedAt != nil {
		t := *run.CompletedAt
		cp.CompletedAt = &t
	}
	if run.Summary != nil {
		summary := *run.Summary
		cp.Summary = &summary
	}
	return &cp
}

// ReferenceData serves a fixed data set, filtered by scope.
type ReferenceData struct {
	mu   sync.RWMutex
	data domain.Snapshot
}

var _ repository.ReferenceDataRepository = (*ReferenceData)(nil)

func NewReferenceData(data domain.Snapshot) *ReferenceData {
	return &ReferenceData{data: data}
}

// Replace swaps the served data set.
func (r *ReferenceData) Replace(data domain.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = data
}

func (r *ReferenceData) LoadSnapshot(ctx context.Context, scope repository.Scope) (*domain.Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := &domain.Snapshot{}
	for _, s := range r.data.Series {
		if scope.Includes(s.ProductID) {
			s.Points = append([]domain.DemandPoint(nil), s.Points...)
			snap.Series = append(snap.Series, s)
		}
	}
	for _, o := range r.data.Offers {
		if scope.Includes(o.ProductID) {
			snap.Offers = append(snap.Offers, o)
		}
	}
	for _, c := range r.data.Costs {
		if scope.Includes(c.ProductID) {
			snap.Costs = append(snap.Costs, c)
		}
	}
	for _, p := range r.data.Positions {
		if scope.Includes(p.ProductID) {
			snap.Positions = append(snap.Positions, p)
		}
	}
	snap.Suppliers = append(snap.Suppliers, r.data.Suppliers...)
	snap.Shipping = append(snap.Shipping, r.data.Shipping...)
	sort.SliceStable(snap.Suppliers, func(i, j int) bool {
		return snap.Suppliers[i].SupplierID < snap.Suppliers[j].SupplierID
	})
	return snap, nil
}
