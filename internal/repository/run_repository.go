package repository

import (
	"context"

	"github.com/andresuchdata/procureplan/internal/domain"
)

// RunRepository persists decision runs, their frozen snapshots and result sets.
// UpdateRun is a compare-and-set on the stored status.
type RunRepository interface {
	CreateRun(ctx context.Context, run *domain.DecisionRun) error
	GetRun(ctx context.Context, id string) (*domain.DecisionRun, error)
	ListRuns(ctx context.Context, limit int) ([]*domain.DecisionRun, error)
	UpdateRun(ctx context.Context, run *domain.DecisionRun, expected domain.RunStatus) error

	SaveSnapshot(ctx context.Context, snap *domain.Snapshot) error
	GetSnapshot(ctx context.Context, id string) (*domain.Snapshot, error)

	SaveForecasts(ctx context.Context, runID string, results []domain.ForecastResult) (string, error)
	SavePolicies(ctx context.Context, runID, forecastSetID string, policies []domain.InventoryPolicy) (string, error)
	SaveAllocation(ctx context.Context, runID, policySetID string, alloc *domain.Allocation) (string, error)

	GetForecasts(ctx context.Context, setID string) ([]domain.ForecastResult, error)
	GetPolicies(ctx context.Context, setID string) ([]domain.InventoryPolicy, error)
	GetAllocation(ctx context.Context, setID string) (*domain.Allocation, error)
}

// Scope selects the products a snapshot covers.
type Scope struct {
	ProductIDs []string
	All        bool
}

// Includes reports whether a product is in scope.
func (s Scope) Includes(productID string) bool {
	if s.All {
		return true
	}
	for _, id := range s.ProductIDs {
		if id == productID {
			return true
		}
	}
	return false
}

// ReferenceDataRepository reads the planning inputs: demand history, offers,
// suppliers, cost parameters and inventory positions.
type ReferenceDataRepository interface {
	LoadSnapshot(ctx context.Context, scope Scope) (*domain.Snapshot, error)
}
