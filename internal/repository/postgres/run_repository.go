package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/andresuchdata/procureplan/internal/domain"
	"github.com/andresuchdata/procureplan/internal/repository"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type runRepository struct {
	db *DB
}

var _ repository.RunRepository = (*runRepository)(nil)

func NewRunRepository(db *DB) repository.RunRepository {
	return &runRepository{db: db}
}

type runRow struct {
	ID              string         `db:"run_id"`
	Status          string         `db:"status"`
	CreatedAt       time.Time      `db:"created_at"`
	CompletedAt     sql.NullTime   `db:"completed_at"`
	Config          []byte         `db:"config"`
	SnapshotID      string         `db:"snapshot_id"`
	ForecastSetID   sql.NullString `db:"forecast_set_id"`
	PolicySetID     sql.NullString `db:"policy_set_id"`
	AllocationSetID sql.NullString `db:"allocation_set_id"`
	Summary         []byte         `db:"summary"`
	FailureReason   sql.NullString `db:"failure_reason"`
	FailureMessage  sql.NullString `db:"failure_message"`
	Warnings        []byte         `db:"warnings"`
}

const runColumns = `run_id, status, created_at, completed_at, config, snapshot_id,
	forecast_set_id, policy_set_id, allocation_set_id, summary,
	failure_reason, failure_message, warnings`

func (r runRow) toDomain() (*domain.DecisionRun, error) {
	run := &domain.DecisionRun{
		ID:              r.ID,
		Status:          domain.RunStatus(r.Status),
		CreatedAt:       r.CreatedAt,
		SnapshotID:      r.SnapshotID,
		ForecastSetID:   r.ForecastSetID.String,
		PolicySetID:     r.PolicySetID.String,
		AllocationSetID: r.AllocationSetID.String,
		FailureReason:   r.FailureReason.String,
		FailureMessage:  r.FailureMessage.String,
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time
		run.CompletedAt = &t
	}
	if err := json.Unmarshal(r.Config, &run.Config); err != nil {
		return nil, fmt.Errorf("decode run config: %w", err)
	}
	if len(r.Summary) > 0 && string(r.Summary) != "null" {
		run.Summary = &domain.RunSummary{}
		if err := json.Unmarshal(r.Summary, run.Summary); err != nil {
			return nil, fmt.Errorf("decode run summary: %w", err)
		}
	}
	if len(r.Warnings) > 0 {
		if err := json.Unmarshal(r.Warnings, &run.Warnings); err != nil {
			return nil, fmt.Errorf("decode run warnings: %w", err)
		}
	}
	return run, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (r *runRepository) CreateRun(ctx context.Context, run *domain.DecisionRun) error {
	config, err := json.Marshal(run.Config)
	if err != nil {
		return fmt.Errorf("encode run config: %w", err)
	}
	warnings, err := json.Marshal(nonNil(run.Warnings))
	if err != nil {
		return fmt.Errorf("encode run warnings: %w", err)
	}

	query := `
		INSERT INTO decision_runs (run_id, status, created_at, config, snapshot_id, warnings)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := r.db.ExecContext(ctx, query, run.ID, run.Status, run.CreatedAt, config, run.SnapshotID, warnings); err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}
	return nil
}

func (r *runRepository) GetRun(ctx context.Context, id string) (*domain.DecisionRun, error) {
	var row runRow
	err := r.db.GetContext(ctx, &row, `SELECT `+runColumns+` FROM decision_runs WHERE run_id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return row.toDomain()
}

func (r *runRepository) ListRuns(ctx context.Context, limit int) ([]*domain.DecisionRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []runRow
	query := `SELECT ` + runColumns + ` FROM decision_runs ORDER BY created_at DESC, run_id LIMIT $1`
	if err := r.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	runs := make([]*domain.DecisionRun, 0, len(rows))
	for _, row := range rows {
		run, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// UpdateRun writes the run only if the stored status still equals expected.
func (r *runRepository) UpdateRun(ctx context.Context, run *domain.DecisionRun, expected domain.RunStatus) error {
	if !domain.CanTransition(expected, run.Status) {
		return domain.ErrInvalidTransition
	}

	var summary []byte
	if run.Summary != nil {
		var err error
		if summary, err = json.Marshal(run.Summary); err != nil {
			return fmt.Errorf("encode run summary: %w", err)
		}
	}
	warnings, err := json.Marshal(nonNil(run.Warnings))
	if err != nil {
		return fmt.Errorf("encode run warnings: %w", err)
	}
	var completed sql.NullTime
	if run.CompletedAt != nil {
		completed = sql.NullTime{Time: *run.CompletedAt, Valid: true}
	}

	query := `
		UPDATE decision_runs SET
			status = $1,
			completed_at = $2,
			forecast_set_id = $3,
			policy_set_id = $4,
			allocation_set_id = $5,
			summary = $6,
			failure_reason = $7,
			failure_message = $8,
			warnings = $9
		WHERE run_id = $10 AND status = $11
	`
	res, err := r.db.ExecContext(ctx, query,
		run.Status, completed,
		nullString(run.ForecastSetID), nullString(run.PolicySetID), nullString(run.AllocationSetID),
		summary, nullString(run.FailureReason), nullString(run.FailureMessage), warnings,
		run.ID, expected,
	)
	if err != nil {
		return fmt.Errorf("update run %s: %w", run.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update run %s: %w", run.ID, err)
	}
	if affected == 1 {
		return nil
	}

	// Distinguish a missing run from a lost compare-and-set.
	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM decision_runs WHERE run_id = $1)`, run.ID); err != nil {
		return fmt.Errorf("update run %s: %w", run.ID, err)
	}
	if !exists {
		return domain.ErrRunNotFound
	}
	return domain.ErrInvalidTransition
}

func (r *runRepository) SaveSnapshot(ctx context.Context, snap *domain.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	query := `
		INSERT INTO snapshots (snapshot_id, captured_at, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (snapshot_id) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, query, snap.ID, snap.CapturedAt, payload); err != nil {
		return fmt.Errorf("insert snapshot %s: %w", snap.ID, err)
	}
	return nil
}

func (r *runRepository) GetSnapshot(ctx context.Context, id string) (*domain.Snapshot, error) {
	var payload []byte
	err := r.db.GetContext(ctx, &payload, `SELECT payload FROM snapshots WHERE snapshot_id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot %s: %w", id, err)
	}

	var snap domain.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", id, err)
	}
	return &snap, nil
}

func (r *runRepository) SaveForecasts(ctx context.Context, runID string, results []domain.ForecastResult) (string, error) {
	setID := uuid.NewString()
	err := r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO forecast_sets (set_id, run_id) VALUES ($1, $2)`, setID, runID); err != nil {
			return fmt.Errorf("insert forecast set: %w", err)
		}

		query := `
			INSERT INTO forecast_results (
				set_id, product_id, location_id, model_name, quality,
				validation_error, mape, residual_std, points, candidates
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`
		for _, fc := range results {
			points, err := json.Marshal(fc.Points)
			if err != nil {
				return err
			}
			candidates, err := json.Marshal(fc.Candidates)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, query,
				setID, fc.ProductID, fc.LocationID, fc.Model, fc.Quality,
				fc.WAPE, fc.MAPE, fc.ResidualStd, points, candidates,
			); err != nil {
				return fmt.Errorf("insert forecast %s: %w", fc.Key(), err)
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return setID, nil
}

func (r *runRepository) SavePolicies(ctx context.Context, runID, forecastSetID string, policies []domain.InventoryPolicy) (string, error) {
	setID := uuid.NewString()
	err := r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO policy_sets (set_id, run_id, forecast_set_id) VALUES ($1, $2, $3)`,
			setID, runID, forecastSetID,
		); err != nil {
			return fmt.Errorf("insert policy set: %w", err)
		}

		query := `
			INSERT INTO inventory_policies (
				set_id, product_id, location_id, eoq, reorder_point, safety_stock,
				avg_demand_per_period, demand_std_dev, service_level, lead_time_periods,
				annual_holding_cost, annual_ordering_cost, orderable, reason
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		`
		for _, p := range policies {
			if _, err := tx.ExecContext(ctx, query,
				setID, p.ProductID, p.LocationID, p.EOQ, p.ReorderPoint, p.SafetyStock,
				p.AvgDemandPerPeriod, p.DemandStdDev, p.ServiceLevel, p.LeadTimePeriods,
				p.AnnualHoldingCost, p.AnnualOrderingCost, p.Orderable, p.Reason,
			); err != nil {
				return fmt.Errorf("insert policy %s: %w", p.Key(), err)
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return setID, nil
}

func (r *runRepository) SaveAllocation(ctx context.Context, runID, policySetID string, alloc *domain.Allocation) (string, error) {
	breakdown, err := json.Marshal(alloc.Breakdown)
	if err != nil {
		return "", err
	}
	binding, err := json.Marshal(nonNil(alloc.BindingConstraints))
	if err != nil {
		return "", err
	}
	unallocatable, err := json.Marshal(nonNil(alloc.Unallocatable))
	if err != nil {
		return "", err
	}
	shortages, err := json.Marshal(alloc.Shortages)
	if err != nil {
		return "", err
	}

	setID := uuid.NewString()
	err = r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		query := `
			INSERT INTO allocation_sets (
				set_id, run_id, policy_set_id, solver_status, objective, cost_breakdown,
				binding_constraints, solve_time_ns, relaxed, unallocatable, shortages
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`
		if _, err := tx.ExecContext(ctx, query,
			setID, runID, policySetID, alloc.Status, alloc.Objective, breakdown,
			binding, alloc.SolveTime.Nanoseconds(), alloc.Relaxed, unallocatable, shortages,
		); err != nil {
			return fmt.Errorf("insert allocation set: %w", err)
		}

		query = `
			INSERT INTO allocation_decisions (
				set_id, product_id, supplier_id, location_id, offer_id,
				quantity, unit_cost, shipping_cost_per_unit, total_cost
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`
		for _, d := range alloc.Decisions {
			if _, err := tx.ExecContext(ctx, query,
				setID, d.ProductID, d.SupplierID, d.LocationID, d.OfferID,
				d.Quantity, d.UnitCost, d.ShippingCostPerUnit, d.TotalCost,
			); err != nil {
				return fmt.Errorf("insert decision %s/%s: %w", d.ProductID, d.OfferID, err)
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return setID, nil
}

type forecastRow struct {
	ProductID   string  `db:"product_id"`
	LocationID  string  `db:"location_id"`
	Model       string  `db:"model_name"`
	Quality     string  `db:"quality"`
	WAPE        float64 `db:"validation_error"`
	MAPE        float64 `db:"mape"`
	ResidualStd float64 `db:"residual_std"`
	Points      []byte  `db:"points"`
	Candidates  []byte  `db:"candidates"`
}

func (r *runRepository) GetForecasts(ctx context.Context, setID string) ([]domain.ForecastResult, error) {
	if err := r.requireSet(ctx, "forecast_sets", setID); err != nil {
		return nil, err
	}

	var rows []forecastRow
	query := `
		SELECT product_id, location_id, model_name, quality, validation_error,
		       mape, residual_std, points, candidates
		FROM forecast_results
		WHERE set_id = $1
		ORDER BY product_id, location_id
	`
	if err := r.db.SelectContext(ctx, &rows, query, setID); err != nil {
		return nil, fmt.Errorf("get forecasts %s: %w", setID, err)
	}

	results := make([]domain.ForecastResult, 0, len(rows))
	for _, row := range rows {
		fc := domain.ForecastResult{
			ProductID:   row.ProductID,
			LocationID:  row.LocationID,
			Model:       row.Model,
			Quality:     domain.ForecastQuality(row.Quality),
			WAPE:        row.WAPE,
			MAPE:        row.MAPE,
			ResidualStd: row.ResidualStd,
		}
		if err := json.Unmarshal(row.Points, &fc.Points); err != nil {
			return nil, fmt.Errorf("decode forecast points: %w", err)
		}
		if len(row.Candidates) > 0 {
			if err := json.Unmarshal(row.Candidates, &fc.Candidates); err != nil {
				return nil, fmt.Errorf("decode forecast candidates: %w", err)
			}
		}
		results = append(results, fc)
	}
	return results, nil
}

func (r *runRepository) GetPolicies(ctx context.Context, setID string) ([]domain.InventoryPolicy, error) {
	if err := r.requireSet(ctx, "policy_sets", setID); err != nil {
		return nil, err
	}

	var policies []domain.InventoryPolicy
	query := `
		SELECT product_id, location_id, eoq, reorder_point, safety_stock,
		       avg_demand_per_period, demand_std_dev, service_level, lead_time_periods,
		       annual_holding_cost, annual_ordering_cost, orderable, reason
		FROM inventory_policies
		WHERE set_id = $1
		ORDER BY product_id, location_id
	`
	if err := r.db.SelectContext(ctx, &policies, query, setID); err != nil {
		return nil, fmt.Errorf("get policies %s: %w", setID, err)
	}
	return policies, nil
}

type allocationRow struct {
	Status        string  `db:"solver_status"`
	Objective     float64 `db:"objective"`
	Breakdown     []byte  `db:"cost_breakdown"`
	Binding       []byte  `db:"binding_constraints"`
	SolveTimeNs   int64   `db:"solve_time_ns"`
	Relaxed       bool    `db:"relaxed"`
	Unallocatable []byte  `db:"unallocatable"`
	Shortages     []byte  `db:"shortages"`
}

func (r *runRepository) GetAllocation(ctx context.Context, setID string) (*domain.Allocation, error) {
	var row allocationRow
	query := `
		SELECT solver_status, objective, cost_breakdown, binding_constraints,
		       solve_time_ns, relaxed, unallocatable, shortages
		FROM allocation_sets
		WHERE set_id = $1
	`
	err := r.db.GetContext(ctx, &row, query, setID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrResultUnavailable
	}
	if err != nil {
		return nil, fmt.Errorf("get allocation %s: %w", setID, err)
	}

	alloc := &domain.Allocation{
		Status:    domain.SolverStatus(row.Status),
		Objective: row.Objective,
		SolveTime: time.Duration(row.SolveTimeNs),
		Relaxed:   row.Relaxed,
	}
	for _, part := range []struct {
		raw  []byte
		dest any
	}{
		{row.Breakdown, &alloc.Breakdown},
		{row.Binding, &alloc.BindingConstraints},
		{row.Unallocatable, &alloc.Unallocatable},
		{row.Shortages, &alloc.Shortages},
	} {
		if len(part.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(part.raw, part.dest); err != nil {
			return nil, fmt.Errorf("decode allocation %s: %w", setID, err)
		}
	}

	query = `
		SELECT product_id, supplier_id, location_id, offer_id, quantity,
		       unit_cost, shipping_cost_per_unit, total_cost
		FROM allocation_decisions
		WHERE set_id = $1
		ORDER BY product_id, location_id, supplier_id, offer_id
	`
	if err := r.db.SelectContext(ctx, &alloc.Decisions, query, setID); err != nil {
		return nil, fmt.Errorf("get allocation decisions %s: %w", setID, err)
	}
	return alloc, nil
}

func (r *runRepository) requireSet(ctx context.Context, table, setID string) error {
	var exists bool
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE set_id = $1)`, table)
	if err := r.db.GetContext(ctx, &exists, query, setID); err != nil {
		return fmt.Errorf("check %s %s: %w", table, setID, err)
	}
	if !exists {
		return domain.ErrResultUnavailable
	}
	return nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
