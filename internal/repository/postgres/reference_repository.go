package postgres

import (
	"context"
	"fmt"

	"github.com/andresuchdata/procureplan/internal/domain"
	"github.com/andresuchdata/procureplan/internal/repository"
	"github.com/lib/pq"
	"golang.org/x/sync/errgroup"
)

type referenceRepository struct {
	db *DB
}

var _ repository.ReferenceDataRepository = (*referenceRepository)(nil)

func NewReferenceRepository(db *DB) repository.ReferenceDataRepository {
	return &referenceRepository{db: db}
}

type demandRow struct {
	ProductID  string  `db:"product_id"`
	LocationID string  `db:"location_id"`
	Period     int     `db:"period"`
	Quantity   float64 `db:"quantity"`
}

// scopeFilter returns a WHERE fragment on product_id and its argument list.
func scopeFilter(scope repository.Scope) (string, []any) {
	if scope.All {
		return "", nil
	}
	return " WHERE product_id = ANY($1::text[])", []any{pq.Array(scope.ProductIDs)}
}

// LoadSnapshot reads every reference table concurrently and assembles an
// unfrozen snapshot for the scope.
func (r *referenceRepository) LoadSnapshot(ctx context.Context, scope repository.Scope) (*domain.Snapshot, error) {
	where, args := scopeFilter(scope)
	snap := &domain.Snapshot{}

	var demand []demandRow
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		query := `SELECT product_id, location_id, period, quantity FROM demand_history` + where +
			` ORDER BY product_id, location_id, period`
		if err := r.db.SelectContext(gctx, &demand, query, args...); err != nil {
			return fmt.Errorf("load demand history: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		query := `
			SELECT offer_id, supplier_id, product_id, unit_price, currency, moq,
			       lead_time_periods, rating, confidence, capacity, captured_at
			FROM supplier_offers` + where
		if err := r.db.SelectContext(gctx, &snap.Offers, query, args...); err != nil {
			return fmt.Errorf("load supplier offers: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		query := `SELECT supplier_id, name, capacity FROM suppliers ORDER BY supplier_id`
		if err := r.db.SelectContext(gctx, &snap.Suppliers, query); err != nil {
			return fmt.Errorf("load suppliers: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		query := `
			SELECT product_id, location_id, holding_cost, setup_cost, stockout_penalty, service_level
			FROM cost_parameters` + where
		if err := r.db.SelectContext(gctx, &snap.Costs, query, args...); err != nil {
			return fmt.Errorf("load cost parameters: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		query := `SELECT product_id, location_id, on_hand, on_order, backorder FROM inventory_positions` + where
		if err := r.db.SelectContext(gctx, &snap.Positions, query, args...); err != nil {
			return fmt.Errorf("load inventory positions: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		query := `SELECT supplier_id, location_id, cost_per_unit FROM shipping_quotes`
		if err := r.db.SelectContext(gctx, &snap.Shipping, query); err != nil {
			return fmt.Errorf("load shipping quotes: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	snap.Series = groupSeries(demand)
	return snap, nil
}

// groupSeries folds ordered demand rows into one series per product and location.
func groupSeries(rows []demandRow) []domain.DemandSeries {
	var out []domain.DemandSeries
	for _, row := range rows {
		n := len(out)
		if n == 0 || out[n-1].ProductID != row.ProductID || out[n-1].LocationID != row.LocationID {
			out = append(out, domain.DemandSeries{ProductID: row.ProductID, LocationID: row.LocationID})
			n++
		}
		out[n-1].Points = append(out[n-1].Points, domain.DemandPoint{Period: row.Period, Quantity: row.Quantity})
	}
	return out
}
