package main

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/andresuchdata/procureplan/internal/app"
	"github.com/andresuchdata/procureplan/internal/config"
	"github.com/andresuchdata/procureplan/internal/domain"
	"github.com/andresuchdata/procureplan/internal/repository/postgres"
	"github.com/andresuchdata/procureplan/pkg/logger"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/urfave/cli/v2"
)

// referenceTable describes how one CSV file maps onto a reference table.
type referenceTable struct {
	name     string
	file     string
	columns  []string
	keys     []string
	required []string
}

var referenceTables = []referenceTable{
	{
		name:     "suppliers",
		file:     "suppliers.csv",
		columns:  []string{"supplier_id", "name", "capacity"},
		keys:     []string{"supplier_id"},
		required: []string{"supplier_id"},
	},
	{
		name:     "demand_history",
		file:     "demand_history.csv",
		columns:  []string{"product_id", "location_id", "period", "quantity"},
		keys:     []string{"product_id", "location_id", "period"},
		required: []string{"product_id", "location_id", "period", "quantity"},
	},
	{
		name: "supplier_offers",
		file: "supplier_offers.csv",
		columns: []string{
			"offer_id", "supplier_id", "product_id", "unit_price", "currency", "moq",
			"lead_time_periods", "rating", "confidence", "capacity", "captured_at",
		},
		keys:     []string{"offer_id"},
		required: []string{"offer_id", "supplier_id", "product_id", "unit_price"},
	},
	{
		name:     "cost_parameters",
		file:     "cost_parameters.csv",
		columns:  []string{"product_id", "location_id", "holding_cost", "setup_cost", "stockout_penalty", "service_level"},
		keys:     []string{"product_id", "location_id"},
		required: []string{"product_id", "location_id", "holding_cost", "setup_cost", "stockout_penalty", "service_level"},
	},
	{
		name:     "inventory_positions",
		file:     "inventory_positions.csv",
		columns:  []string{"product_id", "location_id", "on_hand", "on_order", "backorder"},
		keys:     []string{"product_id", "location_id"},
		required: []string{"product_id", "location_id"},
	},
	{
		name:     "shipping_quotes",
		file:     "shipping_quotes.csv",
		columns:  []string{"supplier_id", "location_id", "cost_per_unit"},
		keys:     []string{"supplier_id", "location_id"},
		required: []string{"supplier_id", "location_id", "cost_per_unit"},
	},
}

func seedCommand(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "seed",
		Usage: "Load reference data (demand, suppliers, offers, costs, positions) into Postgres",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "db-url",
				Usage:   "Database connection string",
				Value:   postgres.DSN(cfg.Database),
				EnvVars: []string{"DATABASE_URL"},
			},
			&cli.StringFlag{
				Name:    "data-dir",
				Usage:   "Directory containing reference CSV files",
				Value:   "./data/seeds",
				EnvVars: []string{"SEED_DATA_DIR"},
			},
			&cli.BoolFlag{
				Name:  "demo",
				Usage: "Insert the built-in demo data set instead of reading CSV files",
			},
		},
		Action: runSeeder,
	}
}

func runSeeder(c *cli.Context) error {
	db, err := sql.Open("pgx", c.String("db-url"))
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	ctx := c.Context
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	logger.Log.Info().Msg("Starting reference data seeding...")
	if c.Bool("demo") {
		err = seedSnapshot(ctx, tx, app.DemoSnapshot())
	} else {
		err = seedDirectory(ctx, tx, c.String("data-dir"))
	}
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	logger.Log.Info().Msg("Reference data seeding completed")
	return nil
}

func seedDirectory(ctx context.Context, tx *sql.Tx, dataDir string) error {
	for _, table := range referenceTables {
		path := filepath.Join(dataDir, table.file)
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			logger.Log.Warn().Str("table", table.name).Str("file", path).Msg("seed file missing, skipping")
			continue
		}
		if err := seedTable(ctx, tx, table, path); err != nil {
			return fmt.Errorf("failed to seed %s: %w", table.name, err)
		}
	}
	return nil
}

func seedTable(ctx context.Context, tx *sql.Tx, table referenceTable, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open file %s: %w", filePath, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("failed to read CSV header: %w", err)
	}

	columns, indexes, err := table.selectColumns(header)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, upsertQuery(table.name, columns, table.keys))
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	rowCount := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read CSV record: %w", err)
		}

		args := make([]any, len(columns))
		for i, idx := range indexes {
			args[i] = nullIfEmpty(record[idx])
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to upsert row %d: %w", rowCount+1, err)
		}
		rowCount++
	}

	logger.Log.Info().Str("table", table.name).Int("rows", rowCount).Msg("Seeded table")
	return nil
}

// nullIfEmpty returns NULL for blank cells so column types are left to Postgres.
func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// selectColumns keeps the table columns present in the CSV header, in table
// order, together with their header positions.
func (t referenceTable) selectColumns(header []string) ([]string, []int, error) {
	position := make(map[string]int, len(header))
	for i, h := range header {
		position[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range t.required {
		if _, ok := position[col]; !ok {
			return nil, nil, fmt.Errorf("column '%s' not found in header: %v", col, header)
		}
	}

	var columns []string
	var indexes []int
	for _, col := range t.columns {
		if idx, ok := position[col]; ok {
			columns = append(columns, col)
			indexes = append(indexes, idx)
		}
	}
	return columns, indexes, nil
}

func upsertQuery(table string, columns, keys []string) string {
	placeholders := make([]string, len(columns))
	for i := range columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	isKey := make(map[string]bool, len(keys))
	for _, k := range keys {
		isKey[k] = true
	}
	var updates []string
	for _, col := range columns {
		if !isKey[col] {
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
		}
	}

	conflict := "DO NOTHING"
	if len(updates) > 0 {
		conflict = "DO UPDATE SET " + strings.Join(updates, ", ")
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) %s",
		table,
		strings.Join(columns, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(keys, ", "),
		conflict,
	)
}

// seedSnapshot writes an in-memory data set row by row through the same upserts.
func seedSnapshot(ctx context.Context, tx *sql.Tx, snap domain.Snapshot) error {
	exec := func(table referenceTable, args ...any) error {
		_, err := tx.ExecContext(ctx, upsertQuery(table.name, table.columns, table.keys), args...)
		if err != nil {
			return fmt.Errorf("failed to seed %s: %w", table.name, err)
		}
		return nil
	}
	seededAt := time.Now().UTC()
	tables := make(map[string]referenceTable, len(referenceTables))
	for _, t := range referenceTables {
		tables[t.name] = t
	}

	for _, s := range snap.Suppliers {
		if err := exec(tables["suppliers"], s.SupplierID, s.Name, s.Capacity); err != nil {
			return err
		}
	}
	for _, series := range snap.Series {
		for _, p := range series.Points {
			if err := exec(tables["demand_history"], series.ProductID, series.LocationID, p.Period, p.Quantity); err != nil {
				return err
			}
		}
	}
	for _, o := range snap.Offers {
		captured := o.CapturedAt
		if captured.IsZero() {
			captured = seededAt
		}
		if err := exec(tables["supplier_offers"],
			o.OfferID, o.SupplierID, o.ProductID, o.UnitPrice, o.Currency, o.MOQ,
			o.LeadTimePeriods, o.Rating, o.Confidence, o.Capacity, captured,
		); err != nil {
			return err
		}
	}
	for _, c := range snap.Costs {
		if err := exec(tables["cost_parameters"], c.ProductID, c.LocationID, c.HoldingCost, c.SetupCost, c.StockoutPenalty, c.ServiceLevel); err != nil {
			return err
		}
	}
	for _, p := range snap.Positions {
		if err := exec(tables["inventory_positions"], p.ProductID, p.LocationID, p.OnHand, p.OnOrder, p.Backorder); err != nil {
			return err
		}
	}
	for _, q := range snap.Shipping {
		if err := exec(tables["shipping_quotes"], q.SupplierID, q.LocationID, q.CostPerUnit); err != nil {
			return err
		}
	}

	logger.Log.Info().
		Int("series", len(snap.Series)).
		Int("offers", len(snap.Offers)).
		Msg("Seeded demo reference data")
	return nil
}
