package main

import (
	"strings"
	"testing"
)

func TestUpsertQuery(t *testing.T) {
	tests := []struct {
		name    string
		table   string
		columns []string
		keys    []string
		want    string
	}{
		{
			name:    "updates non-key columns",
			table:   "cost_parameters",
			columns: []string{"product_id", "location_id", "holding_cost"},
			keys:    []string{"product_id", "location_id"},
			want:    "INSERT INTO cost_parameters (product_id, location_id, holding_cost) VALUES ($1, $2, $3) ON CONFLICT (product_id, location_id) DO UPDATE SET holding_cost = EXCLUDED.holding_cost",
		},
		{
			name:    "keys only",
			table:   "suppliers",
			columns: []string{"supplier_id"},
			keys:    []string{"supplier_id"},
			want:    "INSERT INTO suppliers (supplier_id) VALUES ($1) ON CONFLICT (supplier_id) DO NOTHING",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := upsertQuery(tt.table, tt.columns, tt.keys); got != tt.want {
				t.Errorf("got  %s\nwant %s", got, tt.want)
			}
		})
	}
}

func TestSelectColumns(t *testing.T) {
	var offers referenceTable
	for _, table := range referenceTables {
		if table.name == "supplier_offers" {
			offers = table
		}
	}

	columns, indexes, err := offers.selectColumns([]string{"Unit_Price", "offer_id", "notes", "product_id", "supplier_id"})
	if err != nil {
		t.Fatalf("selectColumns: %v", err)
	}
	if strings.Join(columns, ",") != "offer_id,supplier_id,product_id,unit_price" {
		t.Errorf("columns = %v", columns)
	}
	wantIdx := []int{1, 4, 3, 0}
	for i := range wantIdx {
		if indexes[i] != wantIdx[i] {
			t.Errorf("indexes = %v, want %v", indexes, wantIdx)
			break
		}
	}

	if _, _, err := offers.selectColumns([]string{"offer_id", "product_id"}); err == nil {
		t.Error("expected an error when required columns are missing")
	}
}

func TestReferenceTablesKeysAreColumns(t *testing.T) {
	for _, table := range referenceTables {
		cols := make(map[string]bool)
		for _, c := range table.columns {
			cols[c] = true
		}
		for _, k := range append(append([]string{}, table.keys...), table.required...) {
			if !cols[k] {
				t.Errorf("%s: %s is not a column", table.name, k)
			}
		}
	}
}
