package postgres

const schemaDDL = `
CREATE TABLE IF NOT EXISTS demand_history (
    product_id   TEXT NOT NULL,
    location_id  TEXT NOT NULL,
    period       INTEGER NOT NULL,
    quantity     DOUBLE PRECISION NOT NULL,
    PRIMARY KEY (product_id, location_id, period)
);

CREATE TABLE IF NOT EXISTS suppliers (
    supplier_id  TEXT PRIMARY KEY,
    name         TEXT NOT NULL DEFAULT '',
    capacity     DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS supplier_offers (
    offer_id           TEXT PRIMARY KEY,
    supplier_id        TEXT NOT NULL,
    product_id         TEXT NOT NULL,
    unit_price         DOUBLE PRECISION NOT NULL,
    currency           TEXT NOT NULL DEFAULT 'USD',
    moq                DOUBLE PRECISION NOT NULL DEFAULT 0,
    lead_time_periods  DOUBLE PRECISION NOT NULL DEFAULT 0,
    rating             DOUBLE PRECISION NOT NULL DEFAULT 0,
    confidence         DOUBLE PRECISION NOT NULL DEFAULT 0,
    capacity           DOUBLE PRECISION NOT NULL DEFAULT 0,
    captured_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_supplier_offers_product ON supplier_offers (product_id);

CREATE TABLE IF NOT EXISTS cost_parameters (
    product_id        TEXT NOT NULL,
    location_id       TEXT NOT NULL,
    holding_cost      DOUBLE PRECISION NOT NULL,
    setup_cost        DOUBLE PRECISION NOT NULL,
    stockout_penalty  DOUBLE PRECISION NOT NULL,
    service_level     DOUBLE PRECISION NOT NULL,
    PRIMARY KEY (product_id, location_id)
);

CREATE TABLE IF NOT EXISTS inventory_positions (
    product_id   TEXT NOT NULL,
    location_id  TEXT NOT NULL,
    on_hand      DOUBLE PRECISION NOT NULL DEFAULT 0,
    on_order     DOUBLE PRECISION NOT NULL DEFAULT 0,
    backorder    DOUBLE PRECISION NOT NULL DEFAULT 0,
    PRIMARY KEY (product_id, location_id)
);

CREATE TABLE IF NOT EXISTS shipping_quotes (
    supplier_id    TEXT NOT NULL,
    location_id    TEXT NOT NULL,
    cost_per_unit  DOUBLE PRECISION NOT NULL,
    PRIMARY KEY (supplier_id, location_id)
);

CREATE TABLE IF NOT EXISTS snapshots (
    snapshot_id  TEXT PRIMARY KEY,
    captured_at  TIMESTAMPTZ NOT NULL,
    payload      JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS decision_runs (
    run_id             TEXT PRIMARY KEY,
    status             TEXT NOT NULL,
    created_at         TIMESTAMPTZ NOT NULL,
    completed_at       TIMESTAMPTZ,
    config             JSONB NOT NULL,
    snapshot_id        TEXT NOT NULL REFERENCES snapshots (snapshot_id),
    forecast_set_id    TEXT,
    policy_set_id      TEXT,
    allocation_set_id  TEXT,
    summary            JSONB,
    failure_reason     TEXT,
    failure_message    TEXT,
    warnings           JSONB NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_decision_runs_created_at ON decision_runs (created_at DESC);
CREATE INDEX IF NOT EXISTS idx_decision_runs_status ON decision_runs (status);

CREATE TABLE IF NOT EXISTS forecast_sets (
    set_id      TEXT PRIMARY KEY,
    run_id      TEXT NOT NULL REFERENCES decision_runs (run_id),
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS forecast_results (
    set_id            TEXT NOT NULL REFERENCES forecast_sets (set_id),
    product_id        TEXT NOT NULL,
    location_id       TEXT NOT NULL,
    model_name        TEXT NOT NULL,
    quality           TEXT NOT NULL,
    validation_error  DOUBLE PRECISION NOT NULL,
    mape              DOUBLE PRECISION NOT NULL,
    residual_std      DOUBLE PRECISION NOT NULL,
    points            JSONB NOT NULL,
    candidates        JSONB,
    PRIMARY KEY (set_id, product_id, location_id)
);

CREATE TABLE IF NOT EXISTS policy_sets (
    set_id           TEXT PRIMARY KEY,
    run_id           TEXT NOT NULL REFERENCES decision_runs (run_id),
    forecast_set_id  TEXT NOT NULL REFERENCES forecast_sets (set_id),
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS inventory_policies (
    set_id                TEXT NOT NULL REFERENCES policy_sets (set_id),
    product_id            TEXT NOT NULL,
    location_id           TEXT NOT NULL,
    eoq                   DOUBLE PRECISION NOT NULL,
    reorder_point         DOUBLE PRECISION NOT NULL,
    safety_stock          DOUBLE PRECISION NOT NULL,
    avg_demand_per_period DOUBLE PRECISION NOT NULL,
    demand_std_dev        DOUBLE PRECISION NOT NULL,
    service_level         DOUBLE PRECISION NOT NULL,
    lead_time_periods     DOUBLE PRECISION NOT NULL,
    annual_holding_cost   DOUBLE PRECISION NOT NULL,
    annual_ordering_cost  DOUBLE PRECISION NOT NULL,
    orderable             BOOLEAN NOT NULL,
    reason                TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (set_id, product_id, location_id)
);

CREATE TABLE IF NOT EXISTS allocation_sets (
    set_id               TEXT PRIMARY KEY,
    run_id               TEXT NOT NULL REFERENCES decision_runs (run_id),
    policy_set_id        TEXT NOT NULL REFERENCES policy_sets (set_id),
    solver_status        TEXT NOT NULL,
    objective            DOUBLE PRECISION NOT NULL,
    cost_breakdown       JSONB NOT NULL,
    binding_constraints  JSONB NOT NULL DEFAULT '[]',
    solve_time_ns        BIGINT NOT NULL,
    relaxed              BOOLEAN NOT NULL DEFAULT FALSE,
    unallocatable        JSONB NOT NULL DEFAULT '[]',
    shortages            JSONB NOT NULL DEFAULT '[]',
    created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS allocation_decisions (
    set_id                  TEXT NOT NULL REFERENCES allocation_sets (set_id),
    product_id              TEXT NOT NULL,
    supplier_id             TEXT NOT NULL,
    location_id             TEXT NOT NULL,
    offer_id                TEXT NOT NULL,
    quantity                DOUBLE PRECISION NOT NULL,
    unit_cost               DOUBLE PRECISION NOT NULL,
    shipping_cost_per_unit  DOUBLE PRECISION NOT NULL,
    total_cost              DOUBLE PRECISION NOT NULL,
    PRIMARY KEY (set_id, offer_id, location_id)
);
`
