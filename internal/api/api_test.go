package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/andresuchdata/procureplan/internal/domain"
	"github.com/andresuchdata/procureplan/internal/pipeline"
	"github.com/andresuchdata/procureplan/internal/repository/memory"
	"github.com/andresuchdata/procureplan/internal/service"
	"github.com/gin-gonic/gin"
)

func newTestRouter(t *testing.T) (*gin.Engine, *pipeline.Scheduler) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	var points []domain.DemandPoint
	for i := 0; i < 20; i++ {
		points = append(points, domain.DemandPoint{Period: i, Quantity: 100})
	}
	reference := memory.NewReferenceData(domain.Snapshot{
		Series: []domain.DemandSeries{{ProductID: "P1", LocationID: "L1", Points: points}},
		Offers: []domain.SupplierOffer{
			{OfferID: "offer-a", SupplierID: "A", ProductID: "P1", UnitPrice: 10, Capacity: 500},
			{OfferID: "offer-b", SupplierID: "B", ProductID: "P1", UnitPrice: 9, Capacity: 1000},
		},
		Costs: []domain.CostParameter{{ProductID: "P1", LocationID: "L1", HoldingCost: 1, SetupCost: 10, StockoutPenalty: 100, ServiceLevel: 0.95}},
	})
	runs := memory.NewRunStore()

	cfg := pipeline.DefaultConfig()
	scheduler := pipeline.NewScheduler(pipeline.NewOrchestrator(runs, cfg, nil), 1)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = scheduler.Shutdown(ctx)
	})

	svc := service.NewDecisionService(runs, reference, scheduler, service.Options{})
	return NewRouter(&Services{DecisionService: svc}, []string{"*"}), scheduler
}

func do(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRunEndpoints(t *testing.T) {
	router, scheduler := newTestRouter(t)

	w := do(router, http.MethodPost, "/api/v1/runs", map[string]any{
		"product_ids":               []string{"P1"},
		"risk_mode":                 "p50",
		"max_suppliers_per_product": 2,
		"horizon_periods":           12,
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("POST /runs = %d: %s", w.Code, w.Body.String())
	}
	var started struct {
		RunID string `json:"run_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &started); err != nil || started.RunID == "" {
		t.Fatalf("bad start response %s", w.Body.String())
	}
	scheduler.Wait()

	w = do(router, http.MethodGet, "/api/v1/runs/"+started.RunID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET run = %d: %s", w.Code, w.Body.String())
	}
	var run domain.DecisionRun
	if err := json.Unmarshal(w.Body.Bytes(), &run); err != nil {
		t.Fatalf("decode run: %v", err)
	}
	if run.Status != domain.RunDone {
		t.Fatalf("status = %s, want done", run.Status)
	}

	for _, path := range []string{"/forecast", "/policy", "/allocation", "/snapshot"} {
		if w := do(router, http.MethodGet, "/api/v1/runs/"+started.RunID+path, nil); w.Code != http.StatusOK {
			t.Errorf("GET %s = %d: %s", path, w.Code, w.Body.String())
		}
	}

	if w := do(router, http.MethodPost, "/api/v1/runs/"+started.RunID+"/cancel", nil); w.Code != http.StatusConflict {
		t.Errorf("cancel finished run = %d, want 409", w.Code)
	}

	w = do(router, http.MethodGet, "/api/v1/runs?limit=5", nil)
	var listed struct {
		Runs []domain.DecisionRun `json:"runs"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &listed); err != nil || len(listed.Runs) != 1 {
		t.Errorf("GET /runs = %d: %s", w.Code, w.Body.String())
	}
}

func TestRunEndpoints_Errors(t *testing.T) {
	router, _ := newTestRouter(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{name: "empty scope", method: http.MethodPost, path: "/api/v1/runs", body: map[string]any{"max_suppliers_per_product": 1, "horizon_periods": 4}, want: http.StatusBadRequest},
		{name: "zero horizon", method: http.MethodPost, path: "/api/v1/runs", body: map[string]any{"all_products": true, "max_suppliers_per_product": 1}, want: http.StatusBadRequest},
		{name: "malformed body", method: http.MethodPost, path: "/api/v1/runs", body: "not-an-object", want: http.StatusBadRequest},
		{name: "unknown run", method: http.MethodGet, path: "/api/v1/runs/nope", want: http.StatusNotFound},
		{name: "unknown run allocation", method: http.MethodGet, path: "/api/v1/runs/nope/allocation", want: http.StatusNotFound},
		{name: "health", method: http.MethodGet, path: "/health", want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(router, tt.method, tt.path, tt.body); w.Code != tt.want {
				t.Errorf("%s %s = %d, want %d: %s", tt.method, tt.path, w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestNormalizeAllowedOrigins(t *testing.T) {
	origins, all := normalizeAllowedOrigins([]string{"https://a.example, https://b.example", " "})
	if all || len(origins) != 2 {
		t.Errorf("got %v all=%v", origins, all)
	}
	if _, all := normalizeAllowedOrigins([]string{"*"}); !all {
		t.Error("wildcard should allow all origins")
	}
}
