package forecast

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/andresuchdata/procureplan/internal/domain"
)

var seasonPattern = []float64{0, 10, 25, 5}

func seriesOf(values []float64) domain.DemandSeries {
	s := domain.DemandSeries{ProductID: "P1", LocationID: "L1"}
	for i, v := range values {
		s.Points = append(s.Points, domain.DemandPoint{Period: i, Quantity: v})
	}
	return s
}

func trendingSeasonal(n int) []float64 {
	out := make([]float64, n)
	for t := range out {
		out[t] = trueLevel(t) + 0.8*math.Sin(1.3*float64(t))
	}
	return out
}

func trueLevel(t int) float64 {
	return 100 + 2*float64(t) + seasonPattern[t%len(seasonPattern)]
}

func TestEnsemble_SeasonalTrendPicksSeasonal(t *testing.T) {
	e := NewEnsemble(DefaultConfig())

	res, err := e.Forecast(seriesOf(trendingSeasonal(52)), 13)
	if err != nil {
		t.Fatalf("Forecast returned error: %v", err)
	}
	if res.Model != ModelSeasonal {
		t.Fatalf("expected seasonal winner, got %s (candidates %+v)", res.Model, res.Candidates)
	}
	if res.Quality != domain.ForecastOK {
		t.Fatalf("expected ok quality, got %s", res.Quality)
	}
	if len(res.Points) != 13 {
		t.Fatalf("expected 13 points, got %d", len(res.Points))
	}

	for i, p := range res.Points {
		if p.Period != 52+i {
			t.Errorf("point %d: expected period %d, got %d", i, 52+i, p.Period)
		}
		if !(p.P90 > p.P50) {
			t.Errorf("point %d: expected p90 > p50, got p50=%.3f p90=%.3f", i, p.P50, p.P90)
		}
		want := trueLevel(52 + i)
		if math.Abs(p.P50-want) > 0.05*want {
			t.Errorf("point %d: p50 %.2f does not track trend %.2f", i, p.P50, want)
		}
	}

	firstSeason := res.Points[0].P50 + res.Points[1].P50 + res.Points[2].P50 + res.Points[3].P50
	lastSeason := res.Points[8].P50 + res.Points[9].P50 + res.Points[10].P50 + res.Points[11].P50
	if lastSeason <= firstSeason {
		t.Errorf("expected upward trend across the horizon, got %.2f then %.2f", firstSeason, lastSeason)
	}
}

func TestEnsemble_Deterministic(t *testing.T) {
	e := NewEnsemble(DefaultConfig())
	s := seriesOf(trendingSeasonal(40))

	a, err := e.Forecast(s, 6)
	if err != nil {
		t.Fatalf("first forecast: %v", err)
	}
	b, err := e.Forecast(s, 6)
	if err != nil {
		t.Fatalf("second forecast: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("forecasts differ between identical calls:\n%+v\n%+v", a, b)
	}
}

func TestEnsemble_ShortHistoryFallsBackToNaive(t *testing.T) {
	e := NewEnsemble(DefaultConfig())

	res, err := e.Forecast(seriesOf([]float64{5, 7, 6, 8, 9}), 3)
	if err != nil {
		t.Fatalf("Forecast returned error: %v", err)
	}
	if res.Model != ModelNaive {
		t.Fatalf("expected naive model, got %s", res.Model)
	}
	if res.Quality != domain.ForecastLowConfidence {
		t.Fatalf("expected low_confidence, got %s", res.Quality)
	}
	// One full season of 4 is available, so the last season repeats.
	want := []float64{7, 6, 8}
	for i, p := range res.Points {
		if p.P50 != want[i] {
			t.Errorf("point %d: expected %.0f, got %.2f", i, want[i], p.P50)
		}
	}
}

func TestEnsemble_SinglePointRepeatsLastValue(t *testing.T) {
	e := NewEnsemble(DefaultConfig())

	res, err := e.Forecast(seriesOf([]float64{12}), 2)
	if err != nil {
		t.Fatalf("Forecast returned error: %v", err)
	}
	if res.Quality != domain.ForecastLowConfidence {
		t.Fatalf("expected low_confidence, got %s", res.Quality)
	}
	for _, p := range res.Points {
		if p.P50 != 12 || p.P90 != 12 {
			t.Errorf("expected flat 12 with no spread, got %+v", p)
		}
	}
}

func TestEnsemble_NoDemand(t *testing.T) {
	e := NewEnsemble(DefaultConfig())

	tests := []struct {
		name   string
		series domain.DemandSeries
	}{
		{"empty", domain.DemandSeries{ProductID: "P1", LocationID: "L1"}},
		{"all zero", seriesOf(make([]float64, 20))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := e.Forecast(tt.series, 4)
			if err != nil {
				t.Fatalf("Forecast returned error: %v", err)
			}
			if res.Quality != domain.ForecastNoDemand {
				t.Fatalf("expected no_demand, got %s", res.Quality)
			}
			if len(res.Points) != 4 {
				t.Fatalf("expected 4 points, got %d", len(res.Points))
			}
			for _, p := range res.Points {
				if p.P50 != 0 || p.P90 != 0 {
					t.Errorf("expected zero forecast, got %+v", p)
				}
			}
		})
	}
}

func TestEnsemble_RejectsNonPositiveHorizon(t *testing.T) {
	e := NewEnsemble(DefaultConfig())

	_, err := e.Forecast(seriesOf(trendingSeasonal(20)), 0)
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestEnsemble_QuantilesOrderedAndNonNegative(t *testing.T) {
	e := NewEnsemble(DefaultConfig())

	inputs := [][]float64{
		trendingSeasonal(30),
		{50, 40, 30, 20, 10, 5, 2, 1, 0, 0, 0, 0},
		{3, 0, 0, 4, 0, 0, 5, 0, 1, 0, 0, 2, 0},
	}
	for i, values := range inputs {
		res, err := e.Forecast(seriesOf(values), 8)
		if err != nil {
			t.Fatalf("input %d: %v", i, err)
		}
		for _, p := range res.Points {
			if p.P50 < 0 {
				t.Errorf("input %d: negative p50 %.3f", i, p.P50)
			}
			if p.P90 < p.P50 {
				t.Errorf("input %d: p90 %.3f below p50 %.3f", i, p.P90, p.P50)
			}
		}
	}
}

func TestEnsemble_HoldoutSize(t *testing.T) {
	e := NewEnsemble(DefaultConfig())

	tests := []struct {
		n, want int
	}{
		{8, 4},
		{20, 4},
		{21, 5},
		{52, 11},
	}
	for _, tt := range tests {
		if got := e.HoldoutSize(tt.n); got != tt.want {
			t.Errorf("HoldoutSize(%d) = %d, want %d", tt.n, got, tt.want)
		}
	}
}

func TestNewEnsemble_MinHistoryCoversHoldout(t *testing.T) {
	e := NewEnsemble(Config{MinHistory: 3, MinHoldout: 4})
	if got := e.Config().MinHistory; got != 8 {
		t.Fatalf("MinHistory = %d, want 8", got)
	}

	res, err := e.Forecast(seriesOf([]float64{5, 6, 7}), 2)
	if err != nil {
		t.Fatalf("Forecast returned error: %v", err)
	}
	if res.Model != ModelNaive {
		t.Errorf("expected naive model, got %s", res.Model)
	}
}

func TestEnsemble_HoldoutLeavingNoTrainingFallsBackToNaive(t *testing.T) {
	e := NewEnsemble(Config{HoldoutFraction: 0.95, MinHoldout: 1, MinHistory: 2})

	y := []float64{10, 12, 11, 13, 12, 14, 13, 15, 14, 16}
	if h := e.HoldoutSize(len(y)); len(y)-h >= 2 {
		t.Fatalf("test setup: holdout %d leaves a training prefix", h)
	}
	res, err := e.Forecast(seriesOf(y), 3)
	if err != nil {
		t.Fatalf("Forecast returned error: %v", err)
	}
	if res.Model != ModelNaive || len(res.Points) != 3 {
		t.Errorf("expected a 3-point naive forecast, got %s with %d points", res.Model, len(res.Points))
	}
}
