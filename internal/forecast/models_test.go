package forecast

import (
	"errors"
	"math"
	"testing"
)

func TestSeasonalModel_RecoversTrendAndSeason(t *testing.T) {
	y := make([]float64, 24)
	for i := range y {
		y[i] = trueLevel(i)
	}

	f, err := seasonalModel{season: 4}.fit(y)
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	for i, v := range f.forecast(8) {
		want := trueLevel(24 + i)
		if math.Abs(v-want) > 1e-6 {
			t.Errorf("step %d: expected %.4f, got %.4f", i, want, v)
		}
	}
}

func TestSeasonalModel_NeedsTwoSeasons(t *testing.T) {
	_, err := seasonalModel{season: 4}.fit([]float64{1, 2, 3, 4, 5, 6, 7})
	if !errors.Is(err, errInsufficientHistory) {
		t.Fatalf("expected insufficient history, got %v", err)
	}
}

func TestETSModel_FollowsLinearTrend(t *testing.T) {
	y := make([]float64, 15)
	for i := range y {
		y[i] = 10 + 3*float64(i)
	}

	f, err := etsModel{}.fit(y)
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	for i, v := range f.forecast(5) {
		want := 10 + 3*float64(15+i)
		if math.Abs(v-want) > 1e-9 {
			t.Errorf("step %d: expected %.2f, got %.4f", i, want, v)
		}
	}
}

func TestARIMAModel_ConvergesToARFixedPoint(t *testing.T) {
	y := make([]float64, 30)
	for i := 1; i < len(y); i++ {
		y[i] = 5 + 0.6*y[i-1]
	}

	f, err := arimaModel{}.fit(y)
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	for i, v := range f.forecast(4) {
		if math.Abs(v-12.5) > 0.01 {
			t.Errorf("step %d: expected ~12.5, got %.4f", i, v)
		}
	}
}

func TestARIMAModel_TooShort(t *testing.T) {
	if _, err := (arimaModel{}).fit([]float64{1, 2, 3}); err == nil {
		t.Fatal("expected error for a three point series")
	}
}

func TestMetrics(t *testing.T) {
	actual := []float64{10, 20, 0, 10}
	pred := []float64{12, 18, 1, 10}

	if got := WAPE(actual, pred); math.Abs(got-5.0/40.0) > 1e-12 {
		t.Errorf("WAPE = %.6f, want %.6f", got, 5.0/40.0)
	}
	// Zero actuals are skipped.
	if got := MAPE(actual, pred); math.Abs(got-(0.2+0.1+0)/3) > 1e-12 {
		t.Errorf("MAPE = %.6f", got)
	}
	if got := WAPE([]float64{0, 0}, []float64{0, 0}); got != 0 {
		t.Errorf("WAPE of perfect zero forecast = %.3f, want 0", got)
	}
}
