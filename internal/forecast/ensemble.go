package forecast

import (
	"fmt"
	"math"

	"github.com/andresuchdata/procureplan/internal/domain"
	"gonum.org/v1/gonum/stat/distuv"
)

// Config controls candidate selection and the prediction interval.
type Config struct {
	MinHistory      int
	HoldoutFraction float64
	MinHoldout      int
	SeasonLength    int
	UpperQuantile   float64
}

func DefaultConfig() Config {
	return Config{
		MinHistory:      8,
		HoldoutFraction: 0.2,
		MinHoldout:      4,
		SeasonLength:    4,
		UpperQuantile:   0.9,
	}
}

// Ensemble fits the candidate families on a training prefix, keeps the one with
// the lowest hold-out WAPE and refits it on the full history.
type Ensemble struct {
	cfg        Config
	candidates []model
	fallback   naiveModel
	z          float64
}

func NewEnsemble(cfg Config) *Ensemble {
	def := DefaultConfig()
	if cfg.MinHistory <= 0 {
		cfg.MinHistory = def.MinHistory
	}
	if cfg.HoldoutFraction <= 0 || cfg.HoldoutFraction >= 1 {
		cfg.HoldoutFraction = def.HoldoutFraction
	}
	if cfg.MinHoldout <= 0 {
		cfg.MinHoldout = def.MinHoldout
	}
	// Validation needs a training prefix at least as long as the hold-out.
	if cfg.MinHistory < 2*cfg.MinHoldout {
		cfg.MinHistory = 2 * cfg.MinHoldout
	}
	if cfg.SeasonLength <= 0 {
		cfg.SeasonLength = def.SeasonLength
	}
	if cfg.UpperQuantile <= 0.5 || cfg.UpperQuantile >= 1 {
		cfg.UpperQuantile = def.UpperQuantile
	}

	return &Ensemble{
		cfg: cfg,
		// Order matters: equal WAPE keeps the earlier candidate.
		candidates: []model{
			seasonalModel{season: cfg.SeasonLength},
			arimaModel{},
			etsModel{},
		},
		fallback: naiveModel{season: cfg.SeasonLength},
		z:        distuv.UnitNormal.Quantile(cfg.UpperQuantile),
	}
}

// minTrain is the shortest training prefix a candidate is fitted on.
const minTrain = 2

func (e *Ensemble) Config() Config { return e.cfg }

// HoldoutSize returns the number of trailing periods used for validation.
func (e *Ensemble) HoldoutSize(n int) int {
	h := int(math.Ceil(e.cfg.HoldoutFraction * float64(n)))
	if h < e.cfg.MinHoldout {
		h = e.cfg.MinHoldout
	}
	return h
}

// Forecast produces the horizon forecast of one series. It only fails on a
// non-positive horizon; every data condition yields a tagged result.
func (e *Ensemble) Forecast(series domain.DemandSeries, horizon int) (domain.ForecastResult, error) {
	if horizon <= 0 {
		return domain.ForecastResult{}, domain.InvalidInputf("horizon must be positive, got %d", horizon)
	}

	result := domain.ForecastResult{
		ProductID:  series.ProductID,
		LocationID: series.LocationID,
	}
	y := series.Values()
	first := series.LastPeriod() + 1

	if isZero(y) {
		result.Model = ModelNone
		result.Quality = domain.ForecastNoDemand
		result.Points = e.points(first, make([]float64, horizon), 0)
		return result, nil
	}

	if len(y) < e.cfg.MinHistory {
		return e.naive(result, y, first, horizon), nil
	}

	holdout := e.HoldoutSize(len(y))
	if len(y)-holdout < minTrain {
		return e.naive(result, y, first, horizon), nil
	}
	train, test := y[:len(y)-holdout], y[len(y)-holdout:]

	var (
		winner     model
		winnerPred []float64
		bestWAPE   = math.Inf(1)
	)
	for _, c := range e.candidates {
		score := domain.CandidateScore{Model: c.name()}
		pred, err := e.validate(c, train, holdout)
		if err != nil {
			score.Error = err.Error()
			result.Candidates = append(result.Candidates, score)
			continue
		}
		score.WAPE = WAPE(test, pred)
		score.MAPE = MAPE(test, pred)
		result.Candidates = append(result.Candidates, score)
		if score.WAPE < bestWAPE {
			bestWAPE = score.WAPE
			winner = c
			winnerPred = pred
		}
	}

	if winner == nil {
		out := e.naive(result, y, first, horizon)
		out.Candidates = result.Candidates
		return out, nil
	}

	f, err := winner.fit(y)
	if err != nil {
		out := e.naive(result, y, first, horizon)
		out.Candidates = append(result.Candidates, domain.CandidateScore{
			Model: winner.name(),
			Error: fmt.Sprintf("refit on full history: %v", err),
		})
		return out, nil
	}
	values := f.forecast(horizon)
	if !allFinite(values) {
		out := e.naive(result, y, first, horizon)
		out.Candidates = result.Candidates
		return out, nil
	}

	result.Model = winner.name()
	result.Quality = domain.ForecastOK
	result.WAPE = bestWAPE
	result.MAPE = MAPE(test, winnerPred)
	result.ResidualStd = residualStd(test, winnerPred)
	result.Points = e.points(first, values, result.ResidualStd)
	return result, nil
}

func (e *Ensemble) validate(c model, train []float64, h int) ([]float64, error) {
	f, err := c.fit(train)
	if err != nil {
		return nil, err
	}
	pred := f.forecast(h)
	if !allFinite(pred) {
		return nil, fmt.Errorf("%s produced non-finite forecast", c.name())
	}
	return pred, nil
}

// naive builds the low-confidence fallback from the full history. Its error
// metrics come from the in-sample one-step naive predictions.
func (e *Ensemble) naive(result domain.ForecastResult, y []float64, first, horizon int) domain.ForecastResult {
	f, _ := e.fallback.fit(y)
	nf := f.(*naiveFit)
	actual, pred := nf.inSample()

	result.Model = ModelNaive
	result.Quality = domain.ForecastLowConfidence
	result.WAPE = WAPE(actual, pred)
	result.MAPE = MAPE(actual, pred)
	result.ResidualStd = residualStd(actual, pred)
	result.Points = e.points(first, nf.forecast(horizon), result.ResidualStd)
	return result
}

func (e *Ensemble) points(first int, values []float64, sd float64) []domain.ForecastPoint {
	out := make([]domain.ForecastPoint, len(values))
	spread := e.z * sd
	for i, v := range values {
		p50 := math.Max(0, v)
		out[i] = domain.ForecastPoint{
			Period: first + i,
			P50:    p50,
			P90:    p50 + spread,
		}
	}
	return out
}

func isZero(y []float64) bool {
	for _, v := range y {
		if v != 0 {
			return false
		}
	}
	return true
}
