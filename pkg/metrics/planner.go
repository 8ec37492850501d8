package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Decision runs accepted by StartRun
	RunsStarted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "planner_runs_started_total",
		Help: "Decision runs accepted and scheduled",
	}, []string{"risk_mode", "trigger"})

	// Decision runs that reached a terminal status
	RunsFinished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "planner_runs_finished_total",
		Help: "Decision runs that reached a terminal status",
	}, []string{"status", "reason"})

	// Wall-clock duration of each pipeline stage
	StageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "planner_stage_duration_seconds",
		Help:    "Duration of decision pipeline stages",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})

	// Solver outcomes by status
	SolverOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "planner_solver_outcomes_total",
		Help: "Allocation solver outcomes by status",
	}, []string{"status"})

	// Forecast series by winning model and quality tag
	ForecastModels = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "planner_forecast_models_total",
		Help: "Forecasted series by selected model and quality",
	}, []string{"model", "quality"})
)

var once sync.Once

func Init() {
	once.Do(func() {
		prometheus.MustRegister(
			RunsStarted,
			RunsFinished,
			StageDuration,
			SolverOutcomes,
			ForecastModels,
		)
	})
}
