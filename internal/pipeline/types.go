package pipeline

import (
	"time"

	"github.com/andresuchdata/procureplan/internal/forecast"
	"github.com/andresuchdata/procureplan/internal/inventory"
	"github.com/andresuchdata/procureplan/internal/optimizer"
)

const (
	StageForecast   = "forecast"
	StagePolicy     = "policy"
	StageAllocation = "allocation"
	StageSummary    = "summary"
)

// Config holds everything an orchestrator needs to execute a run.
type Config struct {
	WorkerCount        int           // Concurrent series per fan-out stage
	MaxConcurrentRuns  int64         // Runs executing at once
	SolveTimeout       time.Duration // Wall-clock budget of the allocation solve
	PeriodsPerYear     int
	DefaultLeadTime    float64
	TopRecommendations int
	Forecast           forecast.Config
	Optimizer          optimizer.Config
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		WorkerCount:        4,
		MaxConcurrentRuns:  2,
		SolveTimeout:       5 * time.Second,
		PeriodsPerYear:     inventory.DefaultPeriodsPerYear,
		DefaultLeadTime:    inventory.DefaultLeadTimePeriods,
		TopRecommendations: 10,
		Forecast:           forecast.DefaultConfig(),
		Optimizer:          optimizer.DefaultConfig(),
	}
}
