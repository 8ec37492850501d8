package cronrunner

import (
	"context"

	"github.com/andresuchdata/procureplan/internal/service"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

type Runner struct {
	cron    *cron.Cron
	logger  zerolog.Logger
	baseCtx context.Context
}

func New(logger zerolog.Logger, baseCtx context.Context) *Runner {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Runner{
		cron:    cron.New(cron.WithSeconds()),
		logger:  logger,
		baseCtx: baseCtx,
	}
}

func (r *Runner) Add(spec string, job func(context.Context)) (cron.EntryID, error) {
	return r.cron.AddFunc(spec, func() {
		job(r.baseCtx)
	})
}

func (r *Runner) Start() {
	r.logger.Info().Int("entries", len(r.cron.Entries())).Msg("cron started")
	r.cron.Start()
}

func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.logger.Info().Msg("cron stopped")
}

// RunStarter starts decision runs.
type RunStarter interface {
	StartRun(ctx context.Context, req service.RunRequest) (string, error)
}

// PlanningJob returns a job that starts one decision run per tick with the
// given request. Failures are logged; the next tick tries again.
func PlanningJob(starter RunStarter, req service.RunRequest, logger zerolog.Logger) func(context.Context) {
	req.Trigger = "schedule"
	return func(ctx context.Context) {
		runID, err := starter.StartRun(ctx, req)
		if err != nil {
			logger.Error().Err(err).Msg("scheduled decision run not started")
			return
		}
		logger.Info().Str("run_id", runID).Msg("scheduled decision run started")
	}
}
