package cronrunner

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/andresuchdata/procureplan/internal/service"
	"github.com/rs/zerolog"
)

type recordingStarter struct {
	mu   sync.Mutex
	reqs []service.RunRequest
	err  error
}

func (s *recordingStarter) StartRun(_ context.Context, req service.RunRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = append(s.reqs, req)
	if s.err != nil {
		return "", s.err
	}
	return "run-1", nil
}

func TestPlanningJob_StartsScheduledRun(t *testing.T) {
	starter := &recordingStarter{}
	job := PlanningJob(starter, service.RunRequest{AllProducts: true, HorizonPeriods: 12, MaxSuppliersPerProduct: 2}, zerolog.Nop())

	job(context.Background())
	starter.err = errors.New("reference data unavailable")
	job(context.Background())

	if len(starter.reqs) != 2 {
		t.Fatalf("expected two start attempts, got %d", len(starter.reqs))
	}
	if starter.reqs[0].Trigger != "schedule" || !starter.reqs[0].AllProducts {
		t.Errorf("unexpected request %+v", starter.reqs[0])
	}
}

func TestRunner_Add(t *testing.T) {
	r := New(zerolog.Nop(), nil)

	if _, err := r.Add("0 0 6 * * MON", func(context.Context) {}); err != nil {
		t.Fatalf("valid spec rejected: %v", err)
	}
	if _, err := r.Add("not a schedule", func(context.Context) {}); err == nil {
		t.Fatal("expected an error for an invalid spec")
	}

	r.Start()
	r.Stop()
}
