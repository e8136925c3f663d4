package worker

import (
	"context"
	"sync"
	"time"

	"github.com/studiolink/smshub/internal/service/sweep"
	"go.uber.org/zap"
)

// Sweeper is the sweep run the job repeats.
type Sweeper interface {
	Run(ctx context.Context) (sweep.Report, error)
}

// SweepJob runs the follow-up sweep on a ticker. A tick that fires while the
// previous run is still going is skipped.
type SweepJob struct {
	sweeper  Sweeper
	interval time.Duration
	log      *zap.Logger

	mu      sync.Mutex
	running bool
}

func NewSweepJob(s Sweeper, interval time.Duration, log *zap.Logger) *SweepJob {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &SweepJob{sweeper: s, interval: interval, log: log}
}

// Run sweeps once immediately, then every interval until ctx is done.
func (j *SweepJob) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	start := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j.tick(ctx)
		}()
	}

	start()
	for {
		select {
		case <-ticker.C:
			start()
		case <-ctx.Done():
			j.log.Info("sweep job stopping")
			return nil
		}
	}
}

func (j *SweepJob) tick(ctx context.Context) {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		j.log.Info("sweep still running, skipping tick")
		return
	}
	j.running = true
	j.mu.Unlock()

	defer func() {
		j.mu.Lock()
		j.running = false
		j.mu.Unlock()
	}()

	rep, err := j.sweeper.Run(ctx)
	if err != nil {
		j.log.Error("sweep run", zap.Error(err))
		return
	}
	if rep.Message != "" {
		j.log.Info("sweep", zap.String("message", rep.Message))
		return
	}
	counts := map[string]int{}
	for _, r := range rep.Results {
		counts[r.Status]++
	}
	j.log.Info("sweep run",
		zap.Int("items", len(rep.Results)),
		zap.Int("sent", counts[sweep.StatusSent]),
		zap.Int("skipped", counts[sweep.StatusSkipped]),
		zap.Int("failed", counts[sweep.StatusFailed]),
	)
}
