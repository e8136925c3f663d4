// Package sweep retries follow-up sentinels that were never confirmed sent.
package sweep

import (
	"context"
	"time"

	"github.com/studiolink/smshub/internal/apperr"
	"github.com/studiolink/smshub/internal/crm"
	"github.com/studiolink/smshub/internal/metrics"
	"github.com/studiolink/smshub/internal/model"
	"github.com/studiolink/smshub/internal/repository"
	"github.com/studiolink/smshub/internal/service/followup"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	StatusSent    = "sent"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

const MessageAlreadyRunning = "sweep already running"

// Locker keeps concurrent sweeps on different instances from overlapping.
type Locker interface {
	TryAcquire(ctx context.Context) (release func(), ok bool, err error)
}

// FollowUps is the guard call the sweep repeats per sentinel.
type FollowUps interface {
	SendFollowUp(ctx context.Context, req followup.Request) error
}

type Result struct {
	ID     string `json:"id"`
	To     string `json:"to"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

type Report struct {
	OK      bool     `json:"ok"`
	Message string   `json:"message,omitempty"`
	Results []Result `json:"results"`
}

type Config struct {
	Window      time.Duration
	Concurrency int
}

type Sweeper struct {
	messages  repository.MessagesRepository
	studios   repository.StudiosRepository
	crm       crm.CRM
	followups FollowUps
	lock      Locker
	window    time.Duration
	limit     int
	log       *zap.Logger
	now       func() time.Time
}

// NewSweeper accepts a nil lock for single-instance runs.
func NewSweeper(
	messages repository.MessagesRepository,
	studios repository.StudiosRepository,
	c crm.CRM,
	followups FollowUps,
	lock Locker,
	cfg Config,
	log *zap.Logger,
) *Sweeper {
	if cfg.Window <= 0 {
		cfg.Window = time.Hour
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	return &Sweeper{
		messages:  messages,
		studios:   studios,
		crm:       c,
		followups: followups,
		lock:      lock,
		window:    cfg.Window,
		limit:     cfg.Concurrency,
		log:       log,
		now:       time.Now,
	}
}

// Run processes every pending follow-up created inside the window. One item
// failing never stops the others; each gets its own result.
func (s *Sweeper) Run(ctx context.Context) (Report, error) {
	if s.lock != nil {
		release, ok, err := s.lock.TryAcquire(ctx)
		if err != nil {
			return Report{}, err
		}
		if !ok {
			return Report{OK: true, Message: MessageAlreadyRunning, Results: []Result{}}, nil
		}
		defer release()
	}

	since := s.now().UTC().Add(-s.window)
	pending, err := s.messages.ListPendingSince(ctx, model.SentinelFollowUp, since)
	if err != nil {
		return Report{}, err
	}

	results := make([]Result, len(pending))
	var g errgroup.Group
	g.SetLimit(s.limit)
	for i, m := range pending {
		g.Go(func() error {
			results[i] = s.process(ctx, m)
			metrics.SweepItemsTotal.WithLabelValues(results[i].Status).Inc()
			return nil
		})
	}
	_ = g.Wait()

	s.log.Info("follow-up sweep finished", zap.Int("items", len(results)), zap.Time("since", since))
	return Report{OK: true, Results: results}, nil
}

func (s *Sweeper) process(ctx context.Context, m model.Message) Result {
	res := Result{ID: m.ID, To: m.ToNumber}
	log := s.log.With(zap.String("message_id", m.ID), zap.String("to", m.ToNumber))

	studio, err := s.studios.GetByPhone(ctx, m.FromNumber)
	if err != nil {
		return s.fail(res, log, err)
	}
	if studio == nil && m.StudioID != nil {
		if studio, err = s.studios.GetByID(ctx, *m.StudioID); err != nil {
			return s.fail(res, log, err)
		}
	}
	if studio == nil {
		res.Status, res.Reason = StatusSkipped, "no studio for "+m.FromNumber
		return res
	}

	contact, err := s.crm.FindByPhone(ctx, studio.ID, m.ToNumber)
	if err != nil {
		return s.fail(res, log, err)
	}
	if contact == nil {
		res.Status, res.Reason = StatusSkipped, "no contact"
		return res
	}

	err = s.followups.SendFollowUp(ctx, followup.Request{Contact: contact, Studio: studio, From: m.FromNumber, To: m.ToNumber})
	switch {
	case err == nil:
		sent, cerr := s.messages.HasConfirmed(ctx, m.ToNumber, model.SentinelFollowUp)
		if cerr == nil && !sent {
			res.Status, res.Reason = StatusSkipped, "contact not eligible"
			return res
		}
		res.Status = StatusSent
	case apperr.Is(err, apperr.KindConflict):
		res.Status, res.Reason = StatusSkipped, err.Error()
	default:
		return s.fail(res, log, err)
	}
	return res
}

func (s *Sweeper) fail(res Result, log *zap.Logger, err error) Result {
	log.Warn("sweep item failed", zap.Error(err))
	res.Status, res.Reason = StatusFailed, err.Error()
	return res
}
