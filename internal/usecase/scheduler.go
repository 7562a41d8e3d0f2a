package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ChannelMonitor/internal/domain"
	"ChannelMonitor/internal/ports"
)

// SchedulerDeps wires the sweep loop.
type SchedulerDeps struct {
	Scanner     *ChannelScanner
	Resolver    ports.RecipientResolver
	Recipients  []domain.RecipientRef
	Channels    []ChannelTask
	Sleeper     ports.Sleeper
	Jitter      ports.Jitter
	ChannelGap  Range
	ScanDelay   time.Duration
	SweepJitter Range
	Logger      *slog.Logger
}

// Scheduler walks all channels sequentially, forever, pacing between
// channels and between sweeps. It owns the resolved recipient targets.
type Scheduler struct {
	scanner     *ChannelScanner
	resolver    ports.RecipientResolver
	recipients  []domain.RecipientRef
	channels    []ChannelTask
	sleeper     ports.Sleeper
	jitter      ports.Jitter
	channelGap  Range
	scanDelay   time.Duration
	sweepJitter Range
	logger      *slog.Logger

	targets []domain.RecipientTarget
}

// NewScheduler returns the sweep loop.
func NewScheduler(deps SchedulerDeps) *Scheduler {
	s := &Scheduler{
		scanner:     deps.Scanner,
		resolver:    deps.Resolver,
		recipients:  deps.Recipients,
		channels:    deps.Channels,
		sleeper:     deps.Sleeper,
		jitter:      deps.Jitter,
		channelGap:  deps.ChannelGap,
		scanDelay:   deps.ScanDelay,
		sweepJitter: deps.SweepJitter,
		logger:      deps.Logger,
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	return s
}

// Targets returns the recipients resolved at startup.
func (s *Scheduler) Targets() []domain.RecipientTarget {
	return s.targets
}

// ResolveTargets resolves every configured recipient. Any failure is fatal:
// scanning must not start with an incomplete target list.
func (s *Scheduler) ResolveTargets(ctx context.Context) ([]domain.RecipientTarget, error) {
	if s.resolver == nil {
		return nil, errors.New("recipient resolver is not configured")
	}
	if len(s.recipients) == 0 {
		return nil, errors.New("no recipients configured")
	}

	targets := make([]domain.RecipientTarget, 0, len(s.recipients))
	for _, ref := range s.recipients {
		target, err := s.resolver.ResolveRecipient(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("resolve recipient %s: %w", ref, err)
		}
		s.logger.Info("recipient resolved", "ref", ref, "id", target.ID, "title", target.Title)
		targets = append(targets, target)
	}
	s.targets = targets
	return targets, nil
}

// Run resolves recipients and then sweeps until ctx is cancelled or a scan
// reports a fatal outcome.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.scanner == nil {
		return errors.New("channel scanner is not configured")
	}
	if _, err := s.ResolveTargets(ctx); err != nil {
		return err
	}

	for sweep := 1; ; sweep++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := s.sweep(ctx, sweep); err != nil {
			return err
		}

		delay := s.scanDelay + s.pick(s.sweepJitter)
		s.logger.Info("sweep finished", "sweep", sweep, "next_in", delay)
		if err := s.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (s *Scheduler) sweep(ctx context.Context, sweep int) error {
	for _, task := range s.channels {
		if err := ctx.Err(); err != nil {
			return err
		}

		res := s.scan(ctx, task)
		switch res.Outcome {
		case OutcomeFatal:
			return fmt.Errorf("scan %s: %w", task.Channel, res.Err)
		case OutcomeSkipped:
			s.logger.Error("channel scan abandoned for this sweep",
				"channel", task.Channel, "sweep", sweep, "last_seen", res.LastSeen, "error", res.Err)
		}

		if err := s.sleep(ctx, s.pick(s.channelGap)); err != nil {
			return err
		}
	}
	return nil
}

// scan turns a panic escaping an adapter into a skipped channel.
func (s *Scheduler) scan(ctx context.Context, task ChannelTask) (res ScanResult) {
	defer func() {
		if r := recover(); r != nil {
			res = ScanResult{
				Channel:  task.Channel,
				Outcome:  OutcomeSkipped,
				Err:      fmt.Errorf("scan panicked: %v", r),
				LastSeen: s.scanner.cursors.LastSeen(task.Channel),
			}
		}
	}()
	return s.scanner.Scan(ctx, task, s.targets)
}

func (s *Scheduler) pick(r Range) time.Duration {
	if s.jitter == nil {
		return r.Min
	}
	return s.jitter(r.Min, r.Max)
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) error {
	if s.sleeper == nil || d <= 0 {
		return ctx.Err()
	}
	return s.sleeper.Sleep(ctx, d)
}
