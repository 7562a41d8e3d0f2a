package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ChannelMonitor/internal/album"
	"ChannelMonitor/internal/domain"
	"ChannelMonitor/internal/policy"
	"ChannelMonitor/internal/ports"
)

const (
	// DefaultOverlap is how many already processed ids are fetched again at
	// the start of a scan to tolerate out-of-order delivery on the platform.
	DefaultOverlap      = 5
	DefaultHistoryLimit = 50
)

// Range is a closed jitter interval.
type Range struct {
	Min time.Duration
	Max time.Duration
}

// Remote is the part of the gateway used by the scanner.
type Remote interface {
	ports.HistorySource
	ports.Forwarder
}

// ChannelTask describes one monitored channel and the policy applied to it.
type ChannelTask struct {
	Channel domain.ChannelID
	Policy  *policy.Policy
}

// Outcome tells the scheduler how to continue after a unit of work.
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeSkipped
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "fatal"
	}
}

// ScanResult summarizes one channel scan.
type ScanResult struct {
	Channel   domain.ChannelID
	Outcome   Outcome
	Err       error
	Pages     int
	Fetched   int
	Matched   int
	Forwarded int
	Failed    int
	LastSeen  int64
}

// ForwardReport lists the delivery outcome of one post.
type ForwardReport struct {
	Delivered []domain.RecipientTarget
	Failed    map[domain.RecipientRef]error
}

// ScannerDeps wires the channel scanner.
type ScannerDeps struct {
	Remote       Remote
	Aggregator   *album.Aggregator
	Store        ports.StateStore
	Cursors      *Cursors
	Sleeper      ports.Sleeper
	Jitter       ports.Jitter
	HistoryLimit int
	Overlap      int64
	ForwardDelay Range
	TargetGap    Range
	Logger       *slog.Logger
}

// ChannelScanner runs the incremental scan of one channel:
// fetch, group, match, forward, checkpoint, repeated while pages are full.
type ChannelScanner struct {
	remote       Remote
	aggregator   *album.Aggregator
	store        ports.StateStore
	cursors      *Cursors
	sleeper      ports.Sleeper
	jitter       ports.Jitter
	historyLimit int
	overlap      int64
	forwardDelay Range
	targetGap    Range
	logger       *slog.Logger
}

// NewChannelScanner constructs the scanner, filling unset limits with defaults.
func NewChannelScanner(deps ScannerDeps) *ChannelScanner {
	s := &ChannelScanner{
		remote:       deps.Remote,
		aggregator:   deps.Aggregator,
		store:        deps.Store,
		cursors:      deps.Cursors,
		sleeper:      deps.Sleeper,
		jitter:       deps.Jitter,
		historyLimit: deps.HistoryLimit,
		overlap:      deps.Overlap,
		forwardDelay: deps.ForwardDelay,
		targetGap:    deps.TargetGap,
		logger:       deps.Logger,
	}
	if s.aggregator == nil {
		s.aggregator = album.NewAggregator(nil)
	}
	if s.cursors == nil {
		s.cursors = NewCursors()
	}
	if s.historyLimit <= 0 {
		s.historyLimit = DefaultHistoryLimit
	}
	if s.overlap < 0 {
		s.overlap = 0
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	return s
}

// Scan processes every pending page of task.Channel. Failures are reported in
// the result; the cursor only moves after a batch has been fully handled.
func (s *ChannelScanner) Scan(ctx context.Context, task ChannelTask, targets []domain.RecipientTarget) ScanResult {
	ch := task.Channel
	res := ScanResult{Channel: ch}
	log := s.logger.With("channel", ch)

	if s.remote == nil {
		return s.fail(res, OutcomeFatal, errors.New("remote gateway is not configured"))
	}

	floor := max(1, s.cursors.LastSeen(ch)-s.overlap)
	log.Info("scanning channel", "last_seen", s.cursors.LastSeen(ch), "after", floor)

	for {
		if err := ctx.Err(); err != nil {
			return s.fail(res, OutcomeFatal, err)
		}

		batch, err := s.remote.FetchHistory(ctx, ch, floor, s.historyLimit)
		if err != nil {
			if ctx.Err() != nil {
				return s.fail(res, OutcomeFatal, ctx.Err())
			}
			return s.fail(res, OutcomeSkipped, fmt.Errorf("fetch history after %d: %w", floor, err))
		}
		res.Pages++
		res.Fetched += len(batch)
		log.Debug("page fetched", "after", floor, "count", len(batch))

		if len(batch) == 0 {
			break
		}

		if err := s.processBatch(ctx, task, batch, targets, &res); err != nil {
			return s.fail(res, OutcomeFatal, err)
		}
		s.checkpoint(ctx, ch, domain.MaxID(batch), log)

		if len(batch) < s.historyLimit {
			break
		}

		next := s.cursors.LastSeen(ch)
		if next <= floor {
			log.Warn("page did not advance, stopping pagination", "after", floor)
			break
		}
		floor = next
	}

	res.LastSeen = s.cursors.LastSeen(ch)
	res.Outcome = OutcomeCompleted
	log.Info("channel scanned", "pages", res.Pages, "fetched", res.Fetched,
		"matched", res.Matched, "forwarded", res.Forwarded, "last_seen", res.LastSeen)
	return res
}

func (s *ChannelScanner) processBatch(ctx context.Context, task ChannelTask, batch []domain.MessageRecord, targets []domain.RecipientTarget, res *ScanResult) error {
	for _, post := range s.aggregator.Group(task.Channel, batch) {
		text := post.CombinedText()
		if text == "" || !task.Policy.Matches(text) {
			continue
		}

		res.Matched++
		s.logger.Info("post matched", "channel", task.Channel, "ids", post.IDs())

		if err := s.pause(ctx, s.forwardDelay); err != nil {
			return err
		}

		report, err := s.Forward(ctx, post, targets)
		res.Forwarded += len(report.Delivered)
		res.Failed += len(report.Failed)
		if err != nil {
			return err
		}
	}
	return nil
}

// Forward delivers post to every target. A failing target is recorded and the
// remaining ones are still attempted. Cancellation stops the loop at the next
// backoff or pause; a call already started is finished by the gateway.
func (s *ChannelScanner) Forward(ctx context.Context, post domain.Post, targets []domain.RecipientTarget) (ForwardReport, error) {
	report := ForwardReport{Failed: map[domain.RecipientRef]error{}}

	for i, target := range targets {
		if err := s.remote.Forward(ctx, post, target); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return report, ctxErr
			}
			report.Failed[target.Ref] = err
			s.logger.Error("forward failed", "channel", post.Channel, "ids", post.IDs(), "target", target.String(), "error", err)
		} else {
			report.Delivered = append(report.Delivered, target)
			s.logger.Info("post forwarded", "channel", post.Channel, "ids", post.IDs(), "target", target.String())
		}

		if i < len(targets)-1 {
			if err := s.pause(ctx, s.targetGap); err != nil {
				return report, err
			}
		}
	}
	return report, nil
}

func (s *ChannelScanner) checkpoint(ctx context.Context, ch domain.ChannelID, maxID int64, log *slog.Logger) {
	s.cursors.Advance(ch, maxID)

	if s.store != nil {
		// the state write must not be cut short by shutdown
		if err := s.store.Save(context.WithoutCancel(ctx), s.cursors.Snapshot()); err != nil {
			log.Error("state save failed, continuing with in-memory cursor", "error", err)
		} else {
			log.Debug("state saved", "last_seen", s.cursors.LastSeen(ch))
		}
	}

	floor := max(1, s.cursors.LastSeen(ch)-s.overlap)
	if pruned := s.aggregator.Processed().Prune(ch, floor); pruned > 0 {
		log.Debug("processed ids pruned", "below", floor, "count", pruned)
	}
}

func (s *ChannelScanner) pause(ctx context.Context, r Range) error {
	if s.sleeper == nil || (r.Min <= 0 && r.Max <= 0) {
		return ctx.Err()
	}
	d := r.Min
	if s.jitter != nil {
		d = s.jitter(r.Min, r.Max)
	}
	return s.sleeper.Sleep(ctx, d)
}

func (s *ChannelScanner) fail(res ScanResult, outcome Outcome, err error) ScanResult {
	res.Outcome = outcome
	res.Err = err
	res.LastSeen = s.cursors.LastSeen(res.Channel)
	return res
}
