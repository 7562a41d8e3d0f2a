package ports

import (
	"context"
	"time"

	"ChannelMonitor/internal/domain"
)

// HistorySource pulls channel history from the remote platform.
// FetchHistory returns up to limit messages with id strictly greater than after,
// the ones closest to after first; the order inside the batch is not guaranteed.
// An album is never split: it may push the batch past limit.
type HistorySource interface {
	FetchHistory(ctx context.Context, channel domain.ChannelID, after int64, limit int) ([]domain.MessageRecord, error)
}

// Forwarder relays the messages of a post to a resolved target.
type Forwarder interface {
	Forward(ctx context.Context, post domain.Post, target domain.RecipientTarget) error
}

// RecipientResolver turns configured recipient references into targets.
type RecipientResolver interface {
	ResolveRecipient(ctx context.Context, ref domain.RecipientRef) (domain.RecipientTarget, error)
}

// StateStore persists per-channel cursors. Save overwrites the whole document.
type StateStore interface {
	Load(ctx context.Context) (map[domain.ChannelID]int64, error)
	Save(ctx context.Context, cursors map[domain.ChannelID]int64) error
}

// Sleeper suspends the caller; it returns ctx.Err() when cancelled first.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// Jitter picks a duration in [min, max].
type Jitter func(min, max time.Duration) time.Duration
