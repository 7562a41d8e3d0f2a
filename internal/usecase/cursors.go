package usecase

import (
	"context"
	"log/slog"
	"sort"

	"ChannelMonitor/internal/domain"
	"ChannelMonitor/internal/ports"
)

// Cursors holds the in-memory high-water marks of every known channel.
// Entries restored from state for channels no longer configured are kept so a
// full overwrite of the state document does not lose them.
type Cursors struct {
	byChannel map[domain.ChannelID]*domain.Cursor
}

// NewCursors starts every channel at zero.
func NewCursors(channels ...domain.ChannelID) *Cursors {
	c := &Cursors{byChannel: map[domain.ChannelID]*domain.Cursor{}}
	for _, ch := range channels {
		c.get(ch)
	}
	return c
}

// LoadCursors restores persisted cursors. A load failure is logged and the
// cursors start at zero; it never stops the monitor.
func LoadCursors(ctx context.Context, store ports.StateStore, channels []domain.ChannelID, logger *slog.Logger) *Cursors {
	cursors := NewCursors(channels...)
	if store == nil {
		return cursors
	}

	saved, err := store.Load(ctx)
	if err != nil {
		logger.Error("state restore failed, starting from zero", "error", err)
		return cursors
	}
	for ch, id := range saved {
		cursors.Advance(ch, id)
	}
	logger.Info("state restored", "channels", len(saved))
	return cursors
}

// LastSeen returns the cursor value for channel.
func (c *Cursors) LastSeen(channel domain.ChannelID) int64 {
	return c.get(channel).LastSeenID
}

// Advance moves the channel cursor forward and reports whether it moved.
func (c *Cursors) Advance(channel domain.ChannelID, id int64) bool {
	return c.get(channel).Advance(id)
}

// Snapshot copies all cursors for persistence.
func (c *Cursors) Snapshot() map[domain.ChannelID]int64 {
	out := make(map[domain.ChannelID]int64, len(c.byChannel))
	for ch, cur := range c.byChannel {
		out[ch] = cur.LastSeenID
	}
	return out
}

// List returns the cursors ordered by channel.
func (c *Cursors) List() []domain.Cursor {
	out := make([]domain.Cursor, 0, len(c.byChannel))
	for _, cur := range c.byChannel {
		out = append(out, *cur)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Channel < out[j].Channel })
	return out
}

func (c *Cursors) get(channel domain.ChannelID) *domain.Cursor {
	cur, ok := c.byChannel[channel]
	if !ok {
		cur = &domain.Cursor{Channel: channel}
		c.byChannel[channel] = cur
	}
	return cur
}
