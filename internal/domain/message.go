package domain

import (
	"net/url"
	"sort"
	"strings"
)

// ChannelID identifies a monitored source channel (e.g. "@durov").
type ChannelID string

// Name normalizes "@name", "name" and "https://t.me/name" to "name".
func (c ChannelID) Name() string {
	name := strings.TrimSpace(string(c))
	if u, err := url.Parse(name); err == nil && u.Host != "" {
		name = u.Path
	}
	name = strings.Trim(name, "/")
	name = strings.TrimPrefix(name, "s/")
	name = strings.TrimPrefix(name, "@")
	if idx := strings.Index(name, "/"); idx >= 0 {
		name = name[:idx]
	}
	return name
}

// Username returns the "@name" form used by the Bot API.
func (c ChannelID) Username() string {
	if name := c.Name(); name != "" {
		return "@" + name
	}
	return ""
}

// MessageRecord is a single transport message fetched from a channel.
type MessageRecord struct {
	ID      int64
	GroupID int64 // zero when the message is not part of an album
	Text    string
}

// GroupKey returns the album id, or the message id for standalone messages.
func (m MessageRecord) GroupKey() int64 {
	if m.GroupID != 0 {
		return m.GroupID
	}
	return m.ID
}

// Post is the logical unit that is matched and forwarded.
// Messages are kept in ascending id order.
type Post struct {
	Channel  ChannelID
	GroupKey int64
	Messages []MessageRecord
}

// IDs lists member message ids in ascending order.
func (p Post) IDs() []int64 {
	ids := make([]int64, len(p.Messages))
	for i, msg := range p.Messages {
		ids[i] = msg.ID
	}
	return ids
}

// CombinedText joins non-empty member texts with a single space.
func (p Post) CombinedText() string {
	parts := make([]string, 0, len(p.Messages))
	for _, msg := range p.Messages {
		if text := strings.TrimSpace(msg.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

// MaxID returns the largest message id of the batch, or 0 for an empty batch.
func MaxID(messages []MessageRecord) int64 {
	var max int64
	for _, msg := range messages {
		if msg.ID > max {
			max = msg.ID
		}
	}
	return max
}

// SortAscending orders messages by id, oldest first.
func SortAscending(messages []MessageRecord) {
	sort.Slice(messages, func(i, j int) bool {
		return messages[i].ID < messages[j].ID
	})
}

// Cursor is the high-water mark of fully processed message ids for a channel.
type Cursor struct {
	Channel    ChannelID
	LastSeenID int64
}

// Advance moves the cursor forward; it never moves backwards.
func (c *Cursor) Advance(id int64) bool {
	if id <= c.LastSeenID {
		return false
	}
	c.LastSeenID = id
	return true
}

// RecipientRef is the configured reference to a destination: "@username" or a numeric chat id.
type RecipientRef string

// RecipientTarget is a destination resolved once at startup.
type RecipientTarget struct {
	Ref   RecipientRef
	ID    int64
	Title string
}

// String renders the target for logs.
func (t RecipientTarget) String() string {
	if t.Title != "" {
		return t.Title
	}
	return string(t.Ref)
}
