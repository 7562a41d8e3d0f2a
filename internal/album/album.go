// Package album reassembles fetched messages into posts.
package album

import (
	"ChannelMonitor/internal/domain"
)

// ProcessedSet remembers message ids already evaluated, per channel.
// It is owned by the scan loop and is not safe for concurrent use.
type ProcessedSet struct {
	seen map[domain.ChannelID]map[int64]struct{}
}

// NewProcessedSet builds an empty set.
func NewProcessedSet() *ProcessedSet {
	return &ProcessedSet{seen: map[domain.ChannelID]map[int64]struct{}{}}
}

// Contains reports whether id was already consumed for channel.
func (s *ProcessedSet) Contains(channel domain.ChannelID, id int64) bool {
	_, ok := s.seen[channel][id]
	return ok
}

// Add marks id as consumed. It reports false when the id was already present.
func (s *ProcessedSet) Add(channel domain.ChannelID, id int64) bool {
	ids, ok := s.seen[channel]
	if !ok {
		ids = map[int64]struct{}{}
		s.seen[channel] = ids
	}
	if _, dup := ids[id]; dup {
		return false
	}
	ids[id] = struct{}{}
	return true
}

// Len returns how many ids are tracked for channel.
func (s *ProcessedSet) Len(channel domain.ChannelID) int {
	return len(s.seen[channel])
}

// Prune drops ids at or below floor; they can no longer be fetched again.
func (s *ProcessedSet) Prune(channel domain.ChannelID, floor int64) int {
	removed := 0
	for id := range s.seen[channel] {
		if id <= floor {
			delete(s.seen[channel], id)
			removed++
		}
	}
	return removed
}

// Aggregator groups batches into posts and records what it consumed.
type Aggregator struct {
	processed *ProcessedSet
}

// NewAggregator wires the aggregator to a shared processed set.
func NewAggregator(processed *ProcessedSet) *Aggregator {
	if processed == nil {
		processed = NewProcessedSet()
	}
	return &Aggregator{processed: processed}
}

// Processed exposes the set backing the aggregator.
func (a *Aggregator) Processed() *ProcessedSet {
	return a.processed
}

// Group drops already processed messages, then groups the rest by album id
// in ascending id order. Every consumed message is marked as processed before
// Group returns, whether or not its post later matches.
func (a *Aggregator) Group(channel domain.ChannelID, messages []domain.MessageRecord) []domain.Post {
	ordered := make([]domain.MessageRecord, 0, len(messages))
	for _, msg := range messages {
		if a.processed.Contains(channel, msg.ID) {
			continue
		}
		ordered = append(ordered, msg)
	}
	domain.SortAscending(ordered)

	type postKey struct {
		album bool
		id    int64
	}

	var (
		posts []domain.Post
		index = map[postKey]int{}
	)
	for _, msg := range ordered {
		// duplicates inside one batch are consumed once
		if !a.processed.Add(channel, msg.ID) {
			continue
		}

		key := postKey{album: msg.GroupID != 0, id: msg.GroupKey()}
		if i, ok := index[key]; ok {
			posts[i].Messages = append(posts[i].Messages, msg)
			continue
		}
		index[key] = len(posts)
		posts = append(posts, domain.Post{
			Channel:  channel,
			GroupKey: key.id,
			Messages: []domain.MessageRecord{msg},
		})
	}

	return posts
}
