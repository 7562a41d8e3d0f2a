package usecase

import (
	"context"
	"errors"
	"time"

	"ChannelMonitor/internal/domain"
)

type fetchCall struct {
	channel domain.ChannelID
	after   int64
	limit   int
}

type forwardCall struct {
	channel domain.ChannelID
	ids     []int64
	target  domain.RecipientRef
}

// fakeRemote serves history pages keyed by the requested floor.
type fakeRemote struct {
	pages       map[int64][]domain.MessageRecord
	fetchErr    error
	fetchPanic  bool
	failTargets map[domain.RecipientRef]error

	fetches  []fetchCall
	forwards []forwardCall
}

func (f *fakeRemote) FetchHistory(_ context.Context, channel domain.ChannelID, after int64, limit int) ([]domain.MessageRecord, error) {
	f.fetches = append(f.fetches, fetchCall{channel, after, limit})
	if f.fetchPanic {
		panic("malformed page")
	}
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	batch := append([]domain.MessageRecord(nil), f.pages[after]...)
	return batch, nil
}

func (f *fakeRemote) Forward(_ context.Context, post domain.Post, target domain.RecipientTarget) error {
	f.forwards = append(f.forwards, forwardCall{post.Channel, post.IDs(), target.Ref})
	if err := f.failTargets[target.Ref]; err != nil {
		return err
	}
	return nil
}

type memoryStore struct {
	saved   map[domain.ChannelID]int64
	saves   int
	loadErr error
	saveErr error
}

func (m *memoryStore) Load(context.Context) (map[domain.ChannelID]int64, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	out := map[domain.ChannelID]int64{}
	for k, v := range m.saved {
		out[k] = v
	}
	return out, nil
}

func (m *memoryStore) Save(_ context.Context, cursors map[domain.ChannelID]int64) error {
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved = map[domain.ChannelID]int64{}
	for k, v := range cursors {
		m.saved[k] = v
	}
	return nil
}

// fakeSleeper records every pause and cancels the run after limit pauses.
type fakeSleeper struct {
	slept  []time.Duration
	limit  int
	cancel context.CancelFunc
	err    error
}

func (s *fakeSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.slept = append(s.slept, d)
	if s.err != nil {
		return s.err
	}
	if s.limit > 0 && len(s.slept) >= s.limit && s.cancel != nil {
		s.cancel()
		return ctx.Err()
	}
	return nil
}

type fakeResolver struct {
	fail map[domain.RecipientRef]bool
}

func (r fakeResolver) ResolveRecipient(_ context.Context, ref domain.RecipientRef) (domain.RecipientTarget, error) {
	if r.fail[ref] {
		return domain.RecipientTarget{}, errors.New("chat not found")
	}
	return domain.RecipientTarget{Ref: ref, ID: int64(len(ref)), Title: string(ref)}, nil
}

func lowerBound(min, max time.Duration) time.Duration { return min }

func standalone(ids ...int64) []domain.MessageRecord {
	out := make([]domain.MessageRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.MessageRecord{ID: id, Text: "message"})
	}
	return out
}

func targets(refs ...domain.RecipientRef) []domain.RecipientTarget {
	out := make([]domain.RecipientTarget, 0, len(refs))
	for _, ref := range refs {
		out = append(out, domain.RecipientTarget{Ref: ref})
	}
	return out
}
