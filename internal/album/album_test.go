package album

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"ChannelMonitor/internal/domain"
)

const channel = domain.ChannelID("@source")

func TestGroupAlbumInChronologicalOrder(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(nil)
	posts := agg.Group(channel, []domain.MessageRecord{
		{ID: 6, GroupID: 100, Text: "bar"},
		{ID: 5, GroupID: 100, Text: "foo"},
	})

	require.Len(t, posts, 1)
	assert.Equal(t, "foo bar", posts[0].CombinedText())
	assert.Equal(t, []int64{5, 6}, posts[0].IDs())
	assert.Equal(t, int64(100), posts[0].GroupKey)
	assert.Equal(t, channel, posts[0].Channel)
}

func TestGroupStandaloneAndAlbumsMixed(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(nil)
	posts := agg.Group(channel, []domain.MessageRecord{
		{ID: 14, Text: "last"},
		{ID: 13, GroupID: 12, Text: ""},
		{ID: 12, GroupID: 12, Text: "album caption"},
		{ID: 11, Text: "first"},
	})

	require.Len(t, posts, 3)
	assert.Equal(t, "first", posts[0].CombinedText())
	assert.Equal(t, "album caption", posts[1].CombinedText())
	assert.Equal(t, []int64{12, 13}, posts[1].IDs())
	assert.Equal(t, "last", posts[2].CombinedText())
}

func TestGroupSkipsProcessedMessages(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(nil)
	first := agg.Group(channel, []domain.MessageRecord{{ID: 1, Text: "a"}, {ID: 2, Text: "b"}})
	require.Len(t, first, 2)

	second := agg.Group(channel, []domain.MessageRecord{{ID: 2, Text: "b"}, {ID: 3, Text: "c"}})
	require.Len(t, second, 1)
	assert.Equal(t, []int64{3}, second[0].IDs())

	// same ids on another channel are independent
	other := agg.Group("@other", []domain.MessageRecord{{ID: 2, Text: "b"}})
	assert.Len(t, other, 1)
}

func TestGroupDuplicateInsideBatch(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(nil)
	posts := agg.Group(channel, []domain.MessageRecord{{ID: 9, Text: "x"}, {ID: 9, Text: "x"}})
	require.Len(t, posts, 1)
	assert.Len(t, posts[0].Messages, 1)
}

func TestProcessedSetPrune(t *testing.T) {
	t.Parallel()

	set := NewProcessedSet()
	for id := int64(1); id <= 10; id++ {
		set.Add(channel, id)
	}

	assert.Equal(t, 6, set.Prune(channel, 6))
	assert.Equal(t, 4, set.Len(channel))
	assert.False(t, set.Contains(channel, 6))
	assert.True(t, set.Contains(channel, 7))
	assert.Equal(t, 0, set.Prune("@unknown", 100))
}

func TestPropertyEachMessageConsumedOnce(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		agg := NewAggregator(nil)
		ids := rapid.SliceOfN(rapid.Int64Range(1, 50), 1, 40).Draw(rt, "ids")

		seen := map[int64]int{}
		half := len(ids) / 2
		for _, batch := range [][]int64{ids[:half], ids[half:], ids} {
			records := make([]domain.MessageRecord, 0, len(batch))
			for _, id := range batch {
				records = append(records, domain.MessageRecord{ID: id, GroupID: id / 3, Text: "t"})
			}
			for _, post := range agg.Group(channel, records) {
				for _, id := range post.IDs() {
					seen[id]++
				}
			}
		}

		for id, n := range seen {
			if n != 1 {
				rt.Fatalf("id %d evaluated %d times", id, n)
			}
		}
		for _, id := range ids {
			if !agg.Processed().Contains(channel, id) {
				rt.Fatalf("id %d not recorded", id)
			}
		}
	})
}

func TestPropertyPostsAreAscending(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		agg := NewAggregator(nil)
		ids := rapid.SliceOfNDistinct(rapid.Int64Range(1, 1000), 0, 30, func(v int64) int64 { return v }).Draw(rt, "ids")

		records := make([]domain.MessageRecord, 0, len(ids))
		for _, id := range ids {
			records = append(records, domain.MessageRecord{ID: id, GroupID: id / 10})
		}

		total := 0
		for _, post := range agg.Group(channel, records) {
			got := post.IDs()
			total += len(got)
			if !sort.SliceIsSorted(got, func(i, j int) bool { return got[i] < got[j] }) {
				rt.Fatalf("post ids not ascending: %v", got)
			}
			for _, msg := range post.Messages {
				if msg.GroupKey() != post.GroupKey {
					rt.Fatalf("message %d grouped under %d", msg.ID, post.GroupKey)
				}
			}
		}
		if total != len(ids) {
			rt.Fatalf("grouped %d of %d messages", total, len(ids))
		}
	})
}
