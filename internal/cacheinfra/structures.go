package cacheinfra

import (
	"maps"
	"slices"
	"sort"
	"time"
)

// ZMember is one scored member of a sorted set.
type ZMember struct {
	Member string
	Score  float64
}

// hashEntry and zsetEntry are copy on write: a stored value is never
// mutated, writers replace it through MapOf.Compute.
type hashEntry struct {
	fields   map[string][]byte
	expireAt time.Time
}

type zsetEntry struct {
	scores   map[string]float64
	expireAt time.Time
}

func expired(at, now time.Time) bool {
	return !at.IsZero() && !now.Before(at)
}

func (h *hashEntry) clone() *hashEntry {
	return &hashEntry{fields: maps.Clone(h.fields), expireAt: h.expireAt}
}

func (z *zsetEntry) clone() *zsetEntry {
	return &zsetEntry{scores: maps.Clone(z.scores), expireAt: z.expireAt}
}

// sorted returns the members ordered by score, then member.
func (z *zsetEntry) sorted() []ZMember {
	out := make([]ZMember, 0, len(z.scores))
	for m, s := range z.scores {
		out = append(out, ZMember{Member: m, Score: s})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score < out[j].Score
		}
		return out[i].Member < out[j].Member
	})
	return out
}

// rangeBounds resolves inclusive start and stop indexes, negative values
// counting from the end, to a half open slice range.
func rangeBounds(start, stop, n int) (int, int, bool) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop || start >= n {
		return 0, 0, false
	}
	return start, stop + 1, true
}

func reversed(in []ZMember) []ZMember {
	out := slices.Clone(in)
	slices.Reverse(out)
	return out
}

func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}
