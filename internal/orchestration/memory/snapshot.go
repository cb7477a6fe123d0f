package memory

import (
	"maps"
	"slices"

	"github.com/zjrosen/devteam/internal/log"
)

// Snapshot is a serializable copy of every entry and context key.
type Snapshot struct {
	ShortTerm []Entry        `json:"short_term" yaml:"short_term"`
	LongTerm  []Entry        `json:"long_term" yaml:"long_term"`
	Context   map[string]any `json:"context" yaml:"context"`
}

// Len returns the number of tier entries in the snapshot.
func (s Snapshot) Len() int {
	return len(s.ShortTerm) + len(s.LongTerm)
}

// Export returns a snapshot of the store. Entries are listed in insertion order.
func (s *Store) Export() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		ShortTerm: copyEntries(sortedBySeq(s.shortTerm)),
		LongTerm:  copyEntries(sortedBySeq(s.longTerm)),
		Context:   maps.Clone(s.context),
	}
}

// Import replaces the whole store state with snap. Recency is rebuilt from
// each entry's AccessedAt, and both tiers are pruned to capacity afterwards.
func (s *Store) Import(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.shortTerm = make(map[string]*Entry, len(snap.ShortTerm))
	s.longTerm = make(map[string]*Entry, len(snap.LongTerm))
	s.context = maps.Clone(snap.Context)
	if s.context == nil {
		s.context = make(map[string]any)
	}

	load := func(dst map[string]*Entry, src []Entry) []*Entry {
		loaded := make([]*Entry, 0, len(src))
		for i := range src {
			e := src[i]
			if e.Type == "" || e.Key == "" {
				continue
			}
			e.Metadata = maps.Clone(e.Metadata)
			s.seq++
			e.seq = s.seq
			dst[e.FullKey()] = &e
			loaded = append(loaded, &e)
		}
		return loaded
	}
	all := append(load(s.shortTerm, snap.ShortTerm), load(s.longTerm, snap.LongTerm)...)

	slices.SortStableFunc(all, func(a, b *Entry) int {
		return a.AccessedAt.Compare(b.AccessedAt)
	})
	for _, e := range all {
		e.tick = s.nextTick()
	}

	s.pruneShortTerm()
	s.pruneLongTerm()

	log.Info(log.CatMemory, "Imported snapshot",
		"short_term", len(s.shortTerm),
		"long_term", len(s.longTerm),
		"context", len(s.context))
}

func copyEntries(entries []*Entry) []Entry {
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[i] = *e
		out[i].Metadata = maps.Clone(e.Metadata)
	}
	return out
}
