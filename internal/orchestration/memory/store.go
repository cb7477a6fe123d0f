// Package memory provides the tiered memory store shared by the orchestrator
// and its workers during a run.
//
// Entries live in exactly one of two bounded tiers. The short-term tier evicts
// the least-recently-accessed entry once over capacity; the long-term tier
// evicts the least-frequently-accessed entry. A separate flat context map holds
// run-scoped values that never expire.
package memory

import (
	"encoding/json"
	"errors"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zjrosen/devteam/internal/log"
)

const (
	// DefaultShortTermCapacity bounds the short-term tier.
	DefaultShortTermCapacity = 100
	// DefaultLongTermCapacity bounds the long-term tier.
	DefaultLongTermCapacity = 1000
	// DefaultPromotionThreshold is the access count at which PromoteToLongTerm moves an entry.
	DefaultPromotionThreshold = 5
	// DefaultRecallLimit is used by Recall when limit <= 0.
	DefaultRecallLimit = 10
	// DefaultSearchLimit is used by Search when limit <= 0.
	DefaultSearchLimit = 5
)

// ErrInvalidKey is returned when an entry is stored without a type or key.
var ErrInvalidKey = errors.New("memory entry requires type and key")

// Tier identifies which pool an entry lives in.
type Tier string

const (
	TierShortTerm Tier = "short_term"
	TierLongTerm  Tier = "long_term"
)

// Entry is a single typed memory record.
type Entry struct {
	ID          string         `json:"id" yaml:"id"`
	Type        string         `json:"type" yaml:"type"`
	Key         string         `json:"key" yaml:"key"`
	Value       any            `json:"value" yaml:"value"`
	CreatedAt   time.Time      `json:"created_at" yaml:"created_at"`
	AccessedAt  time.Time      `json:"accessed_at" yaml:"accessed_at"`
	AccessCount int            `json:"access_count" yaml:"access_count"`
	Metadata    map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	// seq orders entries by first insertion; tick orders them by last access.
	seq  uint64
	tick uint64
}

// FullKey returns the tier-unique key "type:key".
func (e *Entry) FullKey() string {
	return fullKey(e.Type, e.Key)
}

func fullKey(typ, key string) string {
	return typ + ":" + key
}

// StoreOptions configures Store.
type StoreOptions struct {
	// LongTerm places the entry directly in the long-term tier.
	LongTerm bool
	Metadata map[string]any
}

// Config holds tier capacities.
type Config struct {
	ShortTermCapacity int
	LongTermCapacity  int
}

// Stats summarizes store occupancy.
type Stats struct {
	ShortTerm         int
	LongTerm          int
	ContextKeys       int
	ShortTermCapacity int
	LongTermCapacity  int
}

// Store is the tiered memory store. It is safe for concurrent use.
type Store struct {
	mu        sync.Mutex
	shortTerm map[string]*Entry
	longTerm  map[string]*Entry
	context   map[string]any
	cfg       Config
	seq       uint64
	clock     uint64
	now       func() time.Time
}

// New creates a store. Zero capacities use the defaults.
func New(cfg Config) *Store {
	if cfg.ShortTermCapacity <= 0 {
		cfg.ShortTermCapacity = DefaultShortTermCapacity
	}
	if cfg.LongTermCapacity <= 0 {
		cfg.LongTermCapacity = DefaultLongTermCapacity
	}
	return &Store{
		shortTerm: make(map[string]*Entry),
		longTerm:  make(map[string]*Entry),
		context:   make(map[string]any),
		cfg:       cfg,
		now:       time.Now,
	}
}

// Config returns the effective capacities.
func (s *Store) Config() Config {
	return s.cfg
}

// Store inserts value under type:key into the selected tier and prunes that
// tier. Storing an existing key in the same tier replaces it in place.
func (s *Store) Store(typ, key string, value any, opts StoreOptions) (string, error) {
	if typ == "" || key == "" {
		return "", ErrInvalidKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tier, tierName := s.shortTerm, TierShortTerm
	if opts.LongTerm {
		tier, tierName = s.longTerm, TierLongTerm
	}

	now := s.now()
	fk := fullKey(typ, key)
	entry := &Entry{
		ID:         uuid.New().String(),
		Type:       typ,
		Key:        key,
		Value:      value,
		CreatedAt:  now,
		AccessedAt: now,
		Metadata:   maps.Clone(opts.Metadata),
		tick:       s.nextTick(),
	}
	if existing, ok := tier[fk]; ok {
		entry.seq = existing.seq
	} else {
		s.seq++
		entry.seq = s.seq
	}
	tier[fk] = entry

	log.Debug(log.CatMemory, "Stored entry", "key", fk, "tier", tierName)

	if opts.LongTerm {
		s.pruneLongTerm()
	} else {
		s.pruneShortTerm()
	}
	return entry.ID, nil
}

// Retrieve returns the value stored under type:key, checking the short-term
// tier first. A hit updates the entry's access time and count.
func (s *Store) Retrieve(typ, key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, _ := s.lookup(fullKey(typ, key))
	if entry == nil {
		return nil, false
	}
	s.touch(entry)
	return entry.Value, true
}

// Get returns a copy of the entry stored under type:key and the tier holding
// it. Unlike Retrieve it does not update access bookkeeping.
func (s *Store) Get(typ, key string) (*Entry, Tier, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, tier := s.lookup(fullKey(typ, key))
	if entry == nil {
		return nil, "", false
	}
	cp := *entry
	cp.Metadata = maps.Clone(entry.Metadata)
	return &cp, tier, true
}

// Delete removes type:key from whichever tier holds it.
func (s *Store) Delete(typ, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	fk := fullKey(typ, key)
	if _, ok := s.shortTerm[fk]; ok {
		delete(s.shortTerm, fk)
		return true
	}
	if _, ok := s.longTerm[fk]; ok {
		delete(s.longTerm, fk)
		return true
	}
	return false
}

// Recall returns values of the given type from both tiers, most recently
// accessed first. Recall does not count as an access.
func (s *Store) Recall(typ string, limit int) []any {
	if limit <= 0 {
		limit = DefaultRecallLimit
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var matches []*Entry
	for _, tier := range []map[string]*Entry{s.shortTerm, s.longTerm} {
		for _, e := range tier {
			if e.Type == typ {
				matches = append(matches, e)
			}
		}
	}
	slices.SortFunc(matches, func(a, b *Entry) int {
		switch {
		case a.tick > b.tick:
			return -1
		case a.tick < b.tick:
			return 1
		}
		return 0
	})

	if len(matches) > limit {
		matches = matches[:limit]
	}
	out := make([]any, len(matches))
	for i, e := range matches {
		out[i] = e.Value
	}
	return out
}

// Search scores every entry by the fraction of whitespace-separated query
// terms found, case-insensitively, in the entry's JSON-serialized value.
// Entries scoring zero are omitted; ties keep insertion order, short-term
// entries before long-term ones.
func (s *Store) Search(query string, limit int) []any {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	type scored struct {
		entry *Entry
		score float64
	}
	var results []scored
	for _, tier := range []map[string]*Entry{s.shortTerm, s.longTerm} {
		for _, e := range sortedBySeq(tier) {
			text := strings.ToLower(serialize(e.Value))
			hits := 0
			for _, term := range terms {
				if strings.Contains(text, term) {
					hits++
				}
			}
			if hits > 0 {
				results = append(results, scored{entry: e, score: float64(hits) / float64(len(terms))})
			}
		}
	}

	slices.SortStableFunc(results, func(a, b scored) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		}
		return 0
	})

	if len(results) > limit {
		results = results[:limit]
	}
	out := make([]any, len(results))
	for i, r := range results {
		out[i] = r.entry.Value
	}
	return out
}

// SetContext sets a run-scoped value outside the tiers.
func (s *Store) SetContext(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.context[key] = value
}

// GetContext returns a run-scoped value.
func (s *Store) GetContext(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.context[key]
	return v, ok
}

// PromoteToLongTerm moves every short-term entry accessed at least threshold
// times into the long-term tier. Returns the number of entries moved.
//
// When the long-term tier already holds the same type and key, the promoted
// value wins. The merged entry keeps the older entry's id, creation time and
// insertion order, and its access count is the sum of both.
func (s *Store) PromoteToLongTerm(threshold int) int {
	if threshold <= 0 {
		threshold = DefaultPromotionThreshold
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	moved := 0
	for _, e := range sortedBySeq(s.shortTerm) {
		if e.AccessCount < threshold {
			continue
		}
		fk := e.FullKey()
		delete(s.shortTerm, fk)
		if old, ok := s.longTerm[fk]; ok {
			e = mergePromoted(old, e)
		}
		s.longTerm[fk] = e
		moved++
	}
	if moved > 0 {
		log.Debug(log.CatMemory, "Promoted entries", "count", moved, "threshold", threshold)
		s.pruneLongTerm()
	}
	return moved
}

// mergePromoted folds a promoted entry into the long-term entry it replaces.
func mergePromoted(old, promoted *Entry) *Entry {
	merged := *promoted
	merged.AccessCount = old.AccessCount + promoted.AccessCount
	if old.seq < promoted.seq {
		merged.ID = old.ID
		merged.CreatedAt = old.CreatedAt
		merged.seq = old.seq
	}
	merged.tick = max(old.tick, promoted.tick)
	if old.AccessedAt.After(merged.AccessedAt) {
		merged.AccessedAt = old.AccessedAt
	}
	return &merged
}

// ClearAll empties both tiers and the context map.
func (s *Store) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.shortTerm = make(map[string]*Entry)
	s.longTerm = make(map[string]*Entry)
	s.context = make(map[string]any)
}

// Stats returns tier occupancy.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		ShortTerm:         len(s.shortTerm),
		LongTerm:          len(s.longTerm),
		ContextKeys:       len(s.context),
		ShortTermCapacity: s.cfg.ShortTermCapacity,
		LongTermCapacity:  s.cfg.LongTermCapacity,
	}
}

// lookup must be called with s.mu held.
func (s *Store) lookup(fk string) (*Entry, Tier) {
	if e, ok := s.shortTerm[fk]; ok {
		return e, TierShortTerm
	}
	if e, ok := s.longTerm[fk]; ok {
		return e, TierLongTerm
	}
	return nil, ""
}

func (s *Store) touch(e *Entry) {
	e.AccessedAt = s.now()
	e.AccessCount++
	e.tick = s.nextTick()
}

func (s *Store) nextTick() uint64 {
	s.clock++
	return s.clock
}

// pruneShortTerm evicts least-recently-accessed entries above capacity.
func (s *Store) pruneShortTerm() {
	for len(s.shortTerm) > s.cfg.ShortTermCapacity {
		var victim *Entry
		for _, e := range s.shortTerm {
			if victim == nil || e.tick < victim.tick {
				victim = e
			}
		}
		delete(s.shortTerm, victim.FullKey())
		log.Debug(log.CatMemory, "Evicted short-term entry", "key", victim.FullKey())
	}
}

// pruneLongTerm evicts least-frequently-accessed entries above capacity,
// oldest insertion first among equals.
func (s *Store) pruneLongTerm() {
	for len(s.longTerm) > s.cfg.LongTermCapacity {
		var victim *Entry
		for _, e := range s.longTerm {
			if victim == nil ||
				e.AccessCount < victim.AccessCount ||
				(e.AccessCount == victim.AccessCount && e.seq < victim.seq) {
				victim = e
			}
		}
		delete(s.longTerm, victim.FullKey())
		log.Debug(log.CatMemory, "Evicted long-term entry", "key", victim.FullKey(), "access_count", victim.AccessCount)
	}
}

func sortedBySeq(tier map[string]*Entry) []*Entry {
	entries := slices.Collect(maps.Values(tier))
	slices.SortFunc(entries, func(a, b *Entry) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
	return entries
}

// serialize renders v as JSON for search. Strings are matched as-is.
func serialize(v any) string {
	if str, ok := v.(string); ok {
		return str
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
