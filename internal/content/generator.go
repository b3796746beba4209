package content

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/grimoire/internal/period"
	"github.com/p-blackswan/grimoire/internal/store"
)

// Item is one entry of a generated set. Pool entries are Items with
// Completed unset.
type Item struct {
	ID        string `yaml:"id" json:"id"`
	Text      string `yaml:"text" json:"text"`
	RealTask  string `yaml:"realTask" json:"realTask,omitempty"`
	Completed bool   `yaml:"-" json:"completed"`
}

// Set is the content generated for one period.
type Set struct {
	PeriodKey period.Key `json:"periodKey"`
	Items     []Item     `json:"items"`
}

// Done reports whether the set is non-empty and every item is completed.
func (s Set) Done() bool {
	if len(s.Items) == 0 {
		return false
	}
	for _, it := range s.Items {
		if !it.Completed {
			return false
		}
	}
	return true
}

// Toggle flips the completion flag of the item with the given id.
func (s *Set) Toggle(id string) bool {
	for i := range s.Items {
		if s.Items[i].ID == id {
			s.Items[i].Completed = !s.Items[i].Completed
			return true
		}
	}
	return false
}

// MarshalJSON writes the bare item list; the period lives in the storage key.
func (s Set) MarshalJSON() ([]byte, error) {
	items := s.Items
	if items == nil {
		items = []Item{}
	}
	return json.Marshal(items)
}

// DecodeSet reads a set persisted under a key for the given period. Both the
// bare item list and the {periodKey, items} object are accepted.
func DecodeSet(raw string, key period.Key) (Set, error) {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "[") {
		var items []Item
		if err := json.Unmarshal([]byte(trimmed), &items); err != nil {
			return Set{}, fmt.Errorf("decode set %s: %w", key, err)
		}
		return Set{PeriodKey: key, Items: items}, nil
	}
	var obj struct {
		PeriodKey period.Key `json:"periodKey"`
		Items     []Item     `json:"items"`
	}
	if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
		return Set{}, fmt.Errorf("decode set %s: %w", key, err)
	}
	if obj.PeriodKey == "" {
		obj.PeriodKey = key
	}
	return Set{PeriodKey: obj.PeriodKey, Items: obj.Items}, nil
}

// Sample returns up to count distinct elements of pool in random order.
func Sample[T any](rng *rand.Rand, pool []T, count int) []T {
	if count <= 0 || len(pool) == 0 {
		return nil
	}
	if count > len(pool) {
		count = len(pool)
	}
	idx := rng.Perm(len(pool))[:count]
	out := make([]T, count)
	for i, j := range idx {
		out[i] = pool[j]
	}
	return out
}

// Scope names the storage keys owned by one generated feature. Keys that
// start with any prefix and are not listed in Keep are stale.
type Scope struct {
	Prefixes []string
	Keep     []string
}

func (sc Scope) stale(key string) bool {
	if slices.Contains(sc.Keep, key) {
		return false
	}
	for _, p := range sc.Prefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

// Generator produces period-scoped sets and prunes old ones.
type Generator struct {
	store  store.Store
	logger zerolog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewGenerator creates a Generator. A nil rng uses a randomly seeded source.
func NewGenerator(s store.Store, rng *rand.Rand, logger zerolog.Logger) *Generator {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Generator{
		store:  s,
		rng:    rng,
		logger: logger.With().Str("component", "content").Logger(),
	}
}

// Generate samples count items from pool for the given period. Completion
// flags are cleared.
func (g *Generator) Generate(pool []Item, key period.Key, count int) Set {
	g.mu.Lock()
	items := Sample(g.rng, pool, count)
	g.mu.Unlock()

	for i := range items {
		items[i].Completed = false
	}
	if items == nil {
		items = []Item{}
	}
	return Set{PeriodKey: key, Items: items}
}

// RegenerateIfExpired returns stored when it belongs to the current period.
// Otherwise it generates a fresh set, removes stale keys in scope and
// reports regenerated=true. Persisting the new set is left to the caller.
func (g *Generator) RegenerateIfExpired(ctx context.Context, stored *Set, pool []Item, current period.Key, count int, scope Scope) (Set, bool, error) {
	if stored != nil && stored.PeriodKey == current && len(stored.Items) > 0 {
		return *stored, false, nil
	}
	if err := ctx.Err(); err != nil {
		return Set{}, false, err
	}

	set := g.Generate(pool, current, count)
	removed, err := g.Prune(ctx, scope)
	if err != nil {
		// The fresh set is still valid; stale keys are retried next period.
		g.logger.Warn().Err(err).Str("period", string(current)).Msg("prune stale content failed")
	}
	g.logger.Info().
		Str("period", string(current)).
		Int("items", len(set.Items)).
		Int("pruned", removed).
		Msg("content regenerated")
	return set, true, nil
}

// Prune removes every stale key in scope and returns how many were removed.
func (g *Generator) Prune(ctx context.Context, scope Scope) (int, error) {
	keys, err := g.store.Keys(ctx)
	if err != nil {
		return 0, fmt.Errorf("list keys: %w", err)
	}
	removed := 0
	for _, k := range keys {
		if !scope.stale(k) {
			continue
		}
		if err := g.store.Remove(ctx, k); err != nil {
			return removed, fmt.Errorf("remove %s: %w", k, err)
		}
		removed++
	}
	return removed, nil
}
