package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/p-blackswan/grimoire/internal/content"
	gerrors "github.com/p-blackswan/grimoire/internal/errors"
	"github.com/p-blackswan/grimoire/internal/period"
)

const rewardFlag = "true"

// refreshDailyLocked brings day-scoped state up to date with the clock.
// When the day changed, today's decrees are loaded from the store or, when
// absent or corrupt, regenerated; regeneration prunes every key left over
// from earlier days.
func (e *Engine) refreshDailyLocked(ctx context.Context) error {
	key := period.DailyKey(e.now())
	if key == e.dayKey && len(e.decrees.Items) > 0 {
		return nil
	}

	candidate := e.decrees
	raw, ok, err := e.store.Get(ctx, decreesKey(key))
	if err != nil {
		return fmt.Errorf("load decrees: %w", err)
	}
	if ok {
		set, derr := content.DecodeSet(raw, key)
		if derr == nil {
			derr = e.validDecrees(set)
		}
		if derr != nil {
			e.logger.Warn().Err(derr).Str("key", decreesKey(key)).Msg("corrupt decrees regenerated")
			e.rec.RecordHydration("decrees", string(StateReset))
		} else {
			candidate = set
		}
	}

	set, regenerated, err := e.gen.RegenerateIfExpired(ctx, &candidate, e.catalog.Decrees, key, e.cfg.DecreeCount, dailyScope(key))
	if err != nil {
		return fmt.Errorf("regenerate decrees: %w", err)
	}
	if regenerated {
		if err := e.persistDecreesLocked(ctx, set); err != nil {
			return err
		}
		e.rec.RecordRegeneration("decrees")
	}
	e.decrees = set
	e.dayKey = key

	flag, ok, err := e.store.Get(ctx, decreeRewardKey(key))
	if err != nil {
		return fmt.Errorf("load decree reward flag: %w", err)
	}
	e.decreesRewarded = ok && flag == rewardFlag

	plays, ok, err := e.store.Get(ctx, playsKey(key))
	if err != nil {
		return fmt.Errorf("load quidditch plays: %w", err)
	}
	e.playsToday = 0
	if ok {
		if n, perr := strconv.Atoi(strings.TrimSpace(plays)); perr == nil && n > 0 {
			e.playsToday = n
		}
	}
	return nil
}

// validDecrees rejects sets whose items do not come from the pool.
func (e *Engine) validDecrees(set content.Set) error {
	seen := make(map[string]bool, len(set.Items))
	for _, it := range set.Items {
		if it.ID == "" || seen[it.ID] {
			return fmt.Errorf("decree id %q is empty or duplicated", it.ID)
		}
		seen[it.ID] = true
	}
	return nil
}

func (e *Engine) persistDecreesLocked(ctx context.Context, set content.Set) error {
	b, err := set.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode decrees: %w", err)
	}
	if err := e.store.Set(ctx, decreesKey(set.PeriodKey), string(b)); err != nil {
		return fmt.Errorf("flush decrees: %w", err)
	}
	e.rec.RecordFlush("decrees")
	return nil
}

func (e *Engine) decreeStateLocked() DecreeState {
	set := content.Set{PeriodKey: e.decrees.PeriodKey, Items: append([]content.Item{}, e.decrees.Items...)}
	return DecreeState{Set: set, Rewarded: e.decreesRewarded}
}

// Decrees returns today's decrees, regenerating them if the day changed.
func (e *Engine) Decrees(ctx context.Context) (DecreeState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.refreshDailyLocked(ctx); err != nil {
		return DecreeState{}, err
	}
	return e.decreeStateLocked(), nil
}

// ToggleDecree flips one decree. Completing all of today's decrees pays the
// daily reward once.
func (e *Engine) ToggleDecree(ctx context.Context, id string) (ToggleResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.refreshDailyLocked(ctx); err != nil {
		return ToggleResult{}, err
	}

	if !e.decrees.Toggle(id) {
		return ToggleResult{}, fmt.Errorf("decree %q: %w", id, gerrors.ErrNotFound)
	}
	if err := e.persistDecreesLocked(ctx, e.decrees); err != nil {
		return ToggleResult{}, err
	}

	res := ToggleResult{}
	if e.decrees.Done() && !e.decreesRewarded {
		if err := e.creditLocked(ctx, e.cfg.DecreeReward); err != nil {
			return ToggleResult{}, err
		}
		if err := e.store.Set(ctx, decreeRewardKey(e.dayKey), rewardFlag); err != nil {
			return ToggleResult{}, fmt.Errorf("flush decree reward flag: %w", err)
		}
		e.decreesRewarded = true
		res.Reward = e.cfg.DecreeReward
		e.logger.Info().Str("day", string(e.dayKey)).Int("reward", res.Reward).Msg("daily decrees completed")
	}
	res.Decrees = e.decreeStateLocked()
	return res, nil
}
