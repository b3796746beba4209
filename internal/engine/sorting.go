package engine

import (
	"context"
	"fmt"

	"github.com/p-blackswan/grimoire/internal/content"
	gerrors "github.com/p-blackswan/grimoire/internal/errors"
	"github.com/p-blackswan/grimoire/internal/oracle"
)

// SortingQuiz returns the onboarding questions.
func (e *Engine) SortingQuiz() []content.SortingQuestion {
	return e.catalog.SortingQuiz
}

// House returns the user's house, empty before sorting.
func (e *Engine) House() content.House {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.userHouseLocked()
}

// Sort asks the Sorting Hat for a decision and persists the house.
func (e *Engine) Sort(ctx context.Context, answers []string) (oracle.SortingResult, error) {
	if len(answers) == 0 {
		return oracle.SortingResult{}, fmt.Errorf("no quiz answers: %w", gerrors.ErrInvalidInput)
	}

	res := e.oracle.SortingDecision(ctx, e.cfg.UserName, answers)

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.catalog.IsHouse(string(res.House)) {
		return oracle.SortingResult{}, fmt.Errorf("sorted into unknown house %q: %w", res.House, gerrors.ErrInvalidInput)
	}
	e.house.Set(string(res.House))
	points := e.housePoints.Get()
	if _, ok := points[res.House]; !ok {
		points[res.House] = 0
	}
	if err := e.flushLocked(ctx, e.house, e.housePoints); err != nil {
		return oracle.SortingResult{}, err
	}
	e.logger.Info().Str("house", string(res.House)).Msg("user sorted")
	return res, nil
}

// LeaveHouse forgets the user's house so they can be sorted again.
func (e *Engine) LeaveHouse(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.house.Get() == "" {
		return gerrors.ErrNotSorted
	}
	e.house.Set("")
	e.cancelHideLocked()
	e.spawn = nil
	if err := e.store.Remove(ctx, KeyHouse); err != nil {
		return fmt.Errorf("remove house: %w", err)
	}
	return nil
}
