package engine

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/p-blackswan/grimoire/internal/content"
	gerrors "github.com/p-blackswan/grimoire/internal/errors"
	"github.com/p-blackswan/grimoire/internal/period"
	"github.com/p-blackswan/grimoire/internal/scheduler"
)

// matchFee: the first match of the day is cheap, later ones grow linearly.
func (e *Engine) matchFee(plays int) int {
	if plays <= 0 {
		return e.cfg.MatchBaseFee
	}
	return e.cfg.MatchFeeStep * plays
}

// MatchFee returns the price of the next match today.
func (e *Engine) MatchFee(ctx context.Context) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.refreshDailyLocked(ctx); err != nil {
		return 0, err
	}
	return e.matchFee(e.playsToday), nil
}

// PlayMatch charges today's fee, credits score to the user's house and pays
// score coins when it reaches the reward threshold.
func (e *Engine) PlayMatch(ctx context.Context, score int) (MatchResult, error) {
	if score < 0 {
		return MatchResult{}, fmt.Errorf("score %d: %w", score, gerrors.ErrInvalidInput)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	house := e.userHouseLocked()
	if house == "" {
		return MatchResult{}, gerrors.ErrNotSorted
	}
	if err := e.refreshDailyLocked(ctx); err != nil {
		return MatchResult{}, err
	}

	fee := e.matchFee(e.playsToday)
	if err := e.spendLocked(ctx, fee); err != nil {
		return MatchResult{}, err
	}
	e.playsToday++
	if err := e.store.Set(ctx, playsKey(e.dayKey), strconv.Itoa(e.playsToday)); err != nil {
		return MatchResult{}, fmt.Errorf("flush quidditch plays: %w", err)
	}
	e.rec.RecordFlush("quidditch-plays")

	e.quidditchScores.Get()[house] += score
	if err := e.flushLocked(ctx, e.quidditchScores); err != nil {
		return MatchResult{}, err
	}

	res := MatchResult{Fee: fee, Score: score, PlaysToday: e.playsToday}
	if score >= e.cfg.MatchRewardMin {
		res.Reward = score
		if err := e.creditLocked(ctx, score); err != nil {
			return MatchResult{}, err
		}
	}
	res.Balance = e.rewards.Get()
	return res, nil
}

func (e *Engine) standingsLocked() Standings {
	scores := copyMap(e.quidditchScores.Get())
	for _, h := range e.catalog.Houses {
		if _, ok := scores[h]; !ok {
			scores[h] = 0
		}
	}
	now := e.now()
	return Standings{
		Scores:     scores,
		LastWinner: content.House(e.lastWinner.Get()),
		Countdown:  period.Countdown(now),
		PlaysToday: e.playsToday,
		NextFee:    e.matchFee(e.playsToday),
		StartedAt:  e.tournamentStart.Get(),
	}
}

// Standings returns the tournament table.
func (e *Engine) Standings(ctx context.Context) (Standings, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.refreshDailyLocked(ctx); err != nil {
		return Standings{}, err
	}
	return e.standingsLocked(), nil
}

// RollTournament closes the tournament when its window has passed: the
// leading house is recorded as winner and every score is reset. Windows
// start at local midnight.
func (e *Engine) RollTournament(ctx context.Context) (content.House, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rollTournamentLocked(ctx)
}

func (e *Engine) rollTournamentLocked(ctx context.Context) (content.House, bool, error) {
	now := e.now()
	start := e.tournamentStart.Get()
	if start.IsZero() {
		e.tournamentStart.Set(period.StartOfDay(now))
		return "", false, e.flushLocked(ctx, e.tournamentStart)
	}
	if !e.tournamentExpired(start, now) {
		return "", false, nil
	}

	var winner content.House
	best := 0
	scores := e.quidditchScores.Get()
	for _, h := range e.catalog.Houses {
		if scores[h] > best {
			winner, best = h, scores[h]
		}
	}
	dirty := []Entity{e.quidditchScores, e.tournamentStart}
	if winner != "" {
		e.lastWinner.Set(string(winner))
		dirty = append(dirty, e.lastWinner)
	}
	reset := make(map[content.House]int, len(e.catalog.Houses))
	for _, h := range e.catalog.Houses {
		reset[h] = 0
	}
	e.quidditchScores.Set(reset)
	e.tournamentStart.Set(period.StartOfDay(now))
	if err := e.flushLocked(ctx, dirty...); err != nil {
		return "", false, err
	}
	e.rec.RecordRegeneration("quidditch")
	e.logger.Info().Str("winner", string(winner)).Int("score", best).Msg("quidditch tournament closed")
	return winner, true, nil
}

// tournamentExpired uses calendar days for the default daily window so the
// roll lands on local midnight across DST changes. Other lengths are rolling.
func (e *Engine) tournamentExpired(start, now time.Time) bool {
	if e.cfg.TournamentWindow == 24*time.Hour {
		return period.DayExpired(start, now)
	}
	return period.WindowExpired(start, e.cfg.TournamentWindow, now)
}

// CatchUpRivals simulates the other houses' progress while the user was
// away: when more than the rival threshold has passed since the last run,
// every house but the user's gains a random score. The first run only
// records the timestamp.
func (e *Engine) CatchUpRivals(ctx context.Context) (map[content.House]int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.catchUpRivalsLocked(ctx)
}

func (e *Engine) catchUpRivalsLocked(ctx context.Context) (map[content.House]int, error) {
	now := e.now()
	last := e.lastRivalRun.Get()
	if last.IsZero() {
		e.lastRivalRun.Set(now)
		return nil, e.flushLocked(ctx, e.lastRivalRun)
	}
	if !scheduler.CatchUp(last, e.cfg.RivalThreshold, now) {
		return nil, nil
	}

	own := e.userHouseLocked()
	scores := e.quidditchScores.Get()
	gains := make(map[content.House]int, len(e.catalog.Houses))
	for _, h := range e.catalog.Houses {
		if h == own {
			continue
		}
		n := e.cfg.RivalMin + e.rng.IntN(e.cfg.RivalMax-e.cfg.RivalMin+1)
		scores[h] += n
		gains[h] = n
	}
	e.lastRivalRun.Set(now)
	if err := e.flushLocked(ctx, e.quidditchScores, e.lastRivalRun); err != nil {
		return nil, err
	}
	e.logger.Info().Dur("away", now.Sub(last)).Interface("gains", gains).Msg("rival houses caught up")
	return gains, nil
}
