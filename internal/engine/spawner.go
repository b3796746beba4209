package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	gerrors "github.com/p-blackswan/grimoire/internal/errors"
)

// spawnAllowedLocked: spawns need a visible client, no open dialog and a
// sorted user.
func (e *Engine) spawnAllowedLocked() bool {
	return e.ready && e.visible && !e.dialogOpen && e.house.Get() != ""
}

// Spawn makes an ephemeral reward visible. Any spawn already showing is
// replaced and its hide timer cancelled.
func (e *Engine) Spawn(_ context.Context) (*Spawn, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.spawnAllowedLocked() {
		return nil, fmt.Errorf("spawn suppressed: %w", gerrors.ErrUnavailable)
	}
	e.cancelHideLocked()

	now := e.now()
	hide := e.randDurationLocked(e.cfg.SpawnHideMin, e.cfg.SpawnHideMax)
	mags := e.cfg.SpawnMagnitudes
	sp := &Spawn{
		ID:        uuid.NewString(),
		Magnitude: mags[e.rng.IntN(len(mags))],
		X:         5 + e.rng.Float64()*85,
		Y:         10 + e.rng.Float64()*70,
		ShownAt:   now,
		HidesAt:   now.Add(hide),
	}
	e.spawn = sp
	gen := e.spawnGen
	e.hideTimer = time.AfterFunc(hide, func() { e.hideSpawn(gen) })

	e.logger.Debug().Str("spawn", sp.ID).Int("magnitude", sp.Magnitude).Dur("hide_in", hide).Msg("reward spawned")
	cp := *sp
	return &cp, nil
}

// CurrentSpawn returns the visible spawn, if any.
func (e *Engine) CurrentSpawn() *Spawn {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.spawn == nil {
		return nil
	}
	cp := *e.spawn
	return &cp
}

// ClaimSpawn credits the spawn's reward, hides it and re-arms the spawn job
// with a fresh delay. The spawn stays claimable if the credit cannot be
// persisted.
func (e *Engine) ClaimSpawn(ctx context.Context, id string) (ClaimResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.spawn == nil {
		return ClaimResult{}, fmt.Errorf("spawn %s: %w", id, gerrors.ErrAlreadyClaimed)
	}
	if e.spawn.ID != id {
		return ClaimResult{}, fmt.Errorf("spawn %s: %w", id, gerrors.ErrNotFound)
	}

	reward := e.spawn.Magnitude
	bal := e.rewards.Get()
	e.rewards.Set(bal + reward)
	if err := e.flushLocked(ctx, e.rewards); err != nil {
		e.rewards.Set(bal)
		return ClaimResult{}, err
	}

	e.cancelHideLocked()
	e.spawn = nil
	e.rearmSpawnLocked()
	return ClaimResult{Reward: reward, Balance: e.rewards.Get(), Fact: e.randomFactLocked()}, nil
}

// SetDialogOpen records whether a modal dialog is open. Opening one hides
// any visible spawn; the spawn job stays armed but its gate stays closed.
func (e *Engine) SetDialogOpen(open bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dialogOpen = open
	if open && e.spawn != nil {
		e.cancelHideLocked()
		e.spawn = nil
	}
}

// cancelHideLocked stops the pending hide and invalidates any hide callback
// already waiting on the lock.
func (e *Engine) cancelHideLocked() {
	if e.hideTimer != nil {
		e.hideTimer.Stop()
		e.hideTimer = nil
	}
	e.spawnGen++
}

func (e *Engine) hideSpawn(gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.spawnGen || e.spawn == nil {
		return
	}
	e.logger.Debug().Str("spawn", e.spawn.ID).Msg("reward expired unclaimed")
	e.spawn = nil
	e.hideTimer = nil
	e.spawnGen++
	e.rearmSpawnLocked()
}

func (e *Engine) rearmSpawnLocked() {
	if !e.ready || !e.visible {
		return
	}
	if err := e.sched.Restart(e.runCtx, JobSpawn); err != nil {
		e.logger.Error().Err(err).Msg("re-arm spawn job")
	}
}
