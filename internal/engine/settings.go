package engine

import (
	"context"
	"fmt"
	"strings"

	gerrors "github.com/p-blackswan/grimoire/internal/errors"
	"github.com/p-blackswan/grimoire/internal/oracle"
)

// AskOwl sends a question by owl post.
func (e *Engine) AskOwl(ctx context.Context, question string) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", fmt.Errorf("question is empty: %w", gerrors.ErrInvalidInput)
	}
	return e.oracle.OwlAnswer(ctx, question), nil
}

// RandomFact returns a wizarding fact.
func (e *Engine) RandomFact() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.randomFactLocked()
}

func (e *Engine) randomFactLocked() string {
	facts := e.catalog.Facts
	if len(facts) == 0 {
		return ""
	}
	return facts[e.rng.IntN(len(facts))]
}

// SetAPIKey stores the generative-text credential. An empty key removes it.
// The oracle reads it from the store on every call.
func (e *Engine) SetAPIKey(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return e.store.Remove(ctx, oracle.CredentialKey)
	}
	return e.store.Set(ctx, oracle.CredentialKey, key)
}

// HasAPIKey reports whether a credential is stored.
func (e *Engine) HasAPIKey(ctx context.Context) (bool, error) {
	v, ok, err := e.store.Get(ctx, oracle.CredentialKey)
	if err != nil {
		return false, err
	}
	return ok && strings.TrimSpace(v) != "", nil
}

// Preferences returns the UI toggles.
func (e *Engine) Preferences() Preferences {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.prefs.Get()
}

// SetPreferences replaces the UI toggles.
func (e *Engine) SetPreferences(ctx context.Context, p Preferences) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prefs.Set(p)
	return e.flushLocked(ctx, e.prefs)
}
