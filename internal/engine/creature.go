package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/p-blackswan/grimoire/internal/content"
	gerrors "github.com/p-blackswan/grimoire/internal/errors"
	"github.com/p-blackswan/grimoire/internal/oracle"
)

// Creature action costs and rewards.
const (
	playCost   = 2
	playReward = 2
	chatCost   = 1
	feedReward = 1
)

// AdoptCreature adopts a creature from the catalog at full energy.
func (e *Engine) AdoptCreature(ctx context.Context, id string) (*CreatureState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.catalog.Creature(id); !ok {
		return nil, fmt.Errorf("creature %q: %w", id, gerrors.ErrNotFound)
	}
	if e.creature.Get() != nil {
		return nil, fmt.Errorf("a creature is already adopted: %w", gerrors.ErrInvalidInput)
	}
	c := &CreatureState{ID: id, Energy: MaxEnergy, AdoptedAt: e.now()}
	e.creature.Set(c)
	e.chat = nil
	if err := e.flushLocked(ctx, e.creature); err != nil {
		return nil, err
	}
	cp := *c
	return &cp, nil
}

// ReleaseCreature gives the creature up.
func (e *Engine) ReleaseCreature(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.creature.Get() == nil {
		return gerrors.ErrNoCreature
	}
	e.creature.Set(nil)
	e.chat = nil
	return e.flushLocked(ctx, e.creature)
}

// Creature returns the adopted creature, or nil.
func (e *Engine) Creature() *CreatureState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c := e.creature.Get(); c != nil {
		cp := *c
		return &cp
	}
	return nil
}

// DecayCreature lowers energy by the configured step, never below zero.
func (e *Engine) DecayCreature(ctx context.Context) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.creature.Get()
	if c == nil {
		return 0, gerrors.ErrNoCreature
	}
	c.Energy = clampEnergy(c.Energy - e.cfg.DecayStep)
	if err := e.flushLocked(ctx, e.creature); err != nil {
		return 0, err
	}
	return c.Energy, nil
}

// FeedCreature feeds one item from the food inventory.
func (e *Engine) FeedCreature(ctx context.Context, foodID string) (ChatResult, error) {
	e.mu.Lock()
	c := e.creature.Get()
	if c == nil {
		e.mu.Unlock()
		return ChatResult{}, gerrors.ErrNoCreature
	}
	food, ok := e.catalog.Food(foodID)
	if !ok {
		e.mu.Unlock()
		return ChatResult{}, fmt.Errorf("food %q: %w", foodID, gerrors.ErrNotFound)
	}
	if !food.Eats(c.ID) {
		e.mu.Unlock()
		return ChatResult{}, fmt.Errorf("%s does not eat %s: %w", c.ID, food.Name, gerrors.ErrInvalidInput)
	}
	inv := e.food.Get()
	if inv[foodID] <= 0 {
		e.mu.Unlock()
		return ChatResult{}, fmt.Errorf("no %s in inventory: %w", food.Name, gerrors.ErrNotFound)
	}

	inv[foodID]--
	if inv[foodID] == 0 {
		delete(inv, foodID)
	}
	c.Energy = clampEnergy(c.Energy + food.EnergyBoost)
	c.LastFed = e.now()
	e.rewards.Set(e.rewards.Get() + feedReward)
	err := e.flushLocked(ctx, e.food, e.creature, e.rewards)
	details, _ := e.catalog.Creature(c.ID)
	e.mu.Unlock()
	if err != nil {
		return ChatResult{}, err
	}

	msg := fmt.Sprintf("*%s feeds me some %s.*", e.cfg.UserName, food.Name)
	return e.converse(ctx, details, msg), nil
}

// PlayWithCreature spends energy for a small reward.
func (e *Engine) PlayWithCreature(ctx context.Context) (ChatResult, error) {
	e.mu.Lock()
	c := e.creature.Get()
	if c == nil {
		e.mu.Unlock()
		return ChatResult{}, gerrors.ErrNoCreature
	}
	if c.Energy < playCost {
		e.mu.Unlock()
		return ChatResult{}, fmt.Errorf("energy %d: %w", c.Energy, gerrors.ErrTooTired)
	}
	c.Energy = clampEnergy(c.Energy - playCost)
	c.LastPlayed = e.now()
	e.rewards.Set(e.rewards.Get() + playReward)
	err := e.flushLocked(ctx, e.creature, e.rewards)
	details, _ := e.catalog.Creature(c.ID)
	e.mu.Unlock()
	if err != nil {
		return ChatResult{}, err
	}

	msg := fmt.Sprintf("*%s plays with me.*", e.cfg.UserName)
	return e.converse(ctx, details, msg), nil
}

// ChatWithCreature sends a message. A creature without energy answers with
// a tired reply and nothing is spent.
func (e *Engine) ChatWithCreature(ctx context.Context, message string) (ChatResult, error) {
	if strings.TrimSpace(message) == "" {
		return ChatResult{}, fmt.Errorf("message is empty: %w", gerrors.ErrInvalidInput)
	}

	e.mu.Lock()
	c := e.creature.Get()
	if c == nil {
		e.mu.Unlock()
		return ChatResult{}, gerrors.ErrNoCreature
	}
	details, _ := e.catalog.Creature(c.ID)
	if c.Energy < chatCost {
		reply := fmt.Sprintf("*%s lets out a tired squeak and doesn't respond.*", details.Name)
		e.appendChatLocked(message, reply)
		res := e.chatResultLocked(reply)
		e.mu.Unlock()
		return res, nil
	}
	c.Energy = clampEnergy(c.Energy - chatCost)
	err := e.flushLocked(ctx, e.creature)
	e.mu.Unlock()
	if err != nil {
		return ChatResult{}, err
	}
	return e.converse(ctx, details, message), nil
}

// ChatHistory returns the conversation with the current creature.
func (e *Engine) ChatHistory() []oracle.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]oracle.Message{}, e.chat...)
}

// converse asks the oracle for the pet's reply outside the lock and records
// both turns.
func (e *Engine) converse(ctx context.Context, details content.Creature, message string) ChatResult {
	e.mu.Lock()
	history := append([]oracle.Message{}, e.chat...)
	e.mu.Unlock()

	reply := e.oracle.PetReply(ctx, details, e.cfg.UserName, message, history)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.appendChatLocked(message, reply)
	return e.chatResultLocked(reply)
}

func (e *Engine) appendChatLocked(message, reply string) {
	e.chat = append(e.chat,
		oracle.Message{Role: oracle.RoleUser, Content: message},
		oracle.Message{Role: oracle.RoleModel, Content: reply},
	)
	if over := len(e.chat) - e.cfg.ChatHistory; over > 0 {
		e.chat = append([]oracle.Message{}, e.chat[over:]...)
	}
}

func (e *Engine) chatResultLocked(reply string) ChatResult {
	res := ChatResult{Reply: reply, Balance: e.rewards.Get()}
	if c := e.creature.Get(); c != nil {
		cp := *c
		res.Creature = &cp
	}
	return res
}
