package engine

import (
	"context"
	"fmt"

	gerrors "github.com/p-blackswan/grimoire/internal/errors"
)

// PurchaseResult is returned by Purchase.
type PurchaseResult struct {
	ItemID  string `json:"itemId"`
	Name    string `json:"name"`
	Price   int    `json:"price"`
	Balance int    `json:"balance"`
	Owned   int    `json:"owned"`
	Food    bool   `json:"food"`
}

// Balance returns the reward currency balance.
func (e *Engine) Balance() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rewards.Get()
}

// AddRewards credits n and returns the new balance.
func (e *Engine) AddRewards(ctx context.Context, n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("reward %d must be positive: %w", n, gerrors.ErrInvalidInput)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rewards.Set(e.rewards.Get() + n)
	if err := e.flushLocked(ctx, e.rewards); err != nil {
		return 0, err
	}
	return e.rewards.Get(), nil
}

// SpendRewards debits n. A debit larger than the balance is rejected with
// *gerrors.InsufficientFundsError and nothing changes.
func (e *Engine) SpendRewards(ctx context.Context, n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("spend %d must be positive: %w", n, gerrors.ErrInvalidInput)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.spendLocked(ctx, n); err != nil {
		return e.rewards.Get(), err
	}
	return e.rewards.Get(), nil
}

func (e *Engine) spendLocked(ctx context.Context, n int) error {
	bal := e.rewards.Get()
	if n > bal {
		return &gerrors.InsufficientFundsError{Balance: bal, Cost: n}
	}
	e.rewards.Set(bal - n)
	return e.flushLocked(ctx, e.rewards)
}

func (e *Engine) creditLocked(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	e.rewards.Set(e.rewards.Get() + n)
	return e.flushLocked(ctx, e.rewards)
}

// Purchase buys one collectible or food item. The debit and the inventory
// credit are two independent writes.
func (e *Engine) Purchase(ctx context.Context, itemID string) (PurchaseResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	res := PurchaseResult{ItemID: itemID}
	inventory := e.purchases
	if item, ok := e.catalog.ShopItem(itemID); ok {
		res.Name, res.Price = item.Name, item.Price
	} else if food, ok := e.catalog.Food(itemID); ok {
		res.Name, res.Price, res.Food = food.Name, food.Price, true
		inventory = e.food
	} else {
		return PurchaseResult{}, fmt.Errorf("shop item %q: %w", itemID, gerrors.ErrNotFound)
	}

	if err := e.spendLocked(ctx, res.Price); err != nil {
		return PurchaseResult{}, err
	}
	counts := inventory.Get()
	counts[itemID]++
	if err := e.flushLocked(ctx, inventory); err != nil {
		return PurchaseResult{}, err
	}

	res.Balance = e.rewards.Get()
	res.Owned = counts[itemID]
	e.logger.Info().Str("item", itemID).Int("price", res.Price).Int("balance", res.Balance).Msg("purchase")
	return res, nil
}

// Inventory returns owned collectibles and food.
func (e *Engine) Inventory() (items, food map[string]int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return copyMap(e.purchases.Get()), copyMap(e.food.Get())
}
