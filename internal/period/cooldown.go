package period

import (
	"time"

	gerrors "github.com/p-blackswan/grimoire/internal/errors"
)

// Cooldown is a timestamp gate. The remaining duration is always derived from
// Until and the caller's now, never stored.
type Cooldown struct {
	Action string
	Until  time.Time
}

// Remaining returns how long until the gate opens, or zero when it is open.
func (c Cooldown) Remaining(now time.Time) time.Duration {
	if c.Until.IsZero() || !now.Before(c.Until) {
		return 0
	}
	return c.Until.Sub(now)
}

// Open reports whether the action is available at now.
func (c Cooldown) Open(now time.Time) bool {
	return c.Remaining(now) == 0
}

// Check returns a *gerrors.CooldownError while the gate is closed.
func (c Cooldown) Check(now time.Time) error {
	if rem := c.Remaining(now); rem > 0 {
		return &gerrors.CooldownError{Action: c.Action, Remaining: rem}
	}
	return nil
}

// Arm returns a gate that closes for d starting at now.
func (c Cooldown) Arm(now time.Time, d time.Duration) Cooldown {
	return Cooldown{Action: c.Action, Until: now.Add(d)}
}
