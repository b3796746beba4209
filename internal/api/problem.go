package api

import (
	"errors"
	"math"
	"strconv"

	"github.com/gofiber/fiber/v2"

	gerrors "github.com/p-blackswan/grimoire/internal/errors"
)

// ProblemDetail is an RFC 7807 error body.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// problemResponse returns an RFC 7807 Problem Detail error response.
func problemResponse(c *fiber.Ctx, status int, errType, title, detail string) error {
	return c.Status(status).JSON(ProblemDetail{
		Type:     errType,
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: c.Path(),
	})
}

func badRequest(c *fiber.Ctx, errType, detail string) error {
	return problemResponse(c, fiber.StatusBadRequest, errType, "Bad Request", detail)
}

// engineError maps an engine error onto a problem response. Anything not in
// the taxonomy goes to the error handler as a 500.
func engineError(c *fiber.Ctx, err error) error {
	var cd *gerrors.CooldownError
	switch {
	case errors.As(err, &cd):
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(math.Ceil(cd.Remaining.Seconds()))))
		return problemResponse(c, fiber.StatusConflict, "cooling_down", "Conflict", err.Error())
	case errors.Is(err, gerrors.ErrInsufficientFunds):
		return problemResponse(c, fiber.StatusPaymentRequired, "insufficient_funds", "Payment Required", err.Error())
	case errors.Is(err, gerrors.ErrNoCreature):
		return problemResponse(c, fiber.StatusNotFound, "no_creature", "Not Found", err.Error())
	case errors.Is(err, gerrors.ErrNotFound):
		return problemResponse(c, fiber.StatusNotFound, "not_found", "Not Found", err.Error())
	case errors.Is(err, gerrors.ErrInvalidInput):
		return badRequest(c, "invalid_input", err.Error())
	case errors.Is(err, gerrors.ErrAlreadyClaimed):
		return problemResponse(c, fiber.StatusConflict, "already_claimed", "Conflict", err.Error())
	case errors.Is(err, gerrors.ErrTooTired):
		return problemResponse(c, fiber.StatusConflict, "too_tired", "Conflict", err.Error())
	case errors.Is(err, gerrors.ErrNotSorted):
		return problemResponse(c, fiber.StatusConflict, "not_sorted", "Conflict", err.Error())
	case errors.Is(err, gerrors.ErrUnavailable):
		return problemResponse(c, fiber.StatusServiceUnavailable, "unavailable", "Service Unavailable", err.Error())
	default:
		return err
	}
}
