package api

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/grimoire/internal/engine"
	"github.com/p-blackswan/grimoire/internal/health"
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	engine    *engine.Engine
	checker   *health.Checker
	logger    zerolog.Logger
	startTime time.Time
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(eng *engine.Engine, checker *health.Checker, logger zerolog.Logger) *Handlers {
	return &Handlers{
		engine:    eng,
		checker:   checker,
		logger:    logger.With().Str("component", "handlers").Logger(),
		startTime: time.Now(),
	}
}

// parseBody decodes a JSON body into out; an empty body leaves out zero.
func parseBody(c *fiber.Ctx, out any) error {
	if len(c.Body()) == 0 {
		return nil
	}
	return c.BodyParser(out)
}

func invalidBody(c *fiber.Ctx, err error) error {
	return badRequest(c, "invalid_body", "Invalid request body: "+err.Error())
}

func idParam(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("id %q is not a number", c.Params("id"))
	}
	return id, nil
}

// Liveness handles GET /healthz.
func (h *Handlers) Liveness(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "ok",
		"uptime": time.Since(h.startTime).Round(time.Second).String(),
	})
}

// Readiness handles GET /readyz.
func (h *Handlers) Readiness(c *fiber.Ctx) error {
	if h.checker == nil {
		return c.JSON(health.Report{Ready: h.engine.IsReady()})
	}
	report := h.checker.RunAll(c.UserContext())
	if !report.Ready {
		return c.Status(fiber.StatusServiceUnavailable).JSON(report)
	}
	return c.JSON(report)
}

// GetState handles GET /api/v1/state.
func (h *Handlers) GetState(c *fiber.Ctx) error {
	snap, err := h.engine.Snapshot(c.UserContext())
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(snap)
}

// --- Journal, tasks, moods ---

// ListJournal handles GET /api/v1/journal.
func (h *Handlers) ListJournal(c *fiber.Ctx) error {
	return c.JSON(h.engine.Journal())
}

// AddJournalEntry handles POST /api/v1/journal.
func (h *Handlers) AddJournalEntry(c *fiber.Ctx) error {
	var req journalRequest
	if err := parseBody(c, &req); err != nil {
		return invalidBody(c, err)
	}
	entry, err := h.engine.AddJournalEntry(c.UserContext(), req.Content, req.Mood)
	if err != nil {
		return engineError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(entry)
}

// EditJournalEntry handles PATCH /api/v1/journal/:id.
func (h *Handlers) EditJournalEntry(c *fiber.Ctx) error {
	id, err := idParam(c)
	if err != nil {
		return badRequest(c, "invalid_id", err.Error())
	}
	var req journalRequest
	if err := parseBody(c, &req); err != nil {
		return invalidBody(c, err)
	}
	entry, err := h.engine.EditJournalEntry(c.UserContext(), id, req.Content)
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(entry)
}

// DeleteJournalEntry handles DELETE /api/v1/journal/:id.
func (h *Handlers) DeleteJournalEntry(c *fiber.Ctx) error {
	id, err := idParam(c)
	if err != nil {
		return badRequest(c, "invalid_id", err.Error())
	}
	if err := h.engine.DeleteJournalEntry(c.UserContext(), id); err != nil {
		return engineError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ListTasks handles GET /api/v1/tasks.
func (h *Handlers) ListTasks(c *fiber.Ctx) error {
	return c.JSON(h.engine.Tasks())
}

// AddTask handles POST /api/v1/tasks.
func (h *Handlers) AddTask(c *fiber.Ctx) error {
	var req taskRequest
	if err := parseBody(c, &req); err != nil {
		return invalidBody(c, err)
	}
	task, err := h.engine.AddTask(c.UserContext(), req.Text)
	if err != nil {
		return engineError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(task)
}

// ToggleTask handles POST /api/v1/tasks/:id/toggle.
func (h *Handlers) ToggleTask(c *fiber.Ctx) error {
	id, err := idParam(c)
	if err != nil {
		return badRequest(c, "invalid_id", err.Error())
	}
	task, err := h.engine.ToggleTask(c.UserContext(), id)
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(task)
}

// DeleteTask handles DELETE /api/v1/tasks/:id.
func (h *Handlers) DeleteTask(c *fiber.Ctx) error {
	id, err := idParam(c)
	if err != nil {
		return badRequest(c, "invalid_id", err.Error())
	}
	if err := h.engine.DeleteTask(c.UserContext(), id); err != nil {
		return engineError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ListMoods handles GET /api/v1/moods.
func (h *Handlers) ListMoods(c *fiber.Ctx) error {
	return c.JSON(h.engine.Moods())
}

// RecordMood handles POST /api/v1/moods.
func (h *Handlers) RecordMood(c *fiber.Ctx) error {
	var req moodRequest
	if err := parseBody(c, &req); err != nil {
		return invalidBody(c, err)
	}
	mood, err := h.engine.RecordMood(c.UserContext(), req.Potion)
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(mood)
}

// --- Ledger and shop ---

// GetRewards handles GET /api/v1/rewards.
func (h *Handlers) GetRewards(c *fiber.Ctx) error {
	return c.JSON(balanceResponse{Balance: h.engine.Balance()})
}

// GetShop handles GET /api/v1/shop.
func (h *Handlers) GetShop(c *fiber.Ctx) error {
	cat := h.engine.Catalog()
	owned, food := h.engine.Inventory()
	return c.JSON(shopResponse{
		Items:     cat.ShopItems,
		Food:      cat.FoodItems,
		Owned:     owned,
		FoodOwned: food,
		Balance:   h.engine.Balance(),
	})
}

// Purchase handles POST /api/v1/shop/:id/purchase.
func (h *Handlers) Purchase(c *fiber.Ctx) error {
	res, err := h.engine.Purchase(c.UserContext(), c.Params("id"))
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(res)
}

// --- Creature ---

// GetCreature handles GET /api/v1/creature.
func (h *Handlers) GetCreature(c *fiber.Ctx) error {
	cat := h.engine.Catalog()
	resp := creatureResponse{Creature: h.engine.Creature(), Available: cat.Creatures}
	if resp.Creature != nil {
		if d, ok := cat.Creature(resp.Creature.ID); ok {
			resp.Details = &d
		}
	}
	return c.JSON(resp)
}

// AdoptCreature handles POST /api/v1/creature.
func (h *Handlers) AdoptCreature(c *fiber.Ctx) error {
	var req adoptRequest
	if err := parseBody(c, &req); err != nil {
		return invalidBody(c, err)
	}
	if req.ID == "" {
		return badRequest(c, "missing_id", "Creature id is required")
	}
	cr, err := h.engine.AdoptCreature(c.UserContext(), req.ID)
	if err != nil {
		return engineError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(cr)
}

// ReleaseCreature handles DELETE /api/v1/creature.
func (h *Handlers) ReleaseCreature(c *fiber.Ctx) error {
	if err := h.engine.ReleaseCreature(c.UserContext()); err != nil {
		return engineError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// FeedCreature handles POST /api/v1/creature/feed.
func (h *Handlers) FeedCreature(c *fiber.Ctx) error {
	var req feedRequest
	if err := parseBody(c, &req); err != nil {
		return invalidBody(c, err)
	}
	res, err := h.engine.FeedCreature(c.UserContext(), req.Food)
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(res)
}

// PlayWithCreature handles POST /api/v1/creature/play.
func (h *Handlers) PlayWithCreature(c *fiber.Ctx) error {
	res, err := h.engine.PlayWithCreature(c.UserContext())
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(res)
}

// ChatHistory handles GET /api/v1/creature/chat.
func (h *Handlers) ChatHistory(c *fiber.Ctx) error {
	return c.JSON(h.engine.ChatHistory())
}

// ChatWithCreature handles POST /api/v1/creature/chat.
func (h *Handlers) ChatWithCreature(c *fiber.Ctx) error {
	var req chatRequest
	if err := parseBody(c, &req); err != nil {
		return invalidBody(c, err)
	}
	res, err := h.engine.ChatWithCreature(c.UserContext(), req.Message)
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(res)
}

// --- Decrees, exams, Quidditch ---

// GetDecrees handles GET /api/v1/decrees.
func (h *Handlers) GetDecrees(c *fiber.Ctx) error {
	d, err := h.engine.Decrees(c.UserContext())
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(d)
}

// ToggleDecree handles POST /api/v1/decrees/:id/toggle.
func (h *Handlers) ToggleDecree(c *fiber.Ctx) error {
	res, err := h.engine.ToggleDecree(c.UserContext(), c.Params("id"))
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(res)
}

// GetExam handles GET /api/v1/exams.
func (h *Handlers) GetExam(c *fiber.Ctx) error {
	resp := examResponse{Exam: h.engine.CurrentExam()}
	gate := h.engine.ExamCooldown()
	if rem := gate.Remaining(h.engine.Now()); rem > 0 {
		until := gate.Until
		resp.CooldownUntil = &until
		resp.Remaining = rem.Round(time.Second).String()
	}
	return c.JSON(resp)
}

// StartExam handles POST /api/v1/exams.
func (h *Handlers) StartExam(c *fiber.Ctx) error {
	exam, err := h.engine.StartExam(c.UserContext())
	if err != nil {
		return engineError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(exam)
}

// SubmitExam handles POST /api/v1/exams/:id/submit.
func (h *Handlers) SubmitExam(c *fiber.Ctx) error {
	var req submitExamRequest
	if err := parseBody(c, &req); err != nil {
		return invalidBody(c, err)
	}
	res, err := h.engine.SubmitExam(c.UserContext(), c.Params("id"), req.Answers)
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(res)
}

// GetStandings handles GET /api/v1/quidditch.
func (h *Handlers) GetStandings(c *fiber.Ctx) error {
	st, err := h.engine.Standings(c.UserContext())
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(st)
}

// PlayMatch handles POST /api/v1/quidditch/play.
func (h *Handlers) PlayMatch(c *fiber.Ctx) error {
	var req playMatchRequest
	if err := parseBody(c, &req); err != nil {
		return invalidBody(c, err)
	}
	if req.Score == nil {
		return badRequest(c, "missing_score", "Score is required")
	}
	res, err := h.engine.PlayMatch(c.UserContext(), *req.Score)
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(res)
}

// --- Sorting, owl post, facts ---

// GetSortingQuiz handles GET /api/v1/sorting.
func (h *Handlers) GetSortingQuiz(c *fiber.Ctx) error {
	return c.JSON(sortingResponse{House: h.engine.House(), Questions: h.engine.SortingQuiz()})
}

// Sort handles POST /api/v1/sorting.
func (h *Handlers) Sort(c *fiber.Ctx) error {
	var req sortingRequest
	if err := parseBody(c, &req); err != nil {
		return invalidBody(c, err)
	}
	res, err := h.engine.Sort(c.UserContext(), req.Answers)
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(sortingResponse{House: res.House, Reasoning: res.Reasoning})
}

// LeaveHouse handles DELETE /api/v1/sorting.
func (h *Handlers) LeaveHouse(c *fiber.Ctx) error {
	if err := h.engine.LeaveHouse(c.UserContext()); err != nil {
		return engineError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// AskOwl handles POST /api/v1/owl.
func (h *Handlers) AskOwl(c *fiber.Ctx) error {
	var req owlRequest
	if err := parseBody(c, &req); err != nil {
		return invalidBody(c, err)
	}
	answer, err := h.engine.AskOwl(c.UserContext(), req.Question)
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(fiber.Map{"answer": answer})
}

// RandomFact handles GET /api/v1/facts/random.
func (h *Handlers) RandomFact(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"fact": h.engine.RandomFact()})
}

// --- Spawns and client lifecycle ---

// GetSpawn handles GET /api/v1/spawn.
func (h *Handlers) GetSpawn(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"spawn": h.engine.CurrentSpawn()})
}

// ClaimSpawn handles POST /api/v1/spawn/:id/claim.
func (h *Handlers) ClaimSpawn(c *fiber.Ctx) error {
	res, err := h.engine.ClaimSpawn(c.UserContext(), c.Params("id"))
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(res)
}

// SetVisibility handles POST /api/v1/visibility.
func (h *Handlers) SetVisibility(c *fiber.Ctx) error {
	var req visibilityRequest
	if err := parseBody(c, &req); err != nil {
		return invalidBody(c, err)
	}
	if req.Visible == nil {
		return badRequest(c, "missing_visible", "Field visible is required")
	}
	if err := h.engine.SetVisible(c.UserContext(), *req.Visible); err != nil {
		return engineError(c, err)
	}
	return c.JSON(fiber.Map{"visible": *req.Visible})
}

// SetDialog handles POST /api/v1/dialog.
func (h *Handlers) SetDialog(c *fiber.Ctx) error {
	var req dialogRequest
	if err := parseBody(c, &req); err != nil {
		return invalidBody(c, err)
	}
	if req.Open == nil {
		return badRequest(c, "missing_open", "Field open is required")
	}
	h.engine.SetDialogOpen(*req.Open)
	return c.JSON(fiber.Map{"open": *req.Open})
}

// --- Settings ---

// GetSettings handles GET /api/v1/settings.
func (h *Handlers) GetSettings(c *fiber.Ctx) error {
	has, err := h.engine.HasAPIKey(c.UserContext())
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(settingsResponse{Preferences: h.engine.Preferences(), HasAPIKey: has})
}

// PutSettings handles PUT /api/v1/settings. Absent fields are left alone;
// an empty apiKey removes the stored key.
func (h *Handlers) PutSettings(c *fiber.Ctx) error {
	var req settingsRequest
	if err := parseBody(c, &req); err != nil {
		return invalidBody(c, err)
	}
	ctx := c.UserContext()
	if req.Preferences != nil {
		if err := h.engine.SetPreferences(ctx, *req.Preferences); err != nil {
			return engineError(c, err)
		}
	}
	if req.APIKey != nil {
		if err := h.engine.SetAPIKey(ctx, *req.APIKey); err != nil {
			return engineError(c, err)
		}
		h.logger.Info().Bool("cleared", *req.APIKey == "").Msg("oracle api key updated")
	}
	return h.GetSettings(c)
}

// Reset handles POST /api/v1/reset.
func (h *Handlers) Reset(c *fiber.Ctx) error {
	report, err := h.engine.ResetAll(c.UserContext())
	if err != nil {
		return engineError(c, err)
	}
	h.logger.Warn().Str("request_id", fmt.Sprintf("%v", c.Locals("request_id"))).Msg("state reset via api")
	return c.JSON(report)
}
