package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/p-blackswan/grimoire/internal/content"
	gerrors "github.com/p-blackswan/grimoire/internal/errors"
	"github.com/p-blackswan/grimoire/internal/period"
)

func (e *Engine) examGateLocked() period.Cooldown {
	return period.Cooldown{Action: "exam", Until: e.examCooldown.Get()}
}

// StartExam begins a new attempt with a random title and sampled questions.
// It is rejected with *gerrors.CooldownError until the cooldown has passed.
func (e *Engine) StartExam(_ context.Context) (*Exam, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	if err := e.examGateLocked().Check(now); err != nil {
		return nil, err
	}

	picked := content.Sample(e.rng, e.catalog.ExamQuestions, e.cfg.ExamQuestions)
	exam := &Exam{
		ID:        uuid.NewString(),
		Title:     e.catalog.ExamTitles[e.rng.IntN(len(e.catalog.ExamTitles))],
		StartedAt: now,
	}
	for _, q := range picked {
		exam.Questions = append(exam.Questions, ExamQuestion{Question: q.Question, Options: append([]string{}, q.Options...)})
		exam.answers = append(exam.answers, q.CorrectAnswer)
	}
	e.exam = exam

	cp := *exam
	cp.answers = nil
	return &cp, nil
}

// CurrentExam returns the attempt in progress, if any.
func (e *Engine) CurrentExam() *Exam {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.exam == nil {
		return nil
	}
	cp := *e.exam
	cp.answers = nil
	return &cp
}

// SubmitExam grades the attempt. Scoring more than half passes, which pays
// the exam reward and the same number of house points. The cooldown is armed
// on every submission.
func (e *Engine) SubmitExam(ctx context.Context, id string, answers []string) (ExamResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.exam == nil || e.exam.ID != id {
		return ExamResult{}, fmt.Errorf("exam %s: %w", id, gerrors.ErrNotFound)
	}
	if len(answers) != len(e.exam.answers) {
		return ExamResult{}, fmt.Errorf("got %d answers for %d questions: %w", len(answers), len(e.exam.answers), gerrors.ErrInvalidInput)
	}

	res := ExamResult{Total: len(answers)}
	for i, a := range answers {
		if a == e.exam.answers[i] {
			res.Score++
		}
	}
	res.Passed = res.Score*2 > res.Total

	now := e.now()
	gate := e.examGateLocked().Arm(now, e.cfg.ExamCooldown)
	e.examCooldown.Set(gate.Until)
	res.CooldownUntil = gate.Until
	e.exam = nil

	dirty := []Entity{e.examCooldown}
	if res.Passed {
		res.Reward = e.cfg.ExamReward
		e.rewards.Set(e.rewards.Get() + res.Reward)
		dirty = append(dirty, e.rewards)
		if h := e.userHouseLocked(); h != "" {
			e.housePoints.Get()[h] += e.cfg.ExamReward
			res.HousePoints = e.cfg.ExamReward
			dirty = append(dirty, e.housePoints)
		}
	}
	if err := e.flushLocked(ctx, dirty...); err != nil {
		return ExamResult{}, err
	}
	e.logger.Info().Int("score", res.Score).Int("total", res.Total).Bool("passed", res.Passed).Msg("exam submitted")
	return res, nil
}

// ExamCooldown returns when the next exam may start; zero when it already can.
func (e *Engine) ExamCooldown() period.Cooldown {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.examGateLocked()
}

// HousePoints returns points per house.
func (e *Engine) HousePoints() map[content.House]int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return copyMap(e.housePoints.Get())
}
