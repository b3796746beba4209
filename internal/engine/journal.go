package engine

import (
	"context"
	"fmt"
	"strings"

	gerrors "github.com/p-blackswan/grimoire/internal/errors"
)

// AddJournalEntry prepends a new entry dated today. An empty mood uses the
// first potion in the catalog.
func (e *Engine) AddJournalEntry(ctx context.Context, text, mood string) (JournalEntry, error) {
	if strings.TrimSpace(text) == "" {
		return JournalEntry{}, fmt.Errorf("journal entry is empty: %w", gerrors.ErrInvalidInput)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if mood == "" && len(e.catalog.Potions) > 0 {
		mood = e.catalog.Potions[0].Name
	}
	if _, ok := e.catalog.Potion(mood); !ok {
		return JournalEntry{}, fmt.Errorf("unknown mood %q: %w", mood, gerrors.ErrInvalidInput)
	}

	entry := JournalEntry{
		ID:      e.nextIDLocked(),
		Date:    e.now().Format(dateLayout),
		Content: text,
		Mood:    mood,
	}
	e.journal.Set(append([]JournalEntry{entry}, e.journal.Get()...))
	if err := e.flushLocked(ctx, e.journal); err != nil {
		return JournalEntry{}, err
	}
	return entry, nil
}

// EditJournalEntry replaces an entry's text.
func (e *Engine) EditJournalEntry(ctx context.Context, id int64, text string) (JournalEntry, error) {
	if strings.TrimSpace(text) == "" {
		return JournalEntry{}, fmt.Errorf("journal entry is empty: %w", gerrors.ErrInvalidInput)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	entries := e.journal.Get()
	for i := range entries {
		if entries[i].ID == id {
			entries[i].Content = text
			if err := e.flushLocked(ctx, e.journal); err != nil {
				return JournalEntry{}, err
			}
			return entries[i], nil
		}
	}
	return JournalEntry{}, fmt.Errorf("journal entry %d: %w", id, gerrors.ErrNotFound)
}

// DeleteJournalEntry removes an entry.
func (e *Engine) DeleteJournalEntry(ctx context.Context, id int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	entries := e.journal.Get()
	for i := range entries {
		if entries[i].ID == id {
			e.journal.Set(append(entries[:i:i], entries[i+1:]...))
			return e.flushLocked(ctx, e.journal)
		}
	}
	return fmt.Errorf("journal entry %d: %w", id, gerrors.ErrNotFound)
}

// Journal returns all entries, newest first.
func (e *Engine) Journal() []JournalEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]JournalEntry{}, e.journal.Get()...)
}

// AddTask prepends a new open task.
func (e *Engine) AddTask(ctx context.Context, text string) (Task, error) {
	if strings.TrimSpace(text) == "" {
		return Task{}, fmt.Errorf("task is empty: %w", gerrors.ErrInvalidInput)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	task := Task{ID: e.nextIDLocked(), Text: text}
	e.tasks.Set(append([]Task{task}, e.tasks.Get()...))
	if err := e.flushLocked(ctx, e.tasks); err != nil {
		return Task{}, err
	}
	return task, nil
}

// ToggleTask flips a task's completion flag.
func (e *Engine) ToggleTask(ctx context.Context, id int64) (Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tasks := e.tasks.Get()
	for i := range tasks {
		if tasks[i].ID == id {
			tasks[i].Completed = !tasks[i].Completed
			if err := e.flushLocked(ctx, e.tasks); err != nil {
				return Task{}, err
			}
			return tasks[i], nil
		}
	}
	return Task{}, fmt.Errorf("task %d: %w", id, gerrors.ErrNotFound)
}

// DeleteTask removes a task.
func (e *Engine) DeleteTask(ctx context.Context, id int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	tasks := e.tasks.Get()
	for i := range tasks {
		if tasks[i].ID == id {
			e.tasks.Set(append(tasks[:i:i], tasks[i+1:]...))
			return e.flushLocked(ctx, e.tasks)
		}
	}
	return fmt.Errorf("task %d: %w", id, gerrors.ErrNotFound)
}

// Tasks returns all tasks, newest first.
func (e *Engine) Tasks() []Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Task{}, e.tasks.Get()...)
}

// RecordMood sets today's potion, replacing any earlier choice for today.
func (e *Engine) RecordMood(ctx context.Context, potion string) (Mood, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.catalog.Potion(potion)
	if !ok {
		return Mood{}, fmt.Errorf("unknown potion %q: %w", potion, gerrors.ErrInvalidInput)
	}
	mood := Mood{Date: e.now().Format(dateLayout), Potion: p.Name, Color: p.Color}

	moods := e.moods.Get()
	replaced := false
	for i := range moods {
		if moods[i].Date == mood.Date {
			moods[i] = mood
			replaced = true
			break
		}
	}
	if !replaced {
		e.moods.Set(append(moods, mood))
	}
	if err := e.flushLocked(ctx, e.moods); err != nil {
		return Mood{}, err
	}
	return mood, nil
}

// Moods returns the mood calendar.
func (e *Engine) Moods() []Mood {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Mood{}, e.moods.Get()...)
}
