// Package engine is the persistent periodic state engine. It owns every
// durable entity, hydrates them from the store, regenerates period-scoped
// content when its window has passed and runs the background jobs that
// mutate state between user actions.
//
// All state lives behind one mutex: every operation runs to completion,
// including the write-through flush of the entities it touched, before the
// next one starts. Calls to the oracle happen outside the lock.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/grimoire/internal/content"
	gerrors "github.com/p-blackswan/grimoire/internal/errors"
	"github.com/p-blackswan/grimoire/internal/oracle"
	"github.com/p-blackswan/grimoire/internal/period"
	"github.com/p-blackswan/grimoire/internal/scheduler"
	"github.com/p-blackswan/grimoire/internal/store"
)

// Durable store keys shared with the browser client.
const (
	KeyHouse            = "hogwartsHouse"
	KeyJournal          = "journalEntries"
	KeyTasks            = "remembrallTasks"
	KeyMoods            = "potionMoods"
	KeyRewards          = "wizardRewards"
	KeyPurchases        = "purchasedItems"
	KeyFood             = "foodInventory"
	KeyCreature         = "creatureState"
	KeyHousePoints      = "housePoints"
	KeyQuidditchScores  = "quidditchScores"
	KeyQuidditchWinner  = "quidditchLastWinner"
	KeyTournamentStart  = "quidditchTournamentStart"
	KeyLastRivalRun     = "quidditchLastRivalRun"
	KeyExamCooldown     = "examCooldownUntil"
	KeyPreferences      = "preferences"
	prefixDecrees       = "decrees-"
	prefixDecreeReward  = "decrees-reward-"
	prefixQuidditchPlay = "quidditch-plays-"
)

// Background job names.
const (
	JobDecay      = "creature-decay"
	JobSpawn      = "reward-spawn"
	JobTournament = "tournament-countdown"
)

func decreesKey(k period.Key) string      { return prefixDecrees + string(k) }
func decreeRewardKey(k period.Key) string { return prefixDecreeReward + string(k) }
func playsKey(k period.Key) string        { return prefixQuidditchPlay + string(k) }

// dailyScope covers every key that belongs to one calendar day.
func dailyScope(k period.Key) content.Scope {
	return content.Scope{
		Prefixes: []string{prefixDecrees, prefixQuidditchPlay},
		Keep:     []string{decreesKey(k), decreeRewardKey(k), playsKey(k)},
	}
}

// Oracle answers the engine's generative questions. *oracle.Oracle
// satisfies it and never fails; a fallback is returned instead.
type Oracle interface {
	SortingDecision(ctx context.Context, userName string, answers []string) oracle.SortingResult
	OwlAnswer(ctx context.Context, question string) string
	PetReply(ctx context.Context, c content.Creature, userName, message string, history []oracle.Message) string
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the system clock.
func WithClock(c period.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithRand seeds every random choice the engine makes.
func WithRand(r *rand.Rand) Option {
	return func(e *Engine) { e.rng = r }
}

func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.rec = r }
}

func WithCatalog(c *content.Catalog) Option {
	return func(e *Engine) { e.catalog = c }
}

// WithJobHook is called after every background job fire.
func WithJobHook(fn func(job string)) Option {
	return func(e *Engine) { e.jobHook = fn }
}

// Engine is the single owner of the user's durable state.
type Engine struct {
	cfg     Config
	store   store.Store
	oracle  Oracle
	clock   period.Clock
	catalog *content.Catalog
	gen     *content.Generator
	sched   *scheduler.Scheduler
	rec     Recorder
	jobHook func(string)
	logger  zerolog.Logger

	mu     sync.Mutex
	rng    *rand.Rand
	runCtx context.Context
	ready  bool
	report HydrationReport

	registry        *Registry
	house           *Value[string]
	journal         *Value[[]JournalEntry]
	tasks           *Value[[]Task]
	moods           *Value[[]Mood]
	rewards         *Value[int]
	purchases       *Value[map[string]int]
	food            *Value[map[string]int]
	creature        *Value[*CreatureState]
	housePoints     *Value[map[content.House]int]
	quidditchScores *Value[map[content.House]int]
	lastWinner      *Value[string]
	tournamentStart *Value[time.Time]
	lastRivalRun    *Value[time.Time]
	examCooldown    *Value[time.Time]
	prefs           *Value[Preferences]

	// Day-scoped state, reloaded when the daily key changes.
	dayKey          period.Key
	decrees         content.Set
	decreesRewarded bool
	playsToday      int

	lastID     int64
	exam       *Exam
	chat       []oracle.Message
	spawn      *Spawn
	spawnGen   uint64
	hideTimer  *time.Timer
	visible    bool
	dialogOpen bool
}

// New creates an Engine over s. Nothing is read until Ready.
func New(s store.Store, orc Oracle, cfg Config, logger zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		cfg:    cfg.withDefaults(),
		store:  s,
		oracle: orc,
		clock:  period.SystemClock{},
		rec:    nopRecorder{},
		logger: logger.With().Str("component", "engine").Logger(),
		runCtx: context.Background(),
	}
	for _, o := range opts {
		o(e)
	}
	if e.catalog == nil {
		e.catalog = content.Default()
	}
	if e.rng == nil {
		e.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	e.gen = content.NewGenerator(s, rand.New(rand.NewPCG(e.rng.Uint64(), e.rng.Uint64())), logger)
	e.sched = scheduler.New(logger, scheduler.WithFireHook(func(job string) {
		if e.jobHook != nil {
			e.jobHook(job)
		}
	}))
	e.registerEntities()
	e.registerJobs()
	return e
}

func (e *Engine) registerEntities() {
	houses := e.catalog.Houses
	zeroScores := func() map[content.House]int {
		m := make(map[content.House]int, len(houses))
		for _, h := range houses {
			m[h] = 0
		}
		return m
	}
	houseOrEmpty := func(s string) bool { return s == "" || e.catalog.IsHouse(s) }
	knownHouses := func(m map[content.House]int) error {
		if err := countMap(m); err != nil {
			return err
		}
		for h := range m {
			if !e.catalog.IsHouse(string(h)) {
				return fmt.Errorf("unknown house %q", h)
			}
		}
		return nil
	}

	e.house = StringEntity("house", KeyHouse, houseOrEmpty)
	e.journal = JSONEntity("journal", KeyJournal, func() []JournalEntry { return []JournalEntry{} }, nonNilSlice[JournalEntry])
	e.tasks = JSONEntity("tasks", KeyTasks, func() []Task { return []Task{} }, nonNilSlice[Task])
	e.moods = JSONEntity("moods", KeyMoods, func() []Mood { return []Mood{} }, nonNilSlice[Mood])
	e.rewards = IntEntity("rewards", KeyRewards)
	e.purchases = JSONEntity("purchases", KeyPurchases, func() map[string]int { return map[string]int{} }, countMap[string])
	e.food = JSONEntity("food", KeyFood, func() map[string]int { return map[string]int{} }, countMap[string])
	e.creature = JSONEntity("creature", KeyCreature, func() *CreatureState { return nil }, func(c *CreatureState) error {
		if c == nil {
			return nil
		}
		if _, ok := e.catalog.Creature(c.ID); !ok {
			return fmt.Errorf("unknown creature %q", c.ID)
		}
		c.Energy = clampEnergy(c.Energy)
		return nil
	})
	e.housePoints = JSONEntity("house-points", KeyHousePoints, zeroScores, knownHouses)
	e.quidditchScores = JSONEntity("quidditch-scores", KeyQuidditchScores, zeroScores, knownHouses)
	e.lastWinner = StringEntity("quidditch-winner", KeyQuidditchWinner, houseOrEmpty)
	e.tournamentStart = TimeEntity("tournament-start", KeyTournamentStart)
	e.lastRivalRun = TimeEntity("rival-last-run", KeyLastRivalRun)
	e.examCooldown = TimeEntity("exam-cooldown", KeyExamCooldown)
	e.prefs = JSONEntity("preferences", KeyPreferences, DefaultPreferences, nil)

	e.registry = NewRegistry()
	e.registry.Add(
		e.house, e.journal, e.tasks, e.moods, e.rewards, e.purchases, e.food,
		e.creature, e.housePoints, e.quidditchScores, e.lastWinner,
		e.tournamentStart, e.lastRivalRun, e.examCooldown, e.prefs,
	)
}

func (e *Engine) registerJobs() {
	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}
	must(e.sched.Register(scheduler.Job{
		Name:     JobDecay,
		Interval: e.cfg.DecayInterval,
		Gate: func() bool {
			e.mu.Lock()
			defer e.mu.Unlock()
			return e.creature.Get() != nil
		},
		Run: func(ctx context.Context) {
			if _, err := e.DecayCreature(ctx); err != nil && !errors.Is(err, gerrors.ErrNoCreature) {
				e.logger.Error().Err(err).Msg("creature decay failed")
			}
		},
	}))
	must(e.sched.Register(scheduler.Job{
		Name: JobSpawn,
		Delay: func() time.Duration {
			e.mu.Lock()
			defer e.mu.Unlock()
			return e.randDurationLocked(e.cfg.SpawnMinDelay, e.cfg.SpawnMaxDelay)
		},
		Gate: func() bool {
			e.mu.Lock()
			defer e.mu.Unlock()
			return e.spawn == nil && e.spawnAllowedLocked()
		},
		Run: func(ctx context.Context) {
			if _, err := e.Spawn(ctx); err != nil && !errors.Is(err, gerrors.ErrUnavailable) {
				e.logger.Error().Err(err).Msg("reward spawn failed")
			}
		},
	}))
	must(e.sched.Register(scheduler.Job{
		Name:     JobTournament,
		Interval: e.cfg.TournamentCheck,
		Run: func(ctx context.Context) {
			if _, _, err := e.RollTournament(ctx); err != nil {
				e.logger.Error().Err(err).Msg("tournament roll failed")
			}
		},
	}))
}

// Ready hydrates every entity, brings time-boxed content up to date, runs
// load-time catch-up and starts the background jobs under ctx. Calling it
// again re-hydrates from the store.
func (e *Engine) Ready(ctx context.Context) (HydrationReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.sched.StopAll()
	if err := e.loadLocked(ctx); err != nil {
		return e.report, err
	}
	e.runCtx = ctx
	e.ready = true
	e.visible = true
	e.sched.StartAll(ctx)

	e.logger.Info().
		Int("entities", len(e.report.States)).
		Strs("resets", e.report.Resets).
		Str("day", string(e.dayKey)).
		Msg("engine ready")
	return e.report, nil
}

func (e *Engine) loadLocked(ctx context.Context) error {
	report, err := e.registry.Hydrate(ctx, e.store, e.rec, e.logger)
	e.report = report
	if err != nil {
		return err
	}

	e.dayKey = ""
	e.decrees = content.Set{}
	e.lastID = 0
	for _, j := range e.journal.Get() {
		e.lastID = max(e.lastID, j.ID)
	}
	for _, t := range e.tasks.Get() {
		e.lastID = max(e.lastID, t.ID)
	}

	if err := e.refreshDailyLocked(ctx); err != nil {
		return err
	}
	if _, _, err := e.rollTournamentLocked(ctx); err != nil {
		return err
	}
	if _, err := e.catchUpRivalsLocked(ctx); err != nil {
		return err
	}
	e.updateGaugesLocked()
	return nil
}

// Stop halts every background job and waits for running fires to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.visible = false
	e.sched.StopAll()
	e.cancelHideLocked()
	e.spawn = nil
	e.mu.Unlock()
	e.sched.Wait()
}

// SetVisible starts the background jobs when the client becomes visible and
// stops them when it is hidden. Becoming visible re-derives time-boxed state
// from the stored timestamps.
func (e *Engine) SetVisible(ctx context.Context, visible bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if visible == e.visible {
		return nil
	}
	e.visible = visible
	if !visible {
		e.sched.StopAll()
		e.cancelHideLocked()
		e.spawn = nil
		return nil
	}
	if err := e.refreshDailyLocked(ctx); err != nil {
		return err
	}
	if _, _, err := e.rollTournamentLocked(ctx); err != nil {
		return err
	}
	if e.ready {
		e.sched.StartAll(e.runCtx)
	}
	return nil
}

// JobRunning reports whether a background job is armed.
func (e *Engine) JobRunning(name string) bool {
	return e.sched.Running(name)
}

// JobNames lists the engine's background jobs.
func (e *Engine) JobNames() []string {
	return e.sched.Names()
}

// Catalog returns the static content pools.
func (e *Engine) Catalog() *content.Catalog {
	return e.catalog
}

// IsReady reports whether hydration has completed.
func (e *Engine) IsReady() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ready
}

// ResetAll wipes the durable store and re-hydrates every entity to its
// default.
func (e *Engine) ResetAll(ctx context.Context) (HydrationReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.sched.StopAll()
	e.cancelHideLocked()
	e.spawn = nil
	e.exam = nil
	e.chat = nil

	if err := e.store.Clear(ctx); err != nil {
		return e.report, fmt.Errorf("clear store: %w", err)
	}
	if err := e.loadLocked(ctx); err != nil {
		return e.report, err
	}
	if e.ready && e.visible {
		e.sched.StartAll(e.runCtx)
	}
	e.logger.Warn().Msg("all state reset")
	return e.report, nil
}

func (e *Engine) now() time.Time {
	return e.clock.Now()
}

// Now returns the engine clock's current time.
func (e *Engine) Now() time.Time {
	return e.clock.Now()
}

func (e *Engine) flushLocked(ctx context.Context, entities ...Entity) error {
	for _, ent := range entities {
		if err := flush(ctx, e.store, e.rec, ent); err != nil {
			return err
		}
	}
	e.updateGaugesLocked()
	return nil
}

func (e *Engine) updateGaugesLocked() {
	e.rec.SetLedgerBalance(e.rewards.Get())
	if c := e.creature.Get(); c != nil {
		e.rec.SetCreatureEnergy(c.Energy)
	} else {
		e.rec.SetCreatureEnergy(0)
	}
}

func (e *Engine) nextIDLocked() int64 {
	id := e.now().UnixMilli()
	if id <= e.lastID {
		id = e.lastID + 1
	}
	e.lastID = id
	return id
}

func (e *Engine) randDurationLocked(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(e.rng.Int64N(int64(hi-lo)+1))
}

func (e *Engine) userHouseLocked() content.House {
	return content.House(e.house.Get())
}

// Snapshot returns a copy of the whole state.
func (e *Engine) Snapshot(ctx context.Context) (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.refreshDailyLocked(ctx); err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		UserName:        e.cfg.UserName,
		House:           e.userHouseLocked(),
		Journal:         append([]JournalEntry{}, e.journal.Get()...),
		Tasks:           append([]Task{}, e.tasks.Get()...),
		Moods:           append([]Mood{}, e.moods.Get()...),
		Rewards:         e.rewards.Get(),
		Purchases:       copyMap(e.purchases.Get()),
		Food:            copyMap(e.food.Get()),
		HousePoints:     copyMap(e.housePoints.Get()),
		Decrees:         e.decreeStateLocked(),
		Quidditch:       e.standingsLocked(),
		ExamCooldownEnd: e.examCooldown.Get(),
		Preferences:     e.prefs.Get(),
		ChatHistory:     append([]oracle.Message{}, e.chat...),
		Visible:         e.visible,
		DialogOpen:      e.dialogOpen,
		Hydration:       e.report,
	}
	if c := e.creature.Get(); c != nil {
		cp := *c
		snap.Creature = &cp
	}
	if e.spawn != nil {
		sp := *e.spawn
		snap.Spawn = &sp
	}
	return snap, nil
}
