package engine

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/grimoire/internal/content"
	gerrors "github.com/p-blackswan/grimoire/internal/errors"
	"github.com/p-blackswan/grimoire/internal/oracle"
	"github.com/p-blackswan/grimoire/internal/period"
	"github.com/p-blackswan/grimoire/internal/store"
)

type fakeOracle struct {
	house content.House
}

func (f fakeOracle) SortingDecision(_ context.Context, _ string, _ []string) oracle.SortingResult {
	return oracle.SortingResult{House: f.house, Reasoning: "because"}
}

func (fakeOracle) OwlAnswer(_ context.Context, q string) string { return "hoot: " + q }

func (fakeOracle) PetReply(_ context.Context, c content.Creature, _, _ string, _ []oracle.Message) string {
	return "*" + c.Name + " purrs*"
}

// June 2, 2024; the browser's zero-based month makes this "2024-5-2".
var june2 = time.Date(2024, 6, 2, 10, 0, 0, 0, time.UTC)

type harness struct {
	e     *Engine
	store *store.MemoryStore
	clock *period.ManualClock
}

func newHarness(t *testing.T, s *store.MemoryStore, mutate ...func(*Config)) *harness {
	t.Helper()
	if s == nil {
		s = store.NewMemoryStore()
	}
	cfg := DefaultConfig()
	cfg.UserName = "Harry"
	for _, m := range mutate {
		m(&cfg)
	}
	clock := period.NewManualClock(june2)
	e := New(s, fakeOracle{house: content.Ravenclaw}, cfg, zerolog.Nop(),
		WithClock(clock),
		WithRand(rand.New(rand.NewPCG(7, 11))),
	)
	t.Cleanup(e.Stop)
	return &harness{e: e, store: s, clock: clock}
}

func (h *harness) ready(t *testing.T) HydrationReport {
	t.Helper()
	r, err := h.e.Ready(context.Background())
	require.NoError(t, err)
	return r
}

func (h *harness) raw(t *testing.T, key string) (string, bool) {
	t.Helper()
	v, ok, err := h.store.Get(context.Background(), key)
	require.NoError(t, err)
	return v, ok
}

func seed(t *testing.T, s *store.MemoryStore, kv map[string]string) {
	t.Helper()
	for k, v := range kv {
		require.NoError(t, s.Set(context.Background(), k, v))
	}
}

func TestHydrate_CorruptEntityIsolation(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s, map[string]string{
		KeyJournal: "{not json",
		KeyTasks:   `[{"id":1,"text":"Feed Hedwig","completed":false}]`,
	})
	h := newHarness(t, s)
	report := h.ready(t)

	assert.Equal(t, StateReset, report.States["journal"])
	assert.Equal(t, StateValid, report.States["tasks"])
	assert.Equal(t, []string{"journal"}, report.Resets)

	assert.Empty(t, h.e.Journal())
	require.Len(t, h.e.Tasks(), 1)
	assert.Equal(t, "Feed Hedwig", h.e.Tasks()[0].Text)

	raw, ok := h.raw(t, KeyJournal)
	require.True(t, ok)
	assert.Equal(t, "[]", raw, "default persisted over the corrupt value")
}

func TestHydrate_ShapeValidation(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s, map[string]string{
		KeyJournal:  `{"id":1}`,
		KeyMoods:    "null",
		KeyRewards:  "-5",
		KeyHouse:    "Durmstrang",
		KeyCreature: `{"id":"dragon","energy":50}`,
		KeyFood:     `{"owl-treats":-1}`,
	})
	h := newHarness(t, s)
	report := h.ready(t)

	for _, name := range []string{"journal", "moods", "rewards", "house", "creature", "food"} {
		assert.Equal(t, StateReset, report.States[name], name)
	}
	assert.Equal(t, 0, h.e.Balance())
	assert.Equal(t, content.House(""), h.e.House())
	assert.Nil(t, h.e.Creature())
}

func TestHydrate_AbsentKeysTakeLazyDefault(t *testing.T) {
	h := newHarness(t, nil)
	report := h.ready(t)

	assert.Equal(t, StateDefault, report.States["journal"])
	assert.Empty(t, report.Resets)
	_, ok := h.raw(t, KeyJournal)
	assert.False(t, ok, "lazy defaults are not written")
	assert.Equal(t, DefaultPreferences(), h.e.Preferences())
}

func TestHydrate_CreatureEnergyClamped(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s, map[string]string{KeyCreature: `{"id":"owl","energy":250}`})
	h := newHarness(t, s)
	h.ready(t)
	require.NotNil(t, h.e.Creature())
	assert.Equal(t, MaxEnergy, h.e.Creature().Energy)
}

func TestDecrees_DailyLifecycle(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s, map[string]string{
		"decrees-2024-5-1":        `[{"id":"charm","text":"Practice a charm","completed":true}]`,
		"decrees-reward-2024-5-1": "true",
		"quidditch-plays-2024-5-1": "3",
	})
	h := newHarness(t, s)
	h.ready(t)
	ctx := context.Background()

	d, err := h.e.Decrees(ctx)
	require.NoError(t, err)
	assert.Equal(t, period.Key("2024-5-2"), d.PeriodKey)
	require.Len(t, d.Items, 5)
	for _, it := range d.Items {
		assert.False(t, it.Completed)
	}
	assert.False(t, d.Rewarded)

	for _, k := range []string{"decrees-2024-5-1", "decrees-reward-2024-5-1", "quidditch-plays-2024-5-1"} {
		_, ok := h.raw(t, k)
		assert.False(t, ok, "%s should be pruned", k)
	}
	_, ok := h.raw(t, "decrees-2024-5-2")
	assert.True(t, ok)

	again, err := h.e.Decrees(ctx)
	require.NoError(t, err)
	assert.Equal(t, d, again, "same day must not re-randomize")
}

func TestDecrees_BoundaryCrossingRegeneratesOnce(t *testing.T) {
	regens := 0
	h := newHarness(t, nil)
	h.e.rec = countingRecorder{regen: &regens}
	h.ready(t)
	ctx := context.Background()
	assert.Equal(t, 1, regens)

	h.clock.Set(time.Date(2024, 6, 2, 23, 59, 59, 0, time.UTC))
	_, err := h.e.Decrees(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, regens)

	h.clock.Set(time.Date(2024, 6, 3, 0, 0, 1, 0, time.UTC))
	d, err := h.e.Decrees(ctx)
	require.NoError(t, err)
	assert.Equal(t, period.Key("2024-5-3"), d.PeriodKey)
	assert.Equal(t, 2, regens)

	_, err = h.e.Decrees(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, regens)

	_, ok := h.raw(t, "decrees-2024-5-2")
	assert.False(t, ok)
}

func TestDecrees_StoredTodaySurvivesReload(t *testing.T) {
	s := store.NewMemoryStore()
	first := newHarness(t, s)
	first.ready(t)
	ctx := context.Background()
	d1, err := first.e.Decrees(ctx)
	require.NoError(t, err)
	_, err = first.e.ToggleDecree(ctx, d1.Items[0].ID)
	require.NoError(t, err)
	first.e.Stop()

	second := newHarness(t, s)
	second.ready(t)
	d2, err := second.e.Decrees(ctx)
	require.NoError(t, err)
	assert.Equal(t, d1.PeriodKey, d2.PeriodKey)
	require.Len(t, d2.Items, 5)
	assert.Equal(t, d1.Items[0].ID, d2.Items[0].ID)
	assert.True(t, d2.Items[0].Completed)
}

func TestToggleDecree_RewardOncePerDay(t *testing.T) {
	h := newHarness(t, nil)
	h.ready(t)
	ctx := context.Background()
	d, err := h.e.Decrees(ctx)
	require.NoError(t, err)

	var last ToggleResult
	for _, it := range d.Items {
		last, err = h.e.ToggleDecree(ctx, it.ID)
		require.NoError(t, err)
	}
	assert.Equal(t, 10, last.Reward)
	assert.True(t, last.Decrees.Rewarded)
	assert.Equal(t, 10, h.e.Balance())

	flag, ok := h.raw(t, "decrees-reward-2024-5-2")
	require.True(t, ok)
	assert.Equal(t, "true", flag)

	res, err := h.e.ToggleDecree(ctx, d.Items[0].ID)
	require.NoError(t, err)
	assert.Zero(t, res.Reward)
	res, err = h.e.ToggleDecree(ctx, d.Items[0].ID)
	require.NoError(t, err)
	assert.Zero(t, res.Reward)
	assert.Equal(t, 10, h.e.Balance())

	_, err = h.e.ToggleDecree(ctx, "nope")
	assert.ErrorIs(t, err, gerrors.ErrNotFound)
}

func TestPurchase_InsufficientFunds(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s, map[string]string{KeyRewards: "40"})
	h := newHarness(t, s)
	h.ready(t)

	_, err := h.e.Purchase(context.Background(), "firebolt")
	require.Error(t, err)
	assert.ErrorIs(t, err, gerrors.ErrInsufficientFunds)
	var ife *gerrors.InsufficientFundsError
	require.ErrorAs(t, err, &ife)
	assert.Equal(t, 40, ife.Balance)
	assert.Equal(t, 50, ife.Cost)

	assert.Equal(t, 40, h.e.Balance())
	items, _ := h.e.Inventory()
	assert.Zero(t, items["firebolt"])
	raw, _ := h.raw(t, KeyRewards)
	assert.Equal(t, "40", raw)
	_, ok := h.raw(t, KeyPurchases)
	assert.False(t, ok)
}

func TestPurchase_CollectibleAndFood(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s, map[string]string{KeyRewards: "100"})
	h := newHarness(t, s)
	h.ready(t)
	ctx := context.Background()

	res, err := h.e.Purchase(ctx, "firebolt")
	require.NoError(t, err)
	assert.Equal(t, 50, res.Balance)
	assert.Equal(t, 1, res.Owned)
	assert.False(t, res.Food)

	res, err = h.e.Purchase(ctx, "owl-treats")
	require.NoError(t, err)
	assert.True(t, res.Food)
	assert.Equal(t, 47, res.Balance)

	items, food := h.e.Inventory()
	assert.Equal(t, 1, items["firebolt"])
	assert.Equal(t, 1, food["owl-treats"])

	raw, _ := h.raw(t, KeyPurchases)
	assert.JSONEq(t, `{"firebolt":1}`, raw)

	_, err = h.e.Purchase(ctx, "philosophers-stone")
	assert.ErrorIs(t, err, gerrors.ErrNotFound)
}

func TestLedger_NeverNegative(t *testing.T) {
	h := newHarness(t, nil)
	h.ready(t)
	ctx := context.Background()
	rng := rand.New(rand.NewPCG(3, 4))

	expected := 0
	for i := 0; i < 300; i++ {
		n := 1 + rng.IntN(20)
		if rng.IntN(2) == 0 {
			bal, err := h.e.AddRewards(ctx, n)
			require.NoError(t, err)
			expected += n
			assert.Equal(t, expected, bal)
			continue
		}
		bal, err := h.e.SpendRewards(ctx, n)
		if n > expected {
			assert.ErrorIs(t, err, gerrors.ErrInsufficientFunds)
		} else {
			require.NoError(t, err)
			expected -= n
		}
		assert.Equal(t, expected, bal)
		assert.GreaterOrEqual(t, h.e.Balance(), 0)
	}

	_, err := h.e.AddRewards(ctx, 0)
	assert.ErrorIs(t, err, gerrors.ErrInvalidInput)
	_, err = h.e.SpendRewards(ctx, -3)
	assert.ErrorIs(t, err, gerrors.ErrInvalidInput)
}

func TestCreature_DecayClamped(t *testing.T) {
	h := newHarness(t, nil)
	h.ready(t)
	ctx := context.Background()

	_, err := h.e.DecayCreature(ctx)
	assert.ErrorIs(t, err, gerrors.ErrNoCreature)

	_, err = h.e.AdoptCreature(ctx, "owl")
	require.NoError(t, err)
	for i := 0; i < 25; i++ {
		_, err = h.e.DecayCreature(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, 0, h.e.Creature().Energy)

	energy, err := h.e.DecayCreature(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, energy)

	raw, _ := h.raw(t, KeyCreature)
	var stored CreatureState
	require.NoError(t, json.Unmarshal([]byte(raw), &stored))
	assert.Equal(t, 0, stored.Energy)
}

func TestCreature_Interactions(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s, map[string]string{KeyRewards: "10"})
	h := newHarness(t, s, func(c *Config) { c.DecayStep = 45 })
	h.ready(t)
	ctx := context.Background()

	_, err := h.e.PlayWithCreature(ctx)
	assert.ErrorIs(t, err, gerrors.ErrNoCreature)
	_, err = h.e.AdoptCreature(ctx, "unicorn")
	assert.ErrorIs(t, err, gerrors.ErrNotFound)

	_, err = h.e.AdoptCreature(ctx, "owl")
	require.NoError(t, err)
	_, err = h.e.AdoptCreature(ctx, "cat")
	assert.ErrorIs(t, err, gerrors.ErrInvalidInput)

	res, err := h.e.PlayWithCreature(ctx)
	require.NoError(t, err)
	assert.Equal(t, "*Hedwig purrs*", res.Reply)
	assert.Equal(t, 98, res.Creature.Energy)
	assert.Equal(t, 12, res.Balance)

	// 98 -> 53 -> 8
	_, err = h.e.DecayCreature(ctx)
	require.NoError(t, err)
	_, err = h.e.DecayCreature(ctx)
	require.NoError(t, err)

	_, err = h.e.FeedCreature(ctx, "owl-treats")
	assert.ErrorIs(t, err, gerrors.ErrNotFound, "none in inventory")
	_, err = h.e.FeedCreature(ctx, "flies")
	assert.ErrorIs(t, err, gerrors.ErrInvalidInput, "owls do not eat flies")

	_, err = h.e.Purchase(ctx, "owl-treats")
	require.NoError(t, err)
	res, err = h.e.FeedCreature(ctx, "owl-treats")
	require.NoError(t, err)
	assert.Equal(t, 23, res.Creature.Energy)
	assert.Equal(t, 10, res.Balance, "12 - 3 + 1")
	_, food := h.e.Inventory()
	assert.NotContains(t, food, "owl-treats")

	// 23 -> 0
	_, err = h.e.DecayCreature(ctx)
	require.NoError(t, err)
	_, err = h.e.PlayWithCreature(ctx)
	assert.ErrorIs(t, err, gerrors.ErrTooTired)

	res, err = h.e.ChatWithCreature(ctx, "are you awake?")
	require.NoError(t, err)
	assert.Contains(t, res.Reply, "tired squeak")
	assert.Equal(t, 0, res.Creature.Energy)

	history := h.e.ChatHistory()
	require.NotEmpty(t, history)
	assert.Equal(t, oracle.RoleModel, history[len(history)-1].Role)

	require.NoError(t, h.e.ReleaseCreature(ctx))
	assert.Nil(t, h.e.Creature())
	assert.Empty(t, h.e.ChatHistory())
	assert.ErrorIs(t, h.e.ReleaseCreature(ctx), gerrors.ErrNoCreature)
}

func TestChatWithCreature_SpendsEnergy(t *testing.T) {
	h := newHarness(t, nil, func(c *Config) { c.ChatHistory = 4 })
	h.ready(t)
	ctx := context.Background()
	_, err := h.e.AdoptCreature(ctx, "cat")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		res, err := h.e.ChatWithCreature(ctx, "hello")
		require.NoError(t, err)
		assert.Equal(t, "*Crookshanks purrs*", res.Reply)
	}
	assert.Equal(t, 97, h.e.Creature().Energy)
	assert.Len(t, h.e.ChatHistory(), 4)

	_, err = h.e.ChatWithCreature(ctx, "  ")
	assert.ErrorIs(t, err, gerrors.ErrInvalidInput)
}

func TestRivalCatchUp(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s, map[string]string{
		KeyHouse:        "Gryffindor",
		KeyLastRivalRun: period.FormatTime(june2.Add(-5 * time.Hour)),
	})
	h := newHarness(t, s)
	h.ready(t)
	ctx := context.Background()

	st, err := h.e.Standings(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Scores[content.Gryffindor])
	for _, house := range []content.House{content.Slytherin, content.Ravenclaw, content.Hufflepuff} {
		assert.GreaterOrEqual(t, st.Scores[house], 1, house)
		assert.LessOrEqual(t, st.Scores[house], 10, house)
	}
	raw, _ := h.raw(t, KeyLastRivalRun)
	assert.Equal(t, period.FormatTime(june2), raw)

	h.clock.Advance(10 * time.Second)
	gains, err := h.e.CatchUpRivals(ctx)
	require.NoError(t, err)
	assert.Empty(t, gains)

	// A reload ten seconds later does nothing either.
	h.e.Stop()
	reload := newHarness(t, s)
	reload.clock.Set(june2.Add(10 * time.Second))
	reload.ready(t)
	again, err := reload.e.Standings(ctx)
	require.NoError(t, err)
	assert.Equal(t, st.Scores, again.Scores)
}

func TestRivalCatchUp_FirstRunOnlyRecords(t *testing.T) {
	h := newHarness(t, nil)
	h.ready(t)
	st, err := h.e.Standings(context.Background())
	require.NoError(t, err)
	for _, v := range st.Scores {
		assert.Zero(t, v)
	}
	_, ok := h.raw(t, KeyLastRivalRun)
	assert.True(t, ok)
}

func TestRollTournament(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s, map[string]string{
		KeyTournamentStart: period.FormatTime(period.StartOfDay(june2).Add(-24 * time.Hour)),
		KeyQuidditchScores: `{"Gryffindor":10,"Slytherin":30,"Ravenclaw":0,"Hufflepuff":5}`,
	})
	h := newHarness(t, s)
	h.ready(t)
	ctx := context.Background()

	st, err := h.e.Standings(ctx)
	require.NoError(t, err)
	assert.Equal(t, content.Slytherin, st.LastWinner)
	for _, v := range st.Scores {
		assert.Zero(t, v)
	}
	assert.Equal(t, period.StartOfDay(june2), st.StartedAt)
	assert.Equal(t, "13:59:59", st.Countdown)

	_, rolled, err := h.e.RollTournament(ctx)
	require.NoError(t, err)
	assert.False(t, rolled)

	h.clock.Set(time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC))
	winner, rolled, err := h.e.RollTournament(ctx)
	require.NoError(t, err)
	assert.True(t, rolled)
	assert.Empty(t, winner, "no points scored, previous winner kept")
	st, err = h.e.Standings(ctx)
	require.NoError(t, err)
	assert.Equal(t, content.Slytherin, st.LastWinner)
}

func TestRollTournament_DSTDays(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata not available: %v", err)
	}

	cases := []struct {
		name     string
		start    time.Time
		lateNow  time.Time
		midnight time.Time
	}{
		{
			name:     "25 hour day",
			start:    time.Date(2024, 11, 3, 0, 0, 0, 0, ny),
			lateNow:  time.Date(2024, 11, 3, 23, 10, 0, 0, ny),
			midnight: time.Date(2024, 11, 4, 0, 0, 0, 0, ny),
		},
		{
			name:     "23 hour day",
			start:    time.Date(2024, 3, 10, 0, 0, 0, 0, ny),
			lateNow:  time.Date(2024, 3, 10, 23, 10, 0, 0, ny),
			midnight: time.Date(2024, 3, 11, 0, 0, 0, 0, ny),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := store.NewMemoryStore()
			seed(t, s, map[string]string{
				KeyTournamentStart: period.FormatTime(tc.start),
				KeyQuidditchScores: `{"Gryffindor":10,"Slytherin":0,"Ravenclaw":0,"Hufflepuff":0}`,
			})
			h := newHarness(t, s)
			h.clock.Set(tc.lateNow)
			h.ready(t)
			ctx := context.Background()

			for i := 0; i < 45; i++ {
				_, rolled, err := h.e.RollTournament(ctx)
				require.NoError(t, err)
				require.False(t, rolled, "rolled at %s", h.e.Now())
				h.clock.Advance(time.Minute)
			}

			h.clock.Set(tc.midnight.Add(-time.Second))
			_, rolled, err := h.e.RollTournament(ctx)
			require.NoError(t, err)
			assert.False(t, rolled)

			h.clock.Set(tc.midnight)
			winner, rolled, err := h.e.RollTournament(ctx)
			require.NoError(t, err)
			assert.True(t, rolled)
			assert.Equal(t, content.Gryffindor, winner)

			h.clock.Advance(time.Minute)
			_, rolled, err = h.e.RollTournament(ctx)
			require.NoError(t, err)
			assert.False(t, rolled, "one roll per local day")

			st, err := h.e.Standings(ctx)
			require.NoError(t, err)
			assert.True(t, tc.midnight.Equal(st.StartedAt))
		})
	}
}

func TestQuidditch_MatchFeesAndRewards(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s, map[string]string{KeyRewards: "100"})
	h := newHarness(t, s)
	h.ready(t)
	ctx := context.Background()

	_, err := h.e.PlayMatch(ctx, 3)
	assert.ErrorIs(t, err, gerrors.ErrNotSorted)

	_, err = h.e.Sort(ctx, []string{"wise"})
	require.NoError(t, err)

	fee, err := h.e.MatchFee(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, fee)

	res, err := h.e.PlayMatch(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, MatchResult{Fee: 5, Score: 3, Reward: 0, Balance: 95, PlaysToday: 1}, res)

	res, err = h.e.PlayMatch(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, MatchResult{Fee: 10, Score: 7, Reward: 7, Balance: 92, PlaysToday: 2}, res)

	fee, err = h.e.MatchFee(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, fee)

	st, err := h.e.Standings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, st.Scores[content.Ravenclaw])

	plays, _ := h.raw(t, "quidditch-plays-2024-5-2")
	assert.Equal(t, "2", plays)

	h.clock.Set(time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC))
	fee, err = h.e.MatchFee(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, fee)

	_, err = h.e.PlayMatch(ctx, -1)
	assert.ErrorIs(t, err, gerrors.ErrInvalidInput)
}

func TestExam_CooldownAndRewards(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s, map[string]string{KeyHouse: "Hufflepuff"})
	h := newHarness(t, s)
	h.ready(t)
	ctx := context.Background()

	correct := map[string]string{}
	for _, q := range content.Default().ExamQuestions {
		correct[q.Question] = q.CorrectAnswer
	}

	exam, err := h.e.StartExam(ctx)
	require.NoError(t, err)
	require.Len(t, exam.Questions, 5)
	assert.NotEmpty(t, exam.Title)

	answers := make([]string, len(exam.Questions))
	for i, q := range exam.Questions {
		answers[i] = correct[q.Question]
	}
	answers[0] = "wrong"

	_, err = h.e.SubmitExam(ctx, "other", answers)
	assert.ErrorIs(t, err, gerrors.ErrNotFound)
	_, err = h.e.SubmitExam(ctx, exam.ID, answers[:2])
	assert.ErrorIs(t, err, gerrors.ErrInvalidInput)

	res, err := h.e.SubmitExam(ctx, exam.ID, answers)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Score)
	assert.True(t, res.Passed)
	assert.Equal(t, 10, res.Reward)
	assert.Equal(t, 10, h.e.Balance())
	assert.Equal(t, 10, h.e.HousePoints()[content.Hufflepuff])
	assert.Equal(t, june2.Add(time.Hour), res.CooldownUntil)

	h.clock.Advance(20 * time.Minute)
	_, err = h.e.StartExam(ctx)
	var cd *gerrors.CooldownError
	require.ErrorAs(t, err, &cd)
	assert.ErrorIs(t, err, gerrors.ErrCoolingDown)
	assert.Equal(t, 40*time.Minute, cd.Remaining)

	h.clock.Advance(40 * time.Minute)
	exam, err = h.e.StartExam(ctx)
	require.NoError(t, err)

	res, err = h.e.SubmitExam(ctx, exam.ID, make([]string, len(exam.Questions)))
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Zero(t, res.Reward)
	assert.Equal(t, 10, h.e.Balance())
}

func TestExam_ThreeOfFivePasses(t *testing.T) {
	h := newHarness(t, nil)
	h.ready(t)
	ctx := context.Background()
	correct := map[string]string{}
	for _, q := range content.Default().ExamQuestions {
		correct[q.Question] = q.CorrectAnswer
	}

	exam, err := h.e.StartExam(ctx)
	require.NoError(t, err)
	answers := make([]string, 5)
	for i := 0; i < 3; i++ {
		answers[i] = correct[exam.Questions[i].Question]
	}
	res, err := h.e.SubmitExam(ctx, exam.ID, answers)
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Zero(t, res.HousePoints, "unsorted users earn no house points")
}

func TestJournalTasksMoods(t *testing.T) {
	s := store.NewMemoryStore()
	h := newHarness(t, s)
	h.ready(t)
	ctx := context.Background()

	_, err := h.e.AddJournalEntry(ctx, "   ", "")
	assert.ErrorIs(t, err, gerrors.ErrInvalidInput)
	_, err = h.e.AddJournalEntry(ctx, "Dear diary", "Butterbeer")
	assert.ErrorIs(t, err, gerrors.ErrInvalidInput)

	first, err := h.e.AddJournalEntry(ctx, "Dear diary", "")
	require.NoError(t, err)
	assert.Equal(t, "Felix Felicis", first.Mood)
	assert.Equal(t, "Sun Jun 02 2024", first.Date)
	second, err := h.e.AddJournalEntry(ctx, "Second page", "Veritaserum")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, second.ID, h.e.Journal()[0].ID, "newest first")

	edited, err := h.e.EditJournalEntry(ctx, first.ID, "Dear diary, edited")
	require.NoError(t, err)
	assert.Equal(t, "Dear diary, edited", edited.Content)
	_, err = h.e.EditJournalEntry(ctx, 42, "x")
	assert.ErrorIs(t, err, gerrors.ErrNotFound)

	require.NoError(t, h.e.DeleteJournalEntry(ctx, second.ID))
	assert.ErrorIs(t, h.e.DeleteJournalEntry(ctx, second.ID), gerrors.ErrNotFound)

	task, err := h.e.AddTask(ctx, "Return library book")
	require.NoError(t, err)
	toggled, err := h.e.ToggleTask(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, toggled.Completed)
	require.NoError(t, h.e.DeleteTask(ctx, task.ID))
	assert.Empty(t, h.e.Tasks())
	_, err = h.e.AddTask(ctx, "")
	assert.ErrorIs(t, err, gerrors.ErrInvalidInput)

	_, err = h.e.RecordMood(ctx, "Pumpkin Juice")
	assert.ErrorIs(t, err, gerrors.ErrInvalidInput)
	_, err = h.e.RecordMood(ctx, "Amortentia")
	require.NoError(t, err)
	mood, err := h.e.RecordMood(ctx, "Draught of Peace")
	require.NoError(t, err)
	assert.Equal(t, "bg-indigo-400", mood.Color)
	require.Len(t, h.e.Moods(), 1, "one mood per day")

	h.clock.Advance(24 * time.Hour)
	_, err = h.e.RecordMood(ctx, "Amortentia")
	require.NoError(t, err)
	assert.Len(t, h.e.Moods(), 2)

	// Everything was flushed: a fresh engine over the same store sees it.
	h.e.Stop()
	reload := newHarness(t, s)
	reload.ready(t)
	require.Len(t, reload.e.Journal(), 1)
	assert.Equal(t, "Dear diary, edited", reload.e.Journal()[0].Content)
	assert.Len(t, reload.e.Moods(), 2)
}

func TestSortAndLeaveHouse(t *testing.T) {
	h := newHarness(t, nil)
	h.ready(t)
	ctx := context.Background()

	_, err := h.e.Sort(ctx, nil)
	assert.ErrorIs(t, err, gerrors.ErrInvalidInput)

	res, err := h.e.Sort(ctx, []string{"wise", "wise"})
	require.NoError(t, err)
	assert.Equal(t, content.Ravenclaw, res.House)
	raw, _ := h.raw(t, KeyHouse)
	assert.Equal(t, "Ravenclaw", raw)

	require.NoError(t, h.e.LeaveHouse(ctx))
	assert.Equal(t, content.House(""), h.e.House())
	_, ok := h.raw(t, KeyHouse)
	assert.False(t, ok)
	assert.ErrorIs(t, h.e.LeaveHouse(ctx), gerrors.ErrNotSorted)
}

func TestSpawn_ClaimAndSuppression(t *testing.T) {
	h := newHarness(t, nil)
	h.ready(t)
	ctx := context.Background()

	_, err := h.e.Spawn(ctx)
	assert.ErrorIs(t, err, gerrors.ErrUnavailable, "unsorted users see no spawns")

	_, err = h.e.Sort(ctx, []string{"wise"})
	require.NoError(t, err)

	sp, err := h.e.Spawn(ctx)
	require.NoError(t, err)
	assert.Contains(t, []int{1, 2, 5}, sp.Magnitude)

	replaced, err := h.e.Spawn(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, sp.ID, replaced.ID)
	_, err = h.e.ClaimSpawn(ctx, sp.ID)
	assert.ErrorIs(t, err, gerrors.ErrNotFound, "the replaced spawn is gone")

	claim, err := h.e.ClaimSpawn(ctx, replaced.ID)
	require.NoError(t, err)
	assert.Equal(t, replaced.Magnitude, claim.Reward)
	assert.Equal(t, replaced.Magnitude, claim.Balance)
	assert.NotEmpty(t, claim.Fact)
	assert.True(t, h.e.JobRunning(JobSpawn))

	_, err = h.e.ClaimSpawn(ctx, replaced.ID)
	assert.ErrorIs(t, err, gerrors.ErrAlreadyClaimed)

	_, err = h.e.Spawn(ctx)
	require.NoError(t, err)
	h.e.SetDialogOpen(true)
	assert.Nil(t, h.e.CurrentSpawn(), "opening a dialog hides the spawn")
	_, err = h.e.Spawn(ctx)
	assert.ErrorIs(t, err, gerrors.ErrUnavailable)
	h.e.SetDialogOpen(false)
	_, err = h.e.Spawn(ctx)
	assert.NoError(t, err)
}

// failingStore rejects writes while failSets is set.
type failingStore struct {
	*store.MemoryStore
	failSets atomic.Bool
}

func (f *failingStore) Set(ctx context.Context, key, value string) error {
	if f.failSets.Load() {
		return errors.New("disk full")
	}
	return f.MemoryStore.Set(ctx, key, value)
}

func TestClaimSpawn_FailedCreditKeepsSpawn(t *testing.T) {
	mem := store.NewMemoryStore()
	seed(t, mem, map[string]string{KeyHouse: "Hufflepuff", KeyRewards: "3"})
	fs := &failingStore{MemoryStore: mem}
	e := New(fs, fakeOracle{house: content.Hufflepuff}, DefaultConfig(), zerolog.Nop(),
		WithClock(period.NewManualClock(june2)),
		WithRand(rand.New(rand.NewPCG(7, 11))),
	)
	t.Cleanup(e.Stop)
	ctx := context.Background()
	_, err := e.Ready(ctx)
	require.NoError(t, err)

	sp, err := e.Spawn(ctx)
	require.NoError(t, err)

	fs.failSets.Store(true)
	_, err = e.ClaimSpawn(ctx, sp.ID)
	require.Error(t, err)
	assert.Equal(t, 3, e.Balance(), "balance not credited in memory")
	require.NotNil(t, e.CurrentSpawn())
	assert.Equal(t, sp.ID, e.CurrentSpawn().ID)

	fs.failSets.Store(false)
	claim, err := e.ClaimSpawn(ctx, sp.ID)
	require.NoError(t, err)
	assert.Equal(t, 3+sp.Magnitude, claim.Balance)
	assert.Nil(t, e.CurrentSpawn())
	raw, _, err := mem.Get(ctx, KeyRewards)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(3+sp.Magnitude), raw)
}

func TestSpawn_HidesUnclaimed(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s, map[string]string{KeyHouse: "Slytherin"})
	h := newHarness(t, s, func(c *Config) {
		c.SpawnHideMin = 10 * time.Millisecond
		c.SpawnHideMax = 20 * time.Millisecond
	})
	h.ready(t)

	_, err := h.e.Spawn(context.Background())
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return h.e.CurrentSpawn() == nil }, time.Second, 2*time.Millisecond)
}

func TestSpawnJob_FiresAndStopsWhenHidden(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s, map[string]string{KeyHouse: "Slytherin"})
	h := newHarness(t, s, func(c *Config) {
		c.SpawnMinDelay = 5 * time.Millisecond
		c.SpawnMaxDelay = 10 * time.Millisecond
	})
	h.ready(t)
	ctx := context.Background()

	assert.Eventually(t, func() bool { return h.e.CurrentSpawn() != nil }, time.Second, 2*time.Millisecond)

	require.NoError(t, h.e.SetVisible(ctx, false))
	for _, name := range h.e.JobNames() {
		assert.False(t, h.e.JobRunning(name), name)
	}
	assert.Nil(t, h.e.CurrentSpawn())

	require.NoError(t, h.e.SetVisible(ctx, true))
	assert.True(t, h.e.JobRunning(JobDecay))
	assert.True(t, h.e.JobRunning(JobSpawn))
	assert.True(t, h.e.JobRunning(JobTournament))
}

func TestDecayJob(t *testing.T) {
	h := newHarness(t, nil, func(c *Config) { c.DecayInterval = 2 * time.Millisecond })
	h.ready(t)
	_, err := h.e.AdoptCreature(context.Background(), "toad")
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return h.e.Creature().Energy == 0 }, 2*time.Second, 2*time.Millisecond)
}

func TestSettingsAndOwl(t *testing.T) {
	h := newHarness(t, nil)
	h.ready(t)
	ctx := context.Background()

	has, err := h.e.HasAPIKey(ctx)
	require.NoError(t, err)
	assert.False(t, has)
	require.NoError(t, h.e.SetAPIKey(ctx, "  abc  "))
	raw, _ := h.raw(t, oracle.CredentialKey)
	assert.Equal(t, "abc", raw)
	require.NoError(t, h.e.SetAPIKey(ctx, ""))
	has, err = h.e.HasAPIKey(ctx)
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, h.e.SetPreferences(ctx, Preferences{SoundEnabled: false, AnimationsEnabled: true}))
	raw, _ = h.raw(t, KeyPreferences)
	assert.JSONEq(t, `{"soundEnabled":false,"animationsEnabled":true}`, raw)

	answer, err := h.e.AskOwl(ctx, "Where is Hogsmeade?")
	require.NoError(t, err)
	assert.Equal(t, "hoot: Where is Hogsmeade?", answer)
	_, err = h.e.AskOwl(ctx, " ")
	assert.ErrorIs(t, err, gerrors.ErrInvalidInput)

	assert.Contains(t, content.Default().Facts, h.e.RandomFact())
}

func TestResetAll(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s, map[string]string{KeyRewards: "99", KeyHouse: "Gryffindor"})
	h := newHarness(t, s)
	h.ready(t)
	ctx := context.Background()
	_, err := h.e.AddJournalEntry(ctx, "page", "")
	require.NoError(t, err)

	report, err := h.e.ResetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateDefault, report.States["rewards"])
	assert.Equal(t, 0, h.e.Balance())
	assert.Empty(t, h.e.Journal())
	assert.Equal(t, content.House(""), h.e.House())
	_, ok := h.raw(t, KeyRewards)
	assert.False(t, ok)
	assert.True(t, h.e.JobRunning(JobDecay))
}

func TestSnapshot(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s, map[string]string{KeyRewards: "5", KeyHouse: "Hufflepuff"})
	h := newHarness(t, s)
	h.ready(t)

	snap, err := h.e.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Harry", snap.UserName)
	assert.Equal(t, content.Hufflepuff, snap.House)
	assert.Equal(t, 5, snap.Rewards)
	assert.Len(t, snap.Decrees.Items, 5)
	assert.Len(t, snap.Quidditch.Scores, 4)
	assert.True(t, snap.Visible)

	b, err := json.Marshal(snap)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"periodKey":"2024-5-2"`)
}

type countingRecorder struct {
	nopRecorder
	regen *int
}

func (c countingRecorder) RecordRegeneration(feature string) {
	if feature == "decrees" {
		*c.regen++
	}
}
