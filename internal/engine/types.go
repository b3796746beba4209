package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/p-blackswan/grimoire/internal/content"
	"github.com/p-blackswan/grimoire/internal/oracle"
)

// dateLayout matches the browser's Date.toDateString, used for journal and
// mood dates.
const dateLayout = "Mon Jan 02 2006"

// Energy bounds for the adopted creature.
const (
	MinEnergy = 0
	MaxEnergy = 100
)

// JournalEntry is one diary page.
type JournalEntry struct {
	ID      int64  `json:"id"`
	Date    string `json:"date"`
	Content string `json:"content"`
	Mood    string `json:"mood"`
}

// Task is one Remembrall to-do.
type Task struct {
	ID        int64  `json:"id"`
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
}

// Mood is the potion chosen for one calendar day.
type Mood struct {
	Date   string `json:"date"`
	Potion string `json:"potion"`
	Color  string `json:"color"`
}

// CreatureState is the adopted pet.
type CreatureState struct {
	ID         string    `json:"id"`
	Energy     int       `json:"energy"`
	AdoptedAt  time.Time `json:"adoptedAt"`
	LastFed    time.Time `json:"lastFed,omitempty"`
	LastPlayed time.Time `json:"lastPlayed,omitempty"`
}

// Preferences are the user's UI toggles.
type Preferences struct {
	SoundEnabled      bool `json:"soundEnabled"`
	AnimationsEnabled bool `json:"animationsEnabled"`
}

// DefaultPreferences has everything enabled.
func DefaultPreferences() Preferences {
	return Preferences{SoundEnabled: true, AnimationsEnabled: true}
}

// Spawn is a visible ephemeral reward.
type Spawn struct {
	ID        string    `json:"id"`
	Magnitude int       `json:"magnitude"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	ShownAt   time.Time `json:"shownAt"`
	HidesAt   time.Time `json:"hidesAt"`
}

// ClaimResult is returned by ClaimSpawn.
type ClaimResult struct {
	Reward  int    `json:"reward"`
	Balance int    `json:"balance"`
	Fact    string `json:"fact"`
}

// ExamQuestion is a question as shown to the user, without its answer.
type ExamQuestion struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

// Exam is an in-progress attempt.
type Exam struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Questions []ExamQuestion `json:"questions"`
	StartedAt time.Time      `json:"startedAt"`

	answers []string
}

// ExamResult is the outcome of SubmitExam.
type ExamResult struct {
	Score         int       `json:"score"`
	Total         int       `json:"total"`
	Passed        bool      `json:"passed"`
	Reward        int       `json:"reward"`
	HousePoints   int       `json:"housePoints"`
	CooldownUntil time.Time `json:"cooldownUntil"`
}

// MatchResult is the outcome of PlayMatch.
type MatchResult struct {
	Fee        int `json:"fee"`
	Score      int `json:"score"`
	Reward     int `json:"reward"`
	Balance    int `json:"balance"`
	PlaysToday int `json:"playsToday"`
}

// Standings is the current Quidditch tournament.
type Standings struct {
	Scores     map[content.House]int `json:"scores"`
	LastWinner content.House         `json:"lastWinner,omitempty"`
	Countdown  string                `json:"countdown"`
	PlaysToday int                   `json:"playsToday"`
	NextFee    int                   `json:"nextFee"`
	StartedAt  time.Time             `json:"startedAt"`
}

// DecreeState is today's decree set plus whether its reward was paid.
type DecreeState struct {
	content.Set
	Rewarded bool `json:"rewarded"`
}

// MarshalJSON keeps the period key visible to API clients.
func (d DecreeState) MarshalJSON() ([]byte, error) {
	type view struct {
		PeriodKey string         `json:"periodKey"`
		Items     []content.Item `json:"items"`
		Rewarded  bool           `json:"rewarded"`
	}
	items := d.Items
	if items == nil {
		items = []content.Item{}
	}
	return json.Marshal(view{PeriodKey: string(d.PeriodKey), Items: items, Rewarded: d.Rewarded})
}

// ToggleResult is returned by ToggleDecree.
type ToggleResult struct {
	Decrees DecreeState `json:"decrees"`
	Reward  int         `json:"reward"`
}

// ChatResult is a creature interaction and the pet's reply.
type ChatResult struct {
	Reply    string         `json:"reply"`
	Creature *CreatureState `json:"creature"`
	Balance  int            `json:"balance"`
}

// Snapshot is a read-only copy of the whole engine state.
type Snapshot struct {
	UserName        string                `json:"userName"`
	House           content.House         `json:"house,omitempty"`
	Journal         []JournalEntry        `json:"journal"`
	Tasks           []Task                `json:"tasks"`
	Moods           []Mood                `json:"moods"`
	Rewards         int                   `json:"rewards"`
	Purchases       map[string]int        `json:"purchases"`
	Food            map[string]int        `json:"food"`
	Creature        *CreatureState        `json:"creature"`
	HousePoints     map[content.House]int `json:"housePoints"`
	Decrees         DecreeState           `json:"decrees"`
	Quidditch       Standings             `json:"quidditch"`
	ExamCooldownEnd time.Time             `json:"examCooldownUntil"`
	Preferences     Preferences           `json:"preferences"`
	Spawn           *Spawn                `json:"spawn"`
	ChatHistory     []oracle.Message      `json:"chatHistory"`
	Visible         bool                  `json:"visible"`
	DialogOpen      bool                  `json:"dialogOpen"`
	Hydration       HydrationReport       `json:"hydration"`
}

var errNilCollection = errors.New("null collection")

func nonNilSlice[T any](s []T) error {
	if s == nil {
		return errNilCollection
	}
	return nil
}

func countMap[K comparable](m map[K]int) error {
	if m == nil {
		return errNilCollection
	}
	for k, v := range m {
		if v < 0 {
			return fmt.Errorf("negative count %d for %v", v, k)
		}
	}
	return nil
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func clampEnergy(n int) int {
	return max(MinEnergy, min(MaxEnergy, n))
}
