package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/grimoire/internal/period"
	"github.com/p-blackswan/grimoire/internal/store"
)

// State is an entity's position in the hydration state machine.
type State string

const (
	StateUnloaded State = "unloaded"
	StateLoading  State = "loading"
	// StateValid: the stored value decoded and validated.
	StateValid State = "valid"
	// StateDefault: the key was absent and the lazy default applies; nothing
	// was written.
	StateDefault State = "default"
	// StateReset: the stored value was corrupt and the default was persisted
	// over it.
	StateReset State = "reset"
)

// Entity is one durable value registered with the engine.
type Entity interface {
	Name() string
	Key() string
	State() State
	// Decode replaces the in-memory value from raw. On error the value is
	// left untouched.
	Decode(raw string) error
	Encode() (string, error)
	// Reset restores the default value.
	Reset()

	setState(State)
}

// Value is an Entity holding a T.
type Value[T any] struct {
	name   string
	key    string
	def    func() T
	decode func(string) (T, error)
	encode func(T) (string, error)

	value T
	state State
}

func newValue[T any](name, key string, def func() T, decode func(string) (T, error), encode func(T) (string, error)) *Value[T] {
	return &Value[T]{
		name:   name,
		key:    key,
		def:    def,
		decode: decode,
		encode: encode,
		value:  def(),
		state:  StateUnloaded,
	}
}

// JSONEntity stores T as JSON. validate, when set, rejects decoded values of
// the wrong shape.
func JSONEntity[T any](name, key string, def func() T, validate func(T) error) *Value[T] {
	decode := func(raw string) (T, error) {
		var v T
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return v, err
		}
		if validate != nil {
			if err := validate(v); err != nil {
				return v, err
			}
		}
		return v, nil
	}
	encode := func(v T) (string, error) {
		b, err := json.Marshal(v)
		return string(b), err
	}
	return newValue(name, key, def, decode, encode)
}

// RawEntity stores T as a bare string using parse and format.
func RawEntity[T any](name, key string, def func() T, parse func(string) (T, error), format func(T) string) *Value[T] {
	encode := func(v T) (string, error) { return format(v), nil }
	return newValue(name, key, def, parse, encode)
}

// IntEntity stores a non-negative integer as decimal text.
func IntEntity(name, key string) *Value[int] {
	return RawEntity(name, key, func() int { return 0 },
		func(raw string) (int, error) {
			n, err := strconv.Atoi(strings.TrimSpace(raw))
			if err != nil {
				return 0, err
			}
			if n < 0 {
				return 0, fmt.Errorf("negative value %d", n)
			}
			return n, nil
		},
		strconv.Itoa)
}

// TimeEntity stores an instant as RFC 3339 text; the zero time means unset.
func TimeEntity(name, key string) *Value[time.Time] {
	return RawEntity(name, key, func() time.Time { return time.Time{} }, period.ParseTime, period.FormatTime)
}

// StringEntity stores a bare string, accepted when allowed returns true.
func StringEntity(name, key string, allowed func(string) bool) *Value[string] {
	return RawEntity(name, key, func() string { return "" },
		func(raw string) (string, error) {
			if allowed != nil && !allowed(raw) {
				return "", fmt.Errorf("unexpected value %q", raw)
			}
			return raw, nil
		},
		func(s string) string { return s })
}

func (v *Value[T]) Name() string            { return v.name }
func (v *Value[T]) Key() string             { return v.key }
func (v *Value[T]) State() State            { return v.state }
func (v *Value[T]) setState(s State)        { v.state = s }
func (v *Value[T]) Get() T                  { return v.value }
func (v *Value[T]) Set(x T)                 { v.value = x }
func (v *Value[T]) Encode() (string, error) { return v.encode(v.value) }
func (v *Value[T]) Reset()                  { v.value = v.def() }

func (v *Value[T]) Decode(raw string) error {
	x, err := v.decode(raw)
	if err != nil {
		return fmt.Errorf("decode %s: %w", v.name, err)
	}
	v.value = x
	return nil
}

// Recorder receives engine observations. *metrics.Metrics satisfies it.
type Recorder interface {
	RecordHydration(entity, outcome string)
	RecordRegeneration(feature string)
	RecordFlush(entity string)
	SetLedgerBalance(n int)
	SetCreatureEnergy(n int)
}

type nopRecorder struct{}

func (nopRecorder) RecordHydration(string, string) {}
func (nopRecorder) RecordRegeneration(string)      {}
func (nopRecorder) RecordFlush(string)             {}
func (nopRecorder) SetLedgerBalance(int)           {}
func (nopRecorder) SetCreatureEnergy(int)          {}

// Registry is the ordered set of entities the engine hydrates and flushes.
type Registry struct {
	entities []Entity
	byName   map[string]Entity
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Entity)}
}

// Add registers entities. Names and keys must be unique.
func (r *Registry) Add(entities ...Entity) {
	for _, e := range entities {
		if _, dup := r.byName[e.Name()]; dup {
			panic(fmt.Sprintf("engine: duplicate entity %q", e.Name()))
		}
		r.byName[e.Name()] = e
		r.entities = append(r.entities, e)
	}
}

// Lookup returns the entity registered under name.
func (r *Registry) Lookup(name string) (Entity, bool) {
	e, ok := r.byName[name]
	return e, ok
}

// Entities returns entities in registration order.
func (r *Registry) Entities() []Entity {
	return r.entities
}

// HydrationReport records the terminal state of every entity.
type HydrationReport struct {
	States map[string]State `json:"states"`
	Resets []string         `json:"resets,omitempty"`
}

// Hydrate loads every entity from s. A value that fails to decode is reset
// to its default and the default is persisted; other entities are not
// affected. Only store I/O errors are returned.
func (r *Registry) Hydrate(ctx context.Context, s store.Store, rec Recorder, logger zerolog.Logger) (HydrationReport, error) {
	report := HydrationReport{States: make(map[string]State, len(r.entities))}
	for _, e := range r.entities {
		e.setState(StateLoading)

		raw, ok, err := s.Get(ctx, e.Key())
		if err != nil {
			e.setState(StateUnloaded)
			return report, fmt.Errorf("hydrate %s: %w", e.Name(), err)
		}

		switch {
		case !ok:
			e.Reset()
			e.setState(StateDefault)
		default:
			derr := e.Decode(raw)
			if derr == nil {
				e.setState(StateValid)
				break
			}
			logger.Warn().Err(derr).Str("entity", e.Name()).Str("key", e.Key()).Msg("corrupt entity reset to default")
			e.Reset()
			enc, err := e.Encode()
			if err != nil {
				return report, fmt.Errorf("encode default %s: %w", e.Name(), err)
			}
			if err := s.Set(ctx, e.Key(), enc); err != nil {
				return report, fmt.Errorf("persist default %s: %w", e.Name(), err)
			}
			e.setState(StateReset)
			report.Resets = append(report.Resets, e.Name())
		}

		report.States[e.Name()] = e.State()
		rec.RecordHydration(e.Name(), string(e.State()))
	}
	return report, nil
}

// flush persists one entity.
func flush(ctx context.Context, s store.Store, rec Recorder, e Entity) error {
	enc, err := e.Encode()
	if err != nil {
		return fmt.Errorf("encode %s: %w", e.Name(), err)
	}
	if err := s.Set(ctx, e.Key(), enc); err != nil {
		return fmt.Errorf("flush %s: %w", e.Name(), err)
	}
	rec.RecordFlush(e.Name())
	return nil
}
