package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/grimoire/internal/content"
	gerrors "github.com/p-blackswan/grimoire/internal/errors"
	"github.com/p-blackswan/grimoire/internal/retry"
	"github.com/p-blackswan/grimoire/internal/store"
)

// CredentialKey is the durable store key holding the user's API key.
const CredentialKey = "geminiApiKey"

// Call site names, used for metrics and logs.
const (
	CallSorting = "sorting"
	CallOwl     = "owl"
	CallPet     = "pet"
)

// Canned replies used whenever the service cannot answer.
const (
	FallbackOwlNoKey   = "The owl huffs, unable to find the path. The Headmaster's secret key is required for this magic."
	FallbackOwlError   = "The owl returned without an answer. Perhaps the skies are too stormy for flying today."
	FallbackSortReason = "The Sorting Hat mumbles something about a nap, but it has sensed great loyalty and a kind heart in you. Better be... HUFFLEPUFF!"
)

var errNoCredential = errors.New("oracle: no credential configured")

// Credentials resolves the API key at call time.
type Credentials interface {
	APIKey(ctx context.Context) (string, error)
}

// StoreCredentials reads the API key from the durable store on every call.
type StoreCredentials struct {
	Store store.Store
	Key   string
}

func (c StoreCredentials) APIKey(ctx context.Context) (string, error) {
	key := c.Key
	if key == "" {
		key = CredentialKey
	}
	v, ok, err := c.Store.Get(ctx, key)
	if err != nil || !ok {
		return "", err
	}
	return strings.TrimSpace(v), nil
}

// Recorder receives one observation per call. *metrics.Metrics satisfies it.
type Recorder interface {
	RecordOracleCall(call string, fallback bool)
}

// SortingResult is the Sorting Hat's structured decision.
type SortingResult struct {
	House     content.House `json:"house"`
	Reasoning string        `json:"reasoning"`
}

// FallbackSorting is the decision used when the service cannot decide.
func FallbackSorting() SortingResult {
	return SortingResult{House: content.Hufflepuff, Reasoning: FallbackSortReason}
}

// FallbackPetReply is the reply used when the service cannot answer for a pet.
func FallbackPetReply(c content.Creature) string {
	return fmt.Sprintf("*%s tilts its head at you, lost in its own thoughts.*", c.Name)
}

// Option configures an Oracle.
type Option func(*Oracle)

func WithRetry(cfg retry.Config) Option {
	return func(o *Oracle) { o.retry = cfg }
}

// WithTimeout bounds a single call including retries.
func WithTimeout(d time.Duration) Option {
	return func(o *Oracle) { o.timeout = d }
}

func WithRecorder(r Recorder) Option {
	return func(o *Oracle) { o.recorder = r }
}

// Oracle answers the engine's generative questions, falling back to canned
// replies on any failure.
type Oracle struct {
	factory  Factory
	creds    Credentials
	retry    retry.Config
	timeout  time.Duration
	recorder Recorder
	logger   zerolog.Logger
}

// New creates an Oracle. A nil factory disables the service entirely.
func New(factory Factory, creds Credentials, logger zerolog.Logger, opts ...Option) *Oracle {
	o := &Oracle{
		factory: factory,
		creds:   creds,
		retry:   retry.DefaultConfig(),
		timeout: 20 * time.Second,
		logger:  logger.With().Str("component", "oracle").Logger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Oracle) complete(ctx context.Context, call string, req Request) (string, error) {
	if o.factory == nil || o.creds == nil {
		return "", errNoCredential
	}
	key, err := o.creds.APIKey(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve credential: %w", err)
	}
	if key == "" {
		return "", errNoCredential
	}
	provider := o.factory(key)

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	cfg := o.retry
	cfg.OnRetry = func(attempt int, delay time.Duration, err error) {
		o.logger.Debug().Err(err).Str("call", call).Int("attempt", attempt).Dur("delay", delay).Msg("retrying oracle call")
	}

	var text string
	err = retry.Do(ctx, cfg, func(ctx context.Context) error {
		resp, err := provider.Complete(ctx, req)
		if err != nil {
			return err
		}
		text = strings.TrimSpace(resp.Text)
		return nil
	})
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", fmt.Errorf("%s: empty reply", provider.Name())
	}
	return text, nil
}

func (o *Oracle) observe(call string, err error) {
	if o.recorder != nil {
		o.recorder.RecordOracleCall(call, err != nil)
	}
	if err == nil {
		return
	}
	ev := o.logger.Warn()
	if errors.Is(err, errNoCredential) {
		ev = o.logger.Debug()
	}
	ev.Err(err).Str("call", call).Msg("oracle fell back to canned reply")
}

var sortingSchema = json.RawMessage(`{
  "type": "OBJECT",
  "properties": {
    "house": {"type": "STRING", "enum": ["Gryffindor", "Slytherin", "Ravenclaw", "Hufflepuff"]},
    "reasoning": {"type": "STRING"}
  },
  "required": ["house", "reasoning"]
}`)

// SortingDecision asks the Sorting Hat to place the user from their quiz
// answers. The result always names a valid house.
func (o *Oracle) SortingDecision(ctx context.Context, userName string, answers []string) SortingResult {
	prompt := fmt.Sprintf("%s answered the sorting quiz as follows:\n- %s\nChoose their house and explain why in two or three whimsical sentences.",
		userName, strings.Join(answers, "\n- "))
	text, err := o.complete(ctx, CallSorting, Request{
		SystemPrompt: "You are the Sorting Hat of Hogwarts School of Witchcraft and Wizardry.",
		Messages:     []Message{{Role: RoleUser, Content: prompt}},
		Schema:       sortingSchema,
		Temperature:  0.8,
	})
	var res SortingResult
	if err == nil {
		res, err = parseSorting(text)
	}
	o.observe(CallSorting, err)
	if err != nil {
		return FallbackSorting()
	}
	return res
}

func parseSorting(text string) (SortingResult, error) {
	start, end := strings.Index(text, "{"), strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return SortingResult{}, fmt.Errorf("sorting: no JSON object in reply")
	}
	var res SortingResult
	if err := json.Unmarshal([]byte(text[start:end+1]), &res); err != nil {
		return SortingResult{}, fmt.Errorf("sorting: %w", err)
	}
	switch res.House {
	case content.Gryffindor, content.Slytherin, content.Ravenclaw, content.Hufflepuff:
	default:
		return SortingResult{}, fmt.Errorf("sorting: unknown house %q: %w", res.House, gerrors.ErrInvalidInput)
	}
	if strings.TrimSpace(res.Reasoning) == "" {
		return SortingResult{}, fmt.Errorf("sorting: empty reasoning: %w", gerrors.ErrInvalidInput)
	}
	return res, nil
}

// OwlAnswer sends a question by owl post.
func (o *Oracle) OwlAnswer(ctx context.Context, question string) string {
	text, err := o.complete(ctx, CallOwl, Request{
		SystemPrompt: "You are a wise owl from the Hogwarts Owlery. Answer questions about the wizarding world briefly and in character.",
		Messages:     []Message{{Role: RoleUser, Content: question}},
		Temperature:  0.7,
	})
	o.observe(CallOwl, err)
	switch {
	case errors.Is(err, errNoCredential):
		return FallbackOwlNoKey
	case err != nil:
		return FallbackOwlError
	}
	return text
}

// PetReply asks the creature to respond to message, given the conversation
// so far.
func (o *Oracle) PetReply(ctx context.Context, c content.Creature, userName, message string, history []Message) string {
	msgs := make([]Message, 0, len(history)+1)
	msgs = append(msgs, history...)
	msgs = append(msgs, Message{Role: RoleUser, Content: message})

	text, err := o.complete(ctx, CallPet, Request{
		SystemPrompt: fmt.Sprintf("You are %s, a %s and the magical companion of %s. Personality: %s Reply in one or two short sentences, in character, using *asterisks* for actions.",
			c.Name, c.Species, userName, c.Personality),
		Messages:    msgs,
		MaxTokens:   200,
		Temperature: 0.9,
	})
	o.observe(CallPet, err)
	if err != nil {
		return FallbackPetReply(c)
	}
	return text
}
