package oracle

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/grimoire/internal/content"
	gerrors "github.com/p-blackswan/grimoire/internal/errors"
	"github.com/p-blackswan/grimoire/internal/retry"
	"github.com/p-blackswan/grimoire/internal/store"
)

type staticKey string

func (k staticKey) APIKey(context.Context) (string, error) { return string(k), nil }

type countingRecorder struct {
	ok, fallback atomic.Int32
}

func (r *countingRecorder) RecordOracleCall(_ string, fallback bool) {
	if fallback {
		r.fallback.Add(1)
	} else {
		r.ok.Add(1)
	}
}

func geminiServer(t *testing.T, handler func(w http.ResponseWriter, body geminiRequest)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.True(t, strings.HasSuffix(r.URL.Path, ":generateContent"), r.URL.Path)
		assert.Equal(t, "secret", r.URL.Query().Get("key"))
		var body geminiRequest
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))
		handler(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func geminiReply(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"candidates": []any{map[string]any{
			"content":      map[string]any{"role": "model", "parts": []any{map[string]any{"text": text}}},
			"finishReason": "STOP",
		}},
	})
}

func fastRetry() retry.Config {
	return retry.Config{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
}

func newGeminiOracle(t *testing.T, url string, creds Credentials, opts ...Option) *Oracle {
	t.Helper()
	factory, err := NewFactory(FactoryOptions{Provider: ProviderGemini, BaseURL: url})
	require.NoError(t, err)
	return New(factory, creds, zerolog.Nop(), append([]Option{WithRetry(fastRetry())}, opts...)...)
}

func TestOwlAnswer_NoCredential(t *testing.T) {
	rec := &countingRecorder{}
	o := newGeminiOracle(t, "http://127.0.0.1:1", staticKey(""), WithRecorder(rec))
	assert.Equal(t, FallbackOwlNoKey, o.OwlAnswer(context.Background(), "Where is the Room of Requirement?"))
	assert.Equal(t, int32(1), rec.fallback.Load())
}

func TestOwlAnswer_NilFactory(t *testing.T) {
	o := New(nil, staticKey("secret"), zerolog.Nop())
	assert.Equal(t, FallbackOwlNoKey, o.OwlAnswer(context.Background(), "hello"))
}

func TestOwlAnswer_Success(t *testing.T) {
	srv := geminiServer(t, func(w http.ResponseWriter, body geminiRequest) {
		require.Len(t, body.Contents, 1)
		assert.Equal(t, "Who founded Ravenclaw?", body.Contents[0].Parts[0].Text)
		require.NotNil(t, body.SystemInstruction)
		geminiReply(w, "  Rowena Ravenclaw, of course.  ")
	})
	rec := &countingRecorder{}
	o := newGeminiOracle(t, srv.URL, staticKey("secret"), WithRecorder(rec))
	assert.Equal(t, "Rowena Ravenclaw, of course.", o.OwlAnswer(context.Background(), "Who founded Ravenclaw?"))
	assert.Equal(t, int32(1), rec.ok.Load())
}

func TestOwlAnswer_ServerErrorRetriesThenFallsBack(t *testing.T) {
	var hits atomic.Int32
	srv := geminiServer(t, func(w http.ResponseWriter, _ geminiRequest) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	o := newGeminiOracle(t, srv.URL, staticKey("secret"))
	assert.Equal(t, FallbackOwlError, o.OwlAnswer(context.Background(), "?"))
	assert.Equal(t, int32(2), hits.Load())
}

func TestOwlAnswer_AuthFailureNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := geminiServer(t, func(w http.ResponseWriter, _ geminiRequest) {
		hits.Add(1)
		w.WriteHeader(http.StatusForbidden)
	})
	o := newGeminiOracle(t, srv.URL, staticKey("secret"))
	assert.Equal(t, FallbackOwlError, o.OwlAnswer(context.Background(), "?"))
	assert.Equal(t, int32(1), hits.Load())
}

func TestSortingDecision(t *testing.T) {
	srv := geminiServer(t, func(w http.ResponseWriter, body geminiRequest) {
		assert.Equal(t, "application/json", body.GenerationConfig.ResponseMIMEType)
		assert.NotEmpty(t, body.GenerationConfig.ResponseSchema)
		geminiReply(w, `{"house":"Ravenclaw","reasoning":"A mind for riddles."}`)
	})
	o := newGeminiOracle(t, srv.URL, staticKey("secret"))
	res := o.SortingDecision(context.Background(), "Luna", []string{"wise", "wise", "brave"})
	assert.Equal(t, content.Ravenclaw, res.House)
	assert.Equal(t, "A mind for riddles.", res.Reasoning)
}

func TestSortingDecision_InvalidHouseFallsBack(t *testing.T) {
	srv := geminiServer(t, func(w http.ResponseWriter, _ geminiRequest) {
		geminiReply(w, `{"house":"Durmstrang","reasoning":"Cold."}`)
	})
	o := newGeminiOracle(t, srv.URL, staticKey("secret"))
	assert.Equal(t, FallbackSorting(), o.SortingDecision(context.Background(), "Viktor", nil))
}

func TestSortingDecision_NoCredential(t *testing.T) {
	o := newGeminiOracle(t, "http://127.0.0.1:1", staticKey(""))
	res := o.SortingDecision(context.Background(), "Neville", []string{"loyal"})
	assert.Equal(t, content.Hufflepuff, res.House)
	assert.Equal(t, FallbackSortReason, res.Reasoning)
}

func TestParseSorting(t *testing.T) {
	res, err := parseSorting("```json\n{\"house\":\"Slytherin\",\"reasoning\":\"Ambition.\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, content.Slytherin, res.House)

	_, err = parseSorting("no json here")
	assert.Error(t, err)

	_, err = parseSorting(`{"house":"Gryffindor","reasoning":"  "}`)
	assert.ErrorIs(t, err, gerrors.ErrInvalidInput)
}

func TestPetReply_HistoryAndFallback(t *testing.T) {
	hedwig := content.Creature{ID: "owl", Name: "Hedwig", Species: "Snowy Owl", Personality: "Proud."}
	srv := geminiServer(t, func(w http.ResponseWriter, body geminiRequest) {
		require.Len(t, body.Contents, 3)
		assert.Equal(t, RoleModel, body.Contents[1].Role)
		assert.Contains(t, body.SystemInstruction.Parts[0].Text, "Hedwig")
		geminiReply(w, "*hoots approvingly*")
	})
	o := newGeminiOracle(t, srv.URL, staticKey("secret"))
	history := []Message{{Role: RoleUser, Content: "hi"}, {Role: RoleModel, Content: "*hoot*"}}
	assert.Equal(t, "*hoots approvingly*", o.PetReply(context.Background(), hedwig, "Harry", "good girl", history))

	off := newGeminiOracle(t, "http://127.0.0.1:1", staticKey(""))
	assert.Equal(t, FallbackPetReply(hedwig), off.PetReply(context.Background(), hedwig, "Harry", "hi", nil))
}

func TestAnthropicProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicAPIVersion, r.Header.Get("anthropic-version"))

		var body anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Messages, 2)
		assert.Equal(t, "assistant", body.Messages[1].Role)
		assert.Contains(t, body.System, "JSON object")

		_ = json.NewEncoder(w).Encode(map[string]any{
			"content":     []any{map[string]any{"type": "text", "text": "ok"}},
			"stop_reason": "end_turn",
			"usage":       map[string]any{"input_tokens": 3, "output_tokens": 1},
		})
	}))
	defer srv.Close()

	p := NewAnthropicProvider("secret", WithBaseURL(srv.URL), WithModel("test-model"))
	resp, err := p.Complete(context.Background(), Request{
		SystemPrompt: "sys",
		Messages:     []Message{{Role: RoleUser, Content: "a"}, {Role: RoleModel, Content: "b"}},
		Schema:       json.RawMessage(`{"type":"object"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, 3, resp.InputTokens)
	assert.Equal(t, ProviderAnthropic, p.Name())
}

func TestProviderRateLimitIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewGeminiProvider("k", WithBaseURL(srv.URL)).Complete(context.Background(), Request{})
	require.Error(t, err)
	assert.ErrorIs(t, err, gerrors.ErrRateLimit)
	assert.True(t, gerrors.IsRetryable(err))
}

func TestNewFactory(t *testing.T) {
	f, err := NewFactory(FactoryOptions{Provider: "none"})
	require.NoError(t, err)
	assert.Nil(t, f)

	f, err = NewFactory(FactoryOptions{Provider: "anthropic"})
	require.NoError(t, err)
	assert.Equal(t, ProviderAnthropic, f("k").Name())

	_, err = NewFactory(FactoryOptions{Provider: "crystal-ball"})
	assert.Error(t, err)
}

func TestStoreCredentials(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	creds := StoreCredentials{Store: s}

	key, err := creds.APIKey(ctx)
	require.NoError(t, err)
	assert.Empty(t, key)

	require.NoError(t, s.Set(ctx, CredentialKey, " abc \n"))
	key, err = creds.APIKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc", key)
}
