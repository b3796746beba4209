// Package oracle is the boundary to the external generative-text service.
// Providers are interchangeable behind Provider; Oracle layers the canned
// in-universe fallbacks on top so callers never see a provider error.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Role constants for Message.Role.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Message is a single turn in a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the input to Provider.Complete.
type Request struct {
	SystemPrompt string
	Messages     []Message
	// Schema, when set, asks for a JSON object conforming to it.
	Schema      json.RawMessage
	MaxTokens   int
	Temperature float64
}

// Response is returned by Provider.Complete.
type Response struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// Provider is one generative-text backend bound to a credential.
type Provider interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	Name() string
}

// Factory builds a Provider for the credential resolved at call time.
type Factory func(apiKey string) Provider

// Provider names accepted by NewFactory.
const (
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"
	ProviderNone      = "none"
)

// FactoryOptions configures NewFactory.
type FactoryOptions struct {
	Provider string
	Model    string
	BaseURL  string
}

// NewFactory returns the Factory for a provider name. ProviderNone returns a
// nil Factory, which makes every Oracle call fall back.
func NewFactory(opts FactoryOptions, httpOpts ...HTTPOption) (Factory, error) {
	switch strings.ToLower(opts.Provider) {
	case ProviderGemini, "":
		return func(key string) Provider {
			all := append([]HTTPOption{WithModel(opts.Model), WithBaseURL(opts.BaseURL)}, httpOpts...)
			return NewGeminiProvider(key, all...)
		}, nil
	case ProviderAnthropic:
		return func(key string) Provider {
			all := append([]HTTPOption{WithModel(opts.Model), WithBaseURL(opts.BaseURL)}, httpOpts...)
			return NewAnthropicProvider(key, all...)
		}, nil
	case ProviderNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown oracle provider %q", opts.Provider)
	}
}
