package oracle

import (
	"context"
	"fmt"
	"strings"
)

const (
	anthropicAPIBase      = "https://api.anthropic.com/v1"
	anthropicAPIVersion   = "2023-06-01"
	anthropicDefaultModel = "claude-sonnet-4-5"
)

// AnthropicProvider implements Provider using the Anthropic Messages API.
type AnthropicProvider struct {
	apiKey string
	cfg    httpConfig
}

// NewAnthropicProvider constructs an Anthropic provider for apiKey.
func NewAnthropicProvider(apiKey string, opts ...HTTPOption) *AnthropicProvider {
	return &AnthropicProvider{
		apiKey: apiKey,
		cfg:    newHTTPConfig(anthropicAPIBase, anthropicDefaultModel, opts),
	}
}

func (p *AnthropicProvider) Name() string { return ProviderAnthropic }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature,omitempty"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (p *AnthropicProvider) buildRequest(req Request) anthropicRequest {
	ar := anthropicRequest{
		Model:       p.cfg.model,
		MaxTokens:   p.cfg.maxTokens,
		System:      req.SystemPrompt,
		Temperature: req.Temperature,
	}
	if req.MaxTokens > 0 {
		ar.MaxTokens = req.MaxTokens
	}
	// The Messages API has no response schema; ask for it in the system prompt.
	if len(req.Schema) > 0 {
		ar.System = strings.TrimSpace(ar.System + "\n\nRespond with a single JSON object matching this schema and nothing else:\n" + string(req.Schema))
	}
	for _, m := range req.Messages {
		role := "user"
		if m.Role == RoleModel {
			role = "assistant"
		}
		ar.Messages = append(ar.Messages, anthropicMessage{Role: role, Content: m.Content})
	}
	return ar
}

// Complete sends a blocking Messages API request.
func (p *AnthropicProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	ar := p.buildRequest(req)
	headers := map[string]string{
		"x-api-key":         p.apiKey,
		"anthropic-version": anthropicAPIVersion,
	}

	var resp anthropicResponse
	endpoint := strings.TrimRight(p.cfg.baseURL, "/") + "/messages"
	if err := p.cfg.postJSON(ctx, ProviderAnthropic, endpoint, headers, ar, &resp); err != nil {
		return nil, err
	}

	out := &Response{
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}
	for _, block := range resp.Content {
		if block.Type == "text" {
			out.Text += block.Text
		}
	}
	if out.Text == "" {
		return nil, fmt.Errorf("anthropic: no text content (stop_reason %s)", resp.StopReason)
	}

	p.cfg.logger.Debug().
		Str("model", ar.Model).
		Str("stop_reason", resp.StopReason).
		Int("in_tokens", out.InputTokens).
		Int("out_tokens", out.OutputTokens).
		Msg("anthropic complete")
	return out, nil
}
