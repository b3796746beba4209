package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

const (
	geminiAPIBase      = "https://generativelanguage.googleapis.com/v1beta"
	geminiDefaultModel = "gemini-2.5-flash"
)

// GeminiProvider implements Provider using the generateContent REST API.
type GeminiProvider struct {
	apiKey string
	cfg    httpConfig
}

// NewGeminiProvider constructs a Gemini provider for apiKey.
func NewGeminiProvider(apiKey string, opts ...HTTPOption) *GeminiProvider {
	return &GeminiProvider{
		apiKey: apiKey,
		cfg:    newHTTPConfig(geminiAPIBase, geminiDefaultModel, opts),
	}
}

func (p *GeminiProvider) Name() string { return ProviderGemini }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature      float64         `json:"temperature,omitempty"`
	MaxOutputTokens  int             `json:"maxOutputTokens,omitempty"`
	ResponseMIMEType string          `json:"responseMimeType,omitempty"`
	ResponseSchema   json.RawMessage `json:"responseSchema,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent        `json:"contents"`
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

func (p *GeminiProvider) buildRequest(req Request) geminiRequest {
	gr := geminiRequest{
		GenerationConfig: geminiGenerationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: p.cfg.maxTokens,
		},
	}
	if req.MaxTokens > 0 {
		gr.GenerationConfig.MaxOutputTokens = req.MaxTokens
	}
	if len(req.Schema) > 0 {
		gr.GenerationConfig.ResponseMIMEType = "application/json"
		gr.GenerationConfig.ResponseSchema = req.Schema
	}
	if req.SystemPrompt != "" {
		gr.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.SystemPrompt}}}
	}
	for _, m := range req.Messages {
		role := RoleUser
		if m.Role == RoleModel {
			role = RoleModel
		}
		gr.Contents = append(gr.Contents, geminiContent{Role: role, Parts: []geminiPart{{Text: m.Content}}})
	}
	return gr
}

// Complete sends a blocking generateContent request.
func (p *GeminiProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	gr := p.buildRequest(req)
	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		strings.TrimRight(p.cfg.baseURL, "/"), p.cfg.model, url.QueryEscape(p.apiKey))

	var resp geminiResponse
	if err := p.cfg.postJSON(ctx, ProviderGemini, endpoint, nil, gr, &resp); err != nil {
		return nil, err
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("gemini: empty candidate list")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	out := &Response{
		Text:         sb.String(),
		InputTokens:  resp.UsageMetadata.PromptTokenCount,
		OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
	}

	p.cfg.logger.Debug().
		Str("model", p.cfg.model).
		Str("finish_reason", resp.Candidates[0].FinishReason).
		Int("in_tokens", out.InputTokens).
		Int("out_tokens", out.OutputTokens).
		Msg("gemini complete")
	return out, nil
}
