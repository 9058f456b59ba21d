package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Request is a single chat completion call.
type Request struct {
	Model       string
	System      string
	Prompt      string
	JSON        bool
	Temperature float64
	MaxTokens   int
}

// Response carries the first choice and token usage.
type Response struct {
	Content      string
	Model        string
	InputTokens  int64
	OutputTokens int64
}

// Provider generates completions.
type Provider interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, req Request) (Response, error)

func (f ProviderFunc) Complete(ctx context.Context, req Request) (Response, error) { return f(ctx, req) }

// OpenAIOptions configures an OpenAI-compatible endpoint.
type OpenAIOptions struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
}

// OpenAIProvider talks to any /chat/completions compatible API.
type OpenAIProvider struct {
	apiKey  string
	baseURL string
	http    *HTTPClient
}

func NewOpenAIProvider(opts OpenAIOptions) *OpenAIProvider {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAIProvider{
		apiKey:  opts.APIKey,
		baseURL: baseURL,
		http:    NewHTTPClient(opts.Timeout, opts.MaxRetries, 0),
	}
}

type chatMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatReq struct {
	Model          string          `json:"model"`
	Messages       []chatMsg       `json:"messages"`
	Temperature    float64         `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResp struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Complete sends the request and returns the first choice.
func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (Response, error) {
	if p.apiKey == "" {
		return Response{}, fmt.Errorf("OpenAI API key not configured")
	}
	if req.Model == "" {
		return Response{}, fmt.Errorf("model is required")
	}
	var msgs []chatMsg
	if req.System != "" {
		msgs = append(msgs, chatMsg{Role: "system", Content: req.System})
	}
	msgs = append(msgs, chatMsg{Role: "user", Content: req.Prompt})
	body := chatReq{
		Model:       req.Model,
		Messages:    msgs,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.JSON {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	var out chatResp
	headers := map[string]string{"Authorization": "Bearer " + p.apiKey}
	if err := p.http.DoJSON(ctx, "POST", p.baseURL+"/chat/completions", headers, body, &out); err != nil {
		return Response{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(out.Choices) == 0 {
		return Response{}, fmt.Errorf("no choices")
	}
	model := out.Model
	if model == "" {
		model = req.Model
	}
	return Response{
		Content:      out.Choices[0].Message.Content,
		Model:        model,
		InputTokens:  int64(out.Usage.PromptTokens),
		OutputTokens: int64(out.Usage.CompletionTokens),
	}, nil
}
