package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
)

const DefaultHuggingFaceURL = "https://router.huggingface.co/v1"

// maxErrorBody bounds the response body kept in an HTTPError.
const maxErrorBody = 512

type HuggingFaceConfig struct {
	BaseURL string
	Model   string
	// Token is sent as a bearer token when non-empty.
	Token      string
	HTTPClient *http.Client
}

// HuggingFace is an llms.Model backed by an OpenAI compatible chat completions endpoint,
// by default the Hugging Face inference router.
type HuggingFace struct {
	config HuggingFaceConfig
	client *http.Client
}

var _ llms.Model = (*HuggingFace)(nil)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func NewHuggingFace(config HuggingFaceConfig) (*HuggingFace, error) {
	if config.Model == "" {
		return nil, fmt.Errorf("huggingface model is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultHuggingFaceURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	client := config.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	return &HuggingFace{
		config: config,
		client: client,
	}, nil
}

// Call implements llms.Model.
func (h *HuggingFace) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, h, prompt, options...)
}

// GenerateContent implements llms.Model.
func (h *HuggingFace) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.CallOptions{Model: h.config.Model}
	for _, opt := range options {
		opt(&opts)
	}

	req := chatRequest{
		Model:       opts.Model,
		Messages:    toChatMessages(messages),
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		Stop:        opts.StopWords,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.config.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if h.config.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+h.config.Token)
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Body:       truncate(strings.TrimSpace(string(payload)), maxErrorBody),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var out chatResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(out.Choices) == 0 || out.Choices[0].Message.Content == nil {
		return nil, fmt.Errorf("%w: missing choices[0].message.content", ErrMalformedResponse)
	}

	choices := make([]*llms.ContentChoice, 0, len(out.Choices))
	for _, c := range out.Choices {
		var content string
		if c.Message.Content != nil {
			content = *c.Message.Content
		}
		choices = append(choices, &llms.ContentChoice{
			Content:    content,
			StopReason: c.FinishReason,
		})
	}

	return &llms.ContentResponse{Choices: choices}, nil
}

func toChatMessages(messages []llms.MessageContent) []chatMessage {
	out := make([]chatMessage, 0, len(messages))
	for _, m := range messages {
		var text strings.Builder
		for _, part := range m.Parts {
			if tc, ok := part.(llms.TextContent); ok {
				text.WriteString(tc.Text)
			}
		}
		out = append(out, chatMessage{Role: roleOf(m.Role), Content: text.String()})
	}
	return out
}

func roleOf(t llms.ChatMessageType) string {
	switch t {
	case llms.ChatMessageTypeSystem:
		return "system"
	case llms.ChatMessageTypeAI:
		return "assistant"
	default:
		return "user"
	}
}

// parseRetryAfter understands both delay-seconds and HTTP-date forms.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
