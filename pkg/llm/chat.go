package llm

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

const (
	ProviderHuggingFace = "huggingface"
	ProviderOllama      = "ollama"

	DefaultOllamaURL = "http://localhost:11434"
)

// ChatConfig selects the generation backend.
type ChatConfig struct {
	Provider   string
	Model      string
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewChatModel builds the llms.Model for the configured provider.
func NewChatModel(config ChatConfig) (llms.Model, error) {
	switch config.Provider {
	case "", ProviderHuggingFace:
		return NewHuggingFace(HuggingFaceConfig{
			BaseURL:    config.BaseURL,
			Model:      config.Model,
			Token:      config.Token,
			HTTPClient: config.HTTPClient,
		})
	case ProviderOllama:
		if config.Model == "" {
			config.Model = "mistral"
		}
		if config.BaseURL == "" {
			config.BaseURL = DefaultOllamaURL
		}

		model, err := ollama.New(
			ollama.WithModel(config.Model),
			ollama.WithServerURL(config.BaseURL),
			ollama.WithHTTPClient(withStatusErrors(config.HTTPClient)),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize LLM: %w", err)
		}
		return model, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", config.Provider)
	}
}

// withStatusErrors returns a copy of client whose 4xx and 5xx responses fail with *HTTPError,
// so backends that only report a formatted status still classify like HuggingFace.
func withStatusErrors(client *http.Client) *http.Client {
	c := &http.Client{}
	if client != nil {
		*c = *client
	}
	c.Transport = &statusTransport{base: c.Transport}
	return c
}

type statusTransport struct {
	base http.RoundTripper
}

func (t *statusTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}

	resp, err := base.RoundTrip(req)
	if err != nil || resp.StatusCode < 400 {
		return resp, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return nil, &HTTPError{
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}
}
