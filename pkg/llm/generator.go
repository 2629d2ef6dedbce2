package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"

	"github.com/xhad/docqa/pkg/logger"
)

const (
	DefaultTemperature     = 0.5
	DefaultMaxTokens       = 512
	DefaultTimeout         = 60 * time.Second
	DefaultMaxRetries      = 3
	DefaultInitialInterval = 500 * time.Millisecond
	DefaultMaxInterval     = 8 * time.Second
)

// GeneratorConfig controls sampling and the retry policy of a Generator.
type GeneratorConfig struct {
	Model       string // overrides the backend's model when set
	Temperature float64
	MaxTokens   int
	Stop        []string
	// Timeout bounds each attempt.
	Timeout time.Duration
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Logger          *zap.Logger
}

func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		Temperature:     DefaultTemperature,
		MaxTokens:       DefaultMaxTokens,
		Timeout:         DefaultTimeout,
		MaxRetries:      DefaultMaxRetries,
		InitialInterval: DefaultInitialInterval,
		MaxInterval:     DefaultMaxInterval,
	}
}

// Generator sends single prompts to a language model with a per-attempt timeout and
// bounded exponential retries.
type Generator struct {
	config GeneratorConfig
	model  llms.Model
	logger *zap.Logger
}

func NewGenerator(model llms.Model, config GeneratorConfig) (*Generator, error) {
	if model == nil {
		return nil, fmt.Errorf("generation model is required")
	}
	if config.Temperature < 0 || config.Temperature > 2 {
		return nil, fmt.Errorf("temperature must be between 0 and 2")
	}
	if config.MaxTokens < 0 {
		return nil, fmt.Errorf("max tokens cannot be negative")
	} else if config.MaxTokens == 0 {
		config.MaxTokens = DefaultMaxTokens
	}
	if config.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries cannot be negative")
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.InitialInterval <= 0 {
		config.InitialInterval = DefaultInitialInterval
	}
	if config.MaxInterval <= 0 {
		config.MaxInterval = DefaultMaxInterval
	}

	return &Generator{
		config: config,
		model:  model,
		logger: logger.OrNop(config.Logger).Named("generator"),
	}, nil
}

func (g *Generator) Config() GeneratorConfig {
	return g.config
}

// Generate returns the model's completion of prompt. A nil stop uses the configured stop
// sequences. Rejected credentials fail fast with *AuthenticationError; every other failure
// is returned as *GenerationError.
func (g *Generator) Generate(ctx context.Context, prompt string, stop []string) (string, error) {
	if stop == nil {
		stop = g.config.Stop
	}

	opts := []llms.CallOption{
		llms.WithTemperature(g.config.Temperature),
		llms.WithMaxTokens(g.config.MaxTokens),
	}
	if g.config.Model != "" {
		opts = append(opts, llms.WithModel(g.config.Model))
	}
	if len(stop) > 0 {
		opts = append(opts, llms.WithStopWords(stop))
	}

	policy := &hintedBackOff{BackOff: g.newBackOff()}
	attempts := 0

	operation := func() (string, error) {
		attempts++

		attemptCtx, cancel := context.WithTimeout(ctx, g.config.Timeout)
		defer cancel()

		text, err := llms.GenerateFromSinglePrompt(attemptCtx, g.model, prompt, opts...)
		if err == nil {
			return text, nil
		}
		if ctx.Err() != nil {
			return "", backoff.Permanent(ctx.Err())
		}

		retryable, classified := classify(err)
		if !retryable {
			return "", backoff.Permanent(classified)
		}

		var httpErr *HTTPError
		if errors.As(classified, &httpErr) && httpErr.RetryAfter > 0 {
			policy.hint = min(httpErr.RetryAfter, g.config.MaxInterval)
		}
		return "", classified
	}

	text, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(g.config.MaxRetries+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			g.logger.Warn("generation attempt failed, retrying",
				zap.Int("attempt", attempts),
				zap.Duration("backoff", next),
				zap.Error(err))
		}),
	)
	if err != nil {
		var authErr *AuthenticationError
		if errors.As(err, &authErr) {
			return "", authErr
		}
		var genErr *GenerationError
		if errors.As(err, &genErr) {
			genErr.Attempts = attempts
			return "", genErr
		}
		return "", &GenerationError{Attempts: attempts, Err: err}
	}

	return text, nil
}

func (g *Generator) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.config.InitialInterval
	b.MaxInterval = g.config.MaxInterval
	return b
}

// classify reports whether a backend error is worth retrying. Only failures known to be
// transient are retried; anything else is surfaced after one attempt.
func classify(err error) (bool, error) {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == http.StatusUnauthorized || httpErr.StatusCode == http.StatusForbidden:
			return false, &AuthenticationError{Err: err}
		case httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500:
			return true, err
		default:
			return false, &GenerationError{Err: err}
		}
	}
	if transient(err) {
		return true, err
	}
	return false, &GenerationError{Err: err}
}

// transient matches attempt timeouts, dropped connections and other network failures.
func transient(err error) bool {
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED):
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// hintedBackOff prefers a server supplied delay for the next wait.
type hintedBackOff struct {
	backoff.BackOff
	hint time.Duration
}

func (b *hintedBackOff) NextBackOff() time.Duration {
	if b.hint > 0 {
		d := b.hint
		b.hint = 0
		return d
	}
	return b.BackOff.NextBackOff()
}
