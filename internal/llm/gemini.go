package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const (
	// DefaultGeminiChatModel is the model used when none is configured.
	DefaultGeminiChatModel = "gemini-2.0-flash"

	// DefaultRequestsPerMinute is the default client-side request budget.
	DefaultRequestsPerMinute = 60

	defaultTemperature     = 0.2
	defaultMaxOutputTokens = 2048
)

// GeminiConfig configures the Gemini completer.
type GeminiConfig struct {
	Model             string
	RequestsPerMinute int
	Timeout           time.Duration
}

// Gemini is a Completer backed by Google Generative AI. Calls go through a
// token-bucket rate limiter and a circuit breaker.
type Gemini struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

var _ Completer = (*Gemini)(nil)

// NewGemini creates a completer on an existing client.
func NewGemini(client *genai.Client, cfg GeminiConfig) (*Gemini, error) {
	if client == nil {
		return nil, fmt.Errorf("gemini client cannot be nil")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiChatModel
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = DefaultRequestsPerMinute
	}

	return &Gemini{
		client:  client,
		model:   cfg.Model,
		timeout: cfg.Timeout,
		limiter: newLimiter(cfg.RequestsPerMinute),
		breaker: newBreaker("gemini-" + cfg.Model),
	}, nil
}

func newLimiter(rpm int) *rate.Limiter {
	return rate.NewLimiter(rate.Limit(float64(rpm)/60.0), max(1, rpm/10))
}

func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})
}

// Complete sends one generation request and returns the concatenated text parts.
func (g *Gemini) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	result, err := g.breaker.Execute(func() (interface{}, error) {
		model := g.client.GenerativeModel(g.model)
		model.SetTemperature(defaultTemperature)
		model.SetMaxOutputTokens(defaultMaxOutputTokens)
		if systemPrompt != "" {
			model.SystemInstruction = &genai.Content{
				Parts: []genai.Part{genai.Text(systemPrompt)},
			}
		}

		resp, err := model.GenerateContent(ctx, genai.Text(userPrompt))
		if err != nil {
			return nil, err
		}
		return responseText(resp)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", fmt.Errorf("gemini unavailable: %w", err)
		}
		return "", fmt.Errorf("gemini generation failed: %w", err)
	}

	return result.(string), nil
}

// responseText joins the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", ErrEmptyResponse
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", ErrEmptyResponse
	}
	return sb.String(), nil
}
