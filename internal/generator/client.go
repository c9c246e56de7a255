package generator

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Client is a text-generation service: one instruction in, raw text out.
type Client interface {
	Complete(ctx context.Context, instruction string) (string, error)
}

// ClientConfig selects and configures a Client.
//
// Provider values: "openai", "deepseek" (OpenAI-compatible API), "anthropic", "mock".
type ClientConfig struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

const (
	defaultMaxTokens   = 2048
	defaultTemperature = 0.7
	deepseekBaseURL    = "https://api.deepseek.com"
)

// NewClient builds the client for cfg.Provider.
func NewClient(cfg ClientConfig) (Client, error) {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = defaultTemperature
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "openai":
		if cfg.Model == "" {
			cfg.Model = "gpt-4o-mini"
		}
		return newOpenAI(cfg)
	case "deepseek":
		if cfg.Model == "" {
			cfg.Model = "deepseek-chat"
		}
		if cfg.BaseURL == "" {
			cfg.BaseURL = deepseekBaseURL
		}
		return newOpenAI(cfg)
	case "anthropic":
		if cfg.Model == "" {
			cfg.Model = "claude-haiku-4-5"
		}
		return newAnthropic(cfg)
	case "mock":
		return Mock{}, nil
	default:
		return nil, errors.New("unknown llm provider: " + cfg.Provider)
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
