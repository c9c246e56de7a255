package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type Anthropic struct {
	client anthropic.Client
	cfg    ClientConfig
}

func newAnthropic(cfg ClientConfig) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm api key missing; set llm.api_key or llm.api_key_env")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Anthropic{client: anthropic.NewClient(opts...), cfg: cfg}, nil
}

// Complete sends the instruction as the user turn; the Messages API needs one.
func (a *Anthropic) Complete(ctx context.Context, instruction string) (string, error) {
	ctx, cancel := withTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(a.cfg.Model),
		MaxTokens:   int64(a.cfg.MaxTokens),
		Temperature: anthropic.Float(a.cfg.Temperature),
		System: []anthropic.TextBlockParam{
			{Text: "You write journal prompts and answer with JSON only."},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(instruction)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API error: %w", err)
	}
	var b strings.Builder
	for _, block := range resp.Content {
		b.WriteString(block.Text)
	}
	if b.Len() == 0 {
		return "", errors.New("anthropic: empty content")
	}
	return b.String(), nil
}
