package config

import (
	"os"
	"strings"
)

// Config is the whole process configuration. Durations are Go duration
// strings ("500ms", "10s", "1m").
//
// Secrets may be given inline or through an environment variable named by the
// matching *_env field; the inline value wins.
type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	Telegram   TelegramConfig   `json:"telegram,omitempty"`
	Storage    StorageConfig    `json:"storage"`
	Queue      QueueConfig      `json:"queue,omitempty"`
	LLM        LLMConfig        `json:"llm"`
	Generation GenerationConfig `json:"generation,omitempty"`
	Delivery   DeliveryConfig   `json:"delivery,omitempty"`
	Mail       MailConfig       `json:"mail"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file,omitempty"`
	Telegram LoggingTelegram `json:"telegram,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// LoggingTelegram forwards warnings and errors to an operator chat.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// TelegramConfig is only used for operator alerts.
type TelegramConfig struct {
	Token       string `json:"token,omitempty"`
	TokenEnv    string `json:"token_env,omitempty"`
	AlertChatID int64  `json:"alert_chat_id,omitempty"`
}

func (t TelegramConfig) ResolvedToken() string { return secret(t.Token, t.TokenEnv) }

// StorageConfig selects the subscriber store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/dailyprompt.db" }
type StorageConfig struct {
	Driver       string `json:"driver"`
	Path         string `json:"path,omitempty"`
	DSN          string `json:"dsn,omitempty"`
	DSNEnv       string `json:"dsn_env,omitempty"`
	BusyTimeout  string `json:"busy_timeout,omitempty"` // sqlite
	MaxOpenConns int    `json:"max_open_conns,omitempty"`
}

func (s StorageConfig) ResolvedDSN() string { return secret(s.DSN, s.DSNEnv) }

type QueueConfig struct {
	Driver        string `json:"driver,omitempty"` // memory | redis
	URL           string `json:"url,omitempty"`
	URLEnv        string `json:"url_env,omitempty"`
	Key           string `json:"key,omitempty"`
	DeadLetterKey string `json:"dead_letter_key,omitempty"`
	PollTimeout   string `json:"poll_timeout,omitempty"`
	Size          int    `json:"size,omitempty"`
	DeadLetterMax int    `json:"dead_letter_max,omitempty"`
}

func (q QueueConfig) ResolvedURL() string { return secret(q.URL, q.URLEnv) }

type LLMConfig struct {
	Provider    string  `json:"provider"` // openai | deepseek | anthropic | mock
	Model       string  `json:"model,omitempty"`
	APIKey      string  `json:"api_key,omitempty"`
	APIKeyEnv   string  `json:"api_key_env,omitempty"`
	BaseURL     string  `json:"base_url,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	Timeout     string  `json:"timeout,omitempty"`
}

func (l LLMConfig) ResolvedAPIKey() string { return secret(l.APIKey, l.APIKeyEnv) }

// GenerationConfig tunes the batching loop and the job engine that runs it.
//
// Defaults: target_count 365, batch_size 100, max_attempts 3,
// max_prompt_chars 150, workers 2, job_timeout 10m, retry_max 0.
type GenerationConfig struct {
	TargetCount    int    `json:"target_count,omitempty"`
	BatchSize      int    `json:"batch_size,omitempty"`
	MaxAttempts    int    `json:"max_attempts,omitempty"`
	MaxPromptChars int    `json:"max_prompt_chars,omitempty"`
	Workers        int    `json:"workers,omitempty"`
	JobTimeout     string `json:"job_timeout,omitempty"`
	RetryMax       int    `json:"retry_max,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`

	// Circuit breaker over consecutive failed jobs. A negative trip disables it.
	CircuitTripFailures int    `json:"circuit_trip_failures,omitempty"`
	CircuitBaseDelay    string `json:"circuit_base_delay,omitempty"`
	CircuitMaxDelay     string `json:"circuit_max_delay,omitempty"`
}

// DeliveryConfig controls the daily send.
//
// Defaults: send_at "06:00", schedule "0 * * * *" (top of every hour),
// scheduler timezone UTC, workers 4, no rate limit.
type DeliveryConfig struct {
	SendAt        string  `json:"send_at,omitempty"`
	Schedule      string  `json:"schedule,omitempty"`
	Timezone      string  `json:"timezone,omitempty"`
	Workers       int     `json:"workers,omitempty"`
	RatePerSecond float64 `json:"rate_per_second,omitempty"`
	Burst         int     `json:"burst,omitempty"`
	Timeout       string  `json:"timeout,omitempty"`
}

type MailConfig struct {
	Driver      string `json:"driver"` // brevo | smtp | log
	APIKey      string `json:"api_key,omitempty"`
	APIKeyEnv   string `json:"api_key_env,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`
	SenderEmail string `json:"sender_email,omitempty"`
	SenderName  string `json:"sender_name,omitempty"`
	Subject     string `json:"subject,omitempty"`
	Timeout     string `json:"timeout,omitempty"`

	SMTPHost        string `json:"smtp_host,omitempty"`
	SMTPPort        int    `json:"smtp_port,omitempty"`
	SMTPUsername    string `json:"smtp_username,omitempty"`
	SMTPPassword    string `json:"smtp_password,omitempty"`
	SMTPPasswordEnv string `json:"smtp_password_env,omitempty"`
}

func (m MailConfig) ResolvedAPIKey() string { return secret(m.APIKey, m.APIKeyEnv) }

func (m MailConfig) ResolvedSMTPPassword() string {
	return secret(m.SMTPPassword, m.SMTPPasswordEnv)
}

func secret(inline, env string) string {
	if v := strings.TrimSpace(inline); v != "" {
		return v
	}
	if env = strings.TrimSpace(env); env != "" {
		return strings.TrimSpace(os.Getenv(env))
	}
	return ""
}
