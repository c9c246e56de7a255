package config

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	_ "time/tzdata"

	"dailyprompt/internal/task/scheduler"
)

// Validate reports every problem found in cfg, joined.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }
	dur := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "file", "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			add("storage.path is required for driver %q", cfg.Storage.Driver)
		}
	case "postgres", "postgresql":
		if cfg.Storage.ResolvedDSN() == "" {
			add("storage.dsn (or dsn_env) is required for postgres")
		}
	default:
		add("storage.driver must be one of file, sqlite, postgres")
	}
	dur("storage.busy_timeout", cfg.Storage.BusyTimeout)

	switch strings.ToLower(strings.TrimSpace(cfg.Queue.Driver)) {
	case "", "memory":
	case "redis":
		if cfg.Queue.ResolvedURL() == "" {
			add("queue.url (or url_env) is required for redis")
		}
	default:
		add("queue.driver must be memory or redis")
	}
	dur("queue.poll_timeout", cfg.Queue.PollTimeout)

	switch p := strings.ToLower(strings.TrimSpace(cfg.LLM.Provider)); p {
	case "mock":
	case "", "openai", "deepseek", "anthropic":
		if cfg.LLM.ResolvedAPIKey() == "" {
			add("llm.api_key (or api_key_env) is required for provider %q", cfg.LLM.Provider)
		}
	default:
		add("llm.provider %q is not supported", cfg.LLM.Provider)
	}
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		add("llm.temperature must be within [0, 2]")
	}
	dur("llm.timeout", cfg.LLM.Timeout)

	g := cfg.Generation
	if g.TargetCount < 0 || g.BatchSize < 0 || g.MaxAttempts < 0 || g.MaxPromptChars < 0 || g.Workers < 0 || g.RetryMax < 0 {
		add("generation counts must be >= 0")
	}
	dur("generation.job_timeout", g.JobTimeout)
	dur("generation.circuit_base_delay", g.CircuitBaseDelay)
	dur("generation.circuit_max_delay", g.CircuitMaxDelay)

	d := cfg.Delivery
	if s := strings.TrimSpace(d.SendAt); s != "" {
		if _, _, err := scheduler.ParseHHMM(s); err != nil {
			add("delivery.send_at: %v", err)
		}
	}
	if s := strings.TrimSpace(d.Schedule); s != "" {
		if _, err := scheduler.ParseSchedule(s); err != nil {
			add("delivery.schedule: %v", err)
		}
	}
	if tz := strings.TrimSpace(d.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add("delivery.timezone %q: %v", tz, err)
		}
	}
	if d.Workers < 0 || d.Burst < 0 || d.RatePerSecond < 0 {
		add("delivery workers, burst and rate must be >= 0")
	}
	dur("delivery.timeout", d.Timeout)

	switch strings.ToLower(strings.TrimSpace(cfg.Mail.Driver)) {
	case "", "log":
	case "brevo":
		if cfg.Mail.ResolvedAPIKey() == "" {
			add("mail.api_key (or api_key_env) is required for brevo")
		}
		if _, err := mail.ParseAddress(cfg.Mail.SenderEmail); err != nil {
			add("mail.sender_email: %v", err)
		}
	case "smtp":
		if strings.TrimSpace(cfg.Mail.SMTPHost) == "" {
			add("mail.smtp_host is required for smtp")
		}
		if _, err := mail.ParseAddress(cfg.Mail.SenderEmail); err != nil {
			add("mail.sender_email: %v", err)
		}
	default:
		add("mail.driver must be brevo, smtp or log")
	}
	dur("mail.timeout", cfg.Mail.Timeout)

	if cfg.Logging.Telegram.Enabled {
		if cfg.Telegram.ResolvedToken() == "" {
			add("telegram.token (or token_env) is required when logging.telegram is enabled")
		}
		if cfg.Telegram.AlertChatID == 0 {
			add("telegram.alert_chat_id is required when logging.telegram is enabled")
		}
	}
	return errors.Join(errs...)
}
