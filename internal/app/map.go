package app

import (
	"fmt"
	"strings"
	"time"

	"dailyprompt/internal/config"
	"dailyprompt/internal/delivery"
	"dailyprompt/internal/generator"
	"dailyprompt/internal/mailer"
	"dailyprompt/internal/queue"
	"dailyprompt/internal/storage"
	"dailyprompt/internal/task/engine"
	"dailyprompt/internal/task/scheduler"
	logx "dailyprompt/pkg/logx"
)

const (
	// DefaultDeliverySchedule checks every hour on the hour; with the default
	// send_at "06:00" each timezone matches once a day.
	DefaultDeliverySchedule = "0 * * * *"

	defaultJobTimeout      = 10 * time.Minute
	defaultDeliveryTimeout = 30 * time.Minute
	defaultLLMTimeout      = 2 * time.Minute
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Alerts: logx.AlertConfig{
			Enabled:    cfg.Logging.Telegram.Enabled && cfg.Telegram.AlertChatID != 0,
			ChatID:     cfg.Telegram.AlertChatID,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	switch driver {
	case "file":
	case "postgres", "postgresql":
		driver = "postgres"
	case "sqlite", "sqlite3":
		driver = "sqlite"
	case "", "none":
		return storage.Config{}, fmt.Errorf("storage.driver is required")
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", sc.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	if driver == "sqlite" && busy == 0 {
		busy = time.Second
	}
	return storage.Config{
		Driver:       driver,
		Path:         strings.TrimSpace(sc.Path),
		DSN:          sc.ResolvedDSN(),
		BusyTimeout:  busy,
		MaxOpenConns: sc.MaxOpenConns,
	}, nil
}

func mapQueueConfig(cfg *config.Config) (queue.Config, error) {
	qc := cfg.Queue
	poll, err := config.ParseDurationField("queue.poll_timeout", qc.PollTimeout)
	if err != nil {
		return queue.Config{}, err
	}
	return queue.Config{
		Driver:        qc.Driver,
		URL:           qc.ResolvedURL(),
		Key:           qc.Key,
		DeadLetterKey: qc.DeadLetterKey,
		PollTimeout:   poll,
		Size:          qc.Size,
		DeadLetterMax: qc.DeadLetterMax,
	}, nil
}

func mapClientConfig(cfg *config.Config) (generator.ClientConfig, error) {
	lc := cfg.LLM
	timeout, err := config.ParseDurationField("llm.timeout", lc.Timeout)
	if err != nil {
		return generator.ClientConfig{}, err
	}
	if timeout == 0 {
		timeout = defaultLLMTimeout
	}
	return generator.ClientConfig{
		Provider:    lc.Provider,
		Model:       lc.Model,
		APIKey:      lc.ResolvedAPIKey(),
		BaseURL:     lc.BaseURL,
		MaxTokens:   lc.MaxTokens,
		Temperature: lc.Temperature,
		Timeout:     timeout,
	}, nil
}

func mapGeneratorConfig(cfg *config.Config) generator.Config {
	gc := cfg.Generation
	return generator.Config{
		TargetCount:    gc.TargetCount,
		BatchSize:      gc.BatchSize,
		MaxAttempts:    gc.MaxAttempts,
		MaxPromptChars: gc.MaxPromptChars,
	}
}

func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	gc := cfg.Generation
	timeout, err := config.ParseDurationField("generation.job_timeout", gc.JobTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	if timeout == 0 {
		timeout = defaultJobTimeout
	}
	base, err := config.ParseDurationField("generation.circuit_base_delay", gc.CircuitBaseDelay)
	if err != nil {
		return engine.Config{}, err
	}
	maxDelay, err := config.ParseDurationField("generation.circuit_max_delay", gc.CircuitMaxDelay)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		Workers:             gc.Workers,
		Timeout:             timeout,
		HistorySize:         gc.HistorySize,
		RetryMax:            gc.RetryMax,
		CircuitTripFailures: gc.CircuitTripFailures,
		CircuitBaseDelay:    base,
		CircuitMaxDelay:     maxDelay,
	}, nil
}

func mapMailerConfig(cfg *config.Config) (mailer.Config, error) {
	mc := cfg.Mail
	timeout, err := config.ParseDurationField("mail.timeout", mc.Timeout)
	if err != nil {
		return mailer.Config{}, err
	}
	return mailer.Config{
		Driver:       mc.Driver,
		APIKey:       mc.ResolvedAPIKey(),
		Endpoint:     mc.Endpoint,
		SenderEmail:  mc.SenderEmail,
		SenderName:   mc.SenderName,
		Timeout:      timeout,
		SMTPHost:     mc.SMTPHost,
		SMTPPort:     mc.SMTPPort,
		SMTPUsername: mc.SMTPUsername,
		SMTPPassword: mc.ResolvedSMTPPassword(),
	}, nil
}

func mapDeliveryConfig(cfg *config.Config) delivery.Config {
	dc := cfg.Delivery
	return delivery.Config{
		SendAt:        dc.SendAt,
		Workers:       dc.Workers,
		RatePerSecond: dc.RatePerSecond,
		Burst:         dc.Burst,
	}
}

// deliveryTrigger is the cron registration for the delivery tick.
type deliveryTrigger struct {
	Schedule string
	Timeout  time.Duration
}

func mapDeliveryTrigger(cfg *config.Config) (deliveryTrigger, error) {
	dc := cfg.Delivery
	spec := strings.TrimSpace(dc.Schedule)
	if spec == "" {
		spec = DefaultDeliverySchedule
	}
	if _, err := scheduler.ParseSchedule(spec); err != nil {
		return deliveryTrigger{}, fmt.Errorf("delivery.schedule: %w", err)
	}
	timeout, err := config.ParseDurationField("delivery.timeout", dc.Timeout)
	if err != nil {
		return deliveryTrigger{}, err
	}
	if timeout == 0 {
		timeout = defaultDeliveryTimeout
	}
	return deliveryTrigger{Schedule: spec, Timeout: timeout}, nil
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{Timezone: cfg.Delivery.Timezone}
}
