package config

import (
	"strings"

	logx "dailyprompt/pkg/logx"
)

// SummarizeChange lists the sections that differ between two configs and
// log fields describing the new values. Secrets are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		attrs   []logx.Field
	)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
		)
	}
	if oldCfg.Telegram.AlertChatID != newCfg.Telegram.AlertChatID ||
		oldCfg.Telegram.ResolvedToken() != newCfg.Telegram.ResolvedToken() {
		changed = append(changed, "telegram")
		attrs = append(attrs, logx.Bool("telegram.token_set", newCfg.Telegram.ResolvedToken() != ""))
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}
	if oldCfg.Queue != newCfg.Queue {
		changed = append(changed, "queue")
		attrs = append(attrs, logx.String("queue.driver", newCfg.Queue.Driver))
	}
	if oldCfg.LLM != newCfg.LLM {
		changed = append(changed, "llm")
		attrs = append(attrs,
			logx.String("llm.provider", newCfg.LLM.Provider),
			logx.String("llm.model", newCfg.LLM.Model),
			logx.Bool("llm.api_key_set", newCfg.LLM.ResolvedAPIKey() != ""),
		)
	}
	if oldCfg.Generation != newCfg.Generation {
		changed = append(changed, "generation")
		attrs = append(attrs,
			logx.Int("generation.target_count", newCfg.Generation.TargetCount),
			logx.Int("generation.batch_size", newCfg.Generation.BatchSize),
		)
	}
	if oldCfg.Delivery != newCfg.Delivery {
		changed = append(changed, "delivery")
		attrs = append(attrs,
			logx.String("delivery.send_at", strings.TrimSpace(newCfg.Delivery.SendAt)),
			logx.String("delivery.schedule", strings.TrimSpace(newCfg.Delivery.Schedule)),
			logx.String("delivery.timezone", strings.TrimSpace(newCfg.Delivery.Timezone)),
		)
	}
	if oldCfg.Mail != newCfg.Mail {
		changed = append(changed, "mail")
		attrs = append(attrs,
			logx.String("mail.driver", newCfg.Mail.Driver),
			logx.String("mail.sender_email", newCfg.Mail.SenderEmail),
		)
	}
	return changed, attrs
}
