package config

import (
	"time"

	"github.com/spf13/viper"
)

// Task names known to the scheduler.
const (
	TaskHousekeeping   = "housekeeping"
	TaskSQLMaintenance = "sql_maintenance"
)

// DefaultHardRejectKeywords move a lead straight to the blacklist.
var DefaultHardRejectKeywords = []string{
	"istemiyorum", "yazma", "rahatsız etme", "sil beni", "spam", "şikayet",
	"küfür", "engelliyorum", "yeter", "don't write", "stop", "unsubscribe",
}

// DefaultCriticalKeywords route a reply to the operator instead of sending it.
var DefaultCriticalKeywords = []string{
	"fiyat", "ücret", "ne kadar", "pahalı", "randevu", "demo", "bildirim",
}

// DefaultAggressiveKeywords short-circuit classification to Aggressive.
var DefaultAggressiveKeywords = []string{
	"küfür", "engelliyorum", "şikayet edeceğim", "rahatsız etme", "sil beni", "defol",
}

// setDefaults registers every key so env overrides apply even when the file omits a section.
func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.json", false)

	v.SetDefault("database.path", "./leadpilot.db")
	v.SetDefault("database.conversation_cap", 100)
	v.SetDefault("database.processed_events_cap", 2000)

	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model_name", "gemini-2.0-flash")
	v.SetDefault("gemini.temperature", 0.7)
	v.SetDefault("gemini.system_instruction", "")
	v.SetDefault("gemini.knowledge_path", "")
	v.SetDefault("gemini.max_retries", 2)
	v.SetDefault("gemini.retry_delay_seconds", 2)
	v.SetDefault("gemini.timeout", 45*time.Second)

	v.SetDefault("gateway.base_url", "")
	v.SetDefault("gateway.api_key", "")
	v.SetDefault("gateway.session", "default")
	v.SetDefault("gateway.timeout", 15*time.Second)
	v.SetDefault("gateway.requests_per_second", 2.0)
	v.SetDefault("gateway.burst", 4)
	v.SetDefault("gateway.max_retries", 3)
	v.SetDefault("gateway.retry_delay", time.Second)
	v.SetDefault("gateway.chat_limit", 40)
	v.SetDefault("gateway.message_limit", 20)

	v.SetDefault("operator.enabled", false)
	v.SetDefault("operator.token", "")
	v.SetDefault("operator.admin_user_id", 0)

	v.SetDefault("orchestrator.running", true)
	v.SetDefault("orchestrator.inbound_enabled", true)
	v.SetDefault("orchestrator.outbound_enabled", true)
	v.SetDefault("orchestrator.manual_approval", false)
	v.SetDefault("orchestrator.test_mode", false)
	v.SetDefault("orchestrator.test_banner", "[TEST MESAJI] ")
	v.SetDefault("orchestrator.paraphrase", true)
	v.SetDefault("orchestrator.tick_interval", 5*time.Second)
	v.SetDefault("orchestrator.poll_interval", 15*time.Second)
	v.SetDefault("orchestrator.thinking_delay", 60*time.Second)
	v.SetDefault("orchestrator.lease_ttl", 2*time.Minute)
	v.SetDefault("orchestrator.reply_workers", 2)
	v.SetDefault("orchestrator.self_loop_limit", 3)
	v.SetDefault("orchestrator.typing_min", 3*time.Second)
	v.SetDefault("orchestrator.typing_max", 8*time.Second)

	v.SetDefault("rate.daily_limit", 20)
	v.SetDefault("rate.min_spacing", 15*time.Minute)
	v.SetDefault("rate.jitter_min", 5*time.Second)
	v.SetDefault("rate.jitter_max", 15*time.Second)
	v.SetDefault("rate.failure_threshold", 3)
	v.SetDefault("rate.failure_window", time.Hour)
	v.SetDefault("rate.cooldown", 30*time.Minute)
	v.SetDefault("rate.timezone", "Europe/Istanbul")
	v.SetDefault("rate.business_hours.days", []string{"mon", "tue", "wed", "thu", "fri", "sat"})
	v.SetDefault("rate.business_hours.windows", []string{"10:00-12:00", "15:00-20:00"})

	v.SetDefault("outreach.default_region", "TR")
	v.SetDefault("outreach.security_lock", false)
	v.SetDefault("outreach.allowed_phones", []string{})
	v.SetDefault("outreach.hard_reject_keywords", DefaultHardRejectKeywords)
	v.SetDefault("outreach.critical_keywords", DefaultCriticalKeywords)
	v.SetDefault("outreach.aggressive_keywords", DefaultAggressiveKeywords)
	v.SetDefault("outreach.ghost_after", 48*time.Hour)
	v.SetDefault("outreach.greeting", "Selamlar, müsait misiniz?")
	v.SetDefault("outreach.apology",
		"Kusura bakmayın, vaktinizi aldım. Olumsuz bir deneyim yaşatmak istemezdim, iyi çalışmalar dilerim.")
	v.SetDefault("outreach.fallback_reply",
		"Teşekkür ederim, mesajınızı aldım. Kısa süre içinde detaylı dönüş yapacağım.")

	v.SetDefault("scheduler.tasks", map[string]any{
		TaskHousekeeping:   map[string]any{"enabled": true, "schedule": "0 0 * * * *"},
		TaskSQLMaintenance: map[string]any{"enabled": true, "schedule": "0 30 4 * * *"},
	})

	v.SetDefault("status.path", "./bot_status.json")

	v.SetDefault("messages.welcome", "LeadPilot operator console. Use /help for the command list.")
	v.SetDefault("messages.help", "/status /stats /pause /resume\n"+
		"/approve <lead> /discard <lead> /convert <lead>\n/strategy <lead> <A-E>")
	v.SetDefault("messages.unauthorized", "Not authorized.")
	v.SetDefault("messages.general_error", "Something went wrong, check the logs.")
	v.SetDefault("messages.paused", "Outbound sending paused.")
	v.SetDefault("messages.resumed", "Outbound sending resumed.")
	v.SetDefault("messages.approval_request", "Approval needed for %s (%s):\n\n%s")
	v.SetDefault("messages.interest_alert", "Interested lead: %s (%s)\n\n%s")
}

// Default returns the built-in defaults without validation. Tests and tooling start from it.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic("config: defaults do not decode: " + err.Error())
	}
	return &cfg
}
