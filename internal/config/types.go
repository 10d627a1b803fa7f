package config

import "time"

// Config is the root configuration of the orchestrator.
type Config struct {
	Logger       LoggerConfig       `mapstructure:"logger"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Gemini       GeminiConfig       `mapstructure:"gemini"`
	Gateway      GatewayConfig      `mapstructure:"gateway"`
	Operator     OperatorConfig     `mapstructure:"operator"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Rate         RateConfig         `mapstructure:"rate"`
	Outreach     OutreachConfig     `mapstructure:"outreach"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	Status       StatusConfig       `mapstructure:"status"`
	Messages     MessagesConfig     `mapstructure:"messages"`
}

// LoggerConfig controls the slog handler.
type LoggerConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// DatabaseConfig locates the SQLite file and bounds the capped tables.
type DatabaseConfig struct {
	Path               string `mapstructure:"path"                 validate:"required"`
	ConversationCap    int    `mapstructure:"conversation_cap"     validate:"min=1,max=1000"`
	ProcessedEventsCap int    `mapstructure:"processed_events_cap" validate:"min=1"`
}

// GeminiConfig configures the text generator and sentiment classifier.
type GeminiConfig struct {
	APIKey            string        `mapstructure:"api_key"             validate:"required"`
	ModelName         string        `mapstructure:"model_name"          validate:"required"`
	Temperature       float32       `mapstructure:"temperature"         validate:"min=0,max=2"`
	SystemInstruction string        `mapstructure:"system_instruction"`
	KnowledgePath     string        `mapstructure:"knowledge_path"`
	MaxRetries        int           `mapstructure:"max_retries"         validate:"min=0,max=10"`
	RetryDelaySeconds int           `mapstructure:"retry_delay_seconds" validate:"min=0"`
	Timeout           time.Duration `mapstructure:"timeout"             validate:"min=1s"`
}

// GatewayConfig configures the WAHA WhatsApp HTTP gateway.
type GatewayConfig struct {
	BaseURL           string        `mapstructure:"base_url"            validate:"required,url"`
	APIKey            string        `mapstructure:"api_key"`
	Session           string        `mapstructure:"session"             validate:"required"`
	Timeout           time.Duration `mapstructure:"timeout"             validate:"min=1s"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" validate:"gt=0"`
	Burst             int           `mapstructure:"burst"               validate:"min=1"`
	MaxRetries        uint          `mapstructure:"max_retries"         validate:"max=10"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	ChatLimit         int           `mapstructure:"chat_limit"          validate:"min=1"`
	MessageLimit      int           `mapstructure:"message_limit"       validate:"min=1"`
}

// OperatorConfig configures the optional Telegram operator console.
type OperatorConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Token       string `mapstructure:"token"         validate:"required_if=Enabled true"`
	AdminUserID int64  `mapstructure:"admin_user_id" validate:"required_if=Enabled true"`
}

// OrchestratorConfig holds the loop switches and timings. Everything here is hot-reloadable.
type OrchestratorConfig struct {
	Running         bool          `mapstructure:"running"`
	InboundEnabled  bool          `mapstructure:"inbound_enabled"`
	OutboundEnabled bool          `mapstructure:"outbound_enabled"`
	ManualApproval  bool          `mapstructure:"manual_approval"`
	TestMode        bool          `mapstructure:"test_mode"`
	TestBanner      string        `mapstructure:"test_banner"`
	Paraphrase      bool          `mapstructure:"paraphrase"`
	TickInterval    time.Duration `mapstructure:"tick_interval"   validate:"min=1s"`
	PollInterval    time.Duration `mapstructure:"poll_interval"   validate:"min=1s"`
	ThinkingDelay   time.Duration `mapstructure:"thinking_delay"  validate:"min=0"`
	LeaseTTL        time.Duration `mapstructure:"lease_ttl"       validate:"min=1s"`
	ReplyWorkers    int           `mapstructure:"reply_workers"   validate:"min=1,max=16"`
	SelfLoopLimit   int           `mapstructure:"self_loop_limit" validate:"min=1"`
	TypingMin       time.Duration `mapstructure:"typing_min"      validate:"min=0"`
	TypingMax       time.Duration `mapstructure:"typing_max"      validate:"min=0"`
}

// RateConfig configures the Rate Governor.
type RateConfig struct {
	DailyLimit       int                 `mapstructure:"daily_limit"       validate:"min=0"`
	MinSpacing       time.Duration       `mapstructure:"min_spacing"       validate:"min=0"`
	JitterMin        time.Duration       `mapstructure:"jitter_min"        validate:"min=0"`
	JitterMax        time.Duration       `mapstructure:"jitter_max"        validate:"min=0"`
	FailureThreshold int                 `mapstructure:"failure_threshold" validate:"min=1"`
	FailureWindow    time.Duration       `mapstructure:"failure_window"    validate:"min=1s"`
	Cooldown         time.Duration       `mapstructure:"cooldown"          validate:"min=1s"`
	Timezone         string              `mapstructure:"timezone"          validate:"required"`
	BusinessHours    BusinessHoursConfig `mapstructure:"business_hours"`
}

// BusinessHoursConfig lists open weekdays ("mon".."sun") and "HH:MM-HH:MM" windows.
type BusinessHoursConfig struct {
	Days    []string `mapstructure:"days"    validate:"dive,oneof=mon tue wed thu fri sat sun"`
	Windows []string `mapstructure:"windows" validate:"dive,required"`
}

// OutreachConfig holds outreach content and keyword lists.
type OutreachConfig struct {
	DefaultRegion      string        `mapstructure:"default_region" validate:"len=2"`
	SecurityLock       bool          `mapstructure:"security_lock"`
	AllowedPhones      []string      `mapstructure:"allowed_phones"`
	HardRejectKeywords []string      `mapstructure:"hard_reject_keywords"`
	CriticalKeywords   []string      `mapstructure:"critical_keywords"`
	AggressiveKeywords []string      `mapstructure:"aggressive_keywords"`
	GhostAfter         time.Duration `mapstructure:"ghost_after"    validate:"min=1h"`
	Greeting           string        `mapstructure:"greeting"       validate:"required"`
	Apology            string        `mapstructure:"apology"        validate:"required"`
	FallbackReply      string        `mapstructure:"fallback_reply" validate:"required"`
}

// SchedulerConfig maps task names to their cron schedules.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks"`
}

// TaskConfig enables a periodic task and sets its cron expression (seconds field allowed).
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

// StatusConfig locates the dashboard status snapshot.
type StatusConfig struct {
	Path string `mapstructure:"path"`
}

// MessagesConfig holds the operator console texts.
type MessagesConfig struct {
	Welcome         string `mapstructure:"welcome"`
	Help            string `mapstructure:"help"`
	Unauthorized    string `mapstructure:"unauthorized"`
	GeneralError    string `mapstructure:"general_error"`
	Paused          string `mapstructure:"paused"`
	Resumed         string `mapstructure:"resumed"`
	ApprovalRequest string `mapstructure:"approval_request"`
	InterestAlert   string `mapstructure:"interest_alert"`
}
