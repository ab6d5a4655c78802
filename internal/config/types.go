package config

import "strings"

type Config struct {
	Logging LoggingConfig `json:"logging"`
	Storage StorageConfig `json:"storage"`
	Ops     OpsConfig     `json:"ops,omitempty"`

	// Scheduler controls cron triggers for crawler batches and aggregations.
	Scheduler SchedulerConfig `json:"scheduler"`

	// TaskEngine controls execution settings for triggered batches.
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`

	// Forwarder holds the global defaults every delivery path starts from.
	Forwarder      ForwarderConfig   `json:"forwarder"`
	Crawlers       []CrawlerConfig   `json:"crawlers"`
	Formatters     []FormatterConfig `json:"formatters,omitempty"`
	Targets        []TargetConfig    `json:"targets"`
	TargetDefaults TargetDefaults    `json:"target_defaults,omitempty"`
	Connections    ConnectionsConfig `json:"connections,omitempty"`

	Processors   []ProcessorConfig   `json:"processors,omitempty"`
	Aggregations []AggregationConfig `json:"aggregations,omitempty"`

	Card  CardConfig  `json:"card,omitempty"`
	Media MediaConfig `json:"media,omitempty"`
}

// TaskEngineConfig controls the task execution engine.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - enabled: scheduler.enabled
//   - workers: 2
//   - queue_size: 256
//   - default_timeout: "0s" (disabled)
//   - max_queue_delay: "0s" (disabled)
//   - history_size: 200
//   - retry_max: 0 (a failed batch is retried by the next trigger)
type TaskEngineConfig struct {
	Enabled *bool `json:"enabled,omitempty"`
	Workers int   `json:"workers,omitempty"`

	QueueSize int `json:"queue_size,omitempty"`

	DefaultTimeout string `json:"default_timeout,omitempty"`
	MaxQueueDelay  string `json:"max_queue_delay,omitempty"`

	HistorySize int `json:"history_size,omitempty"`
	RetryMax    int `json:"retry_max,omitempty"`
}

// StorageConfig selects the post database and the delivery record backend.
//
// Example:
//
//	"storage": { "path": "./data/postrelay.db", "delivery": { "driver": "redis", "redis_addr": "127.0.0.1:6379" } }
type StorageConfig struct {
	Path        string         `json:"path"`
	BusyTimeout string         `json:"busy_timeout,omitempty"`
	Delivery    DeliveryConfig `json:"delivery,omitempty"`
}

// DeliveryConfig picks where delivery records live: "sqlite" (default, shares
// the post database), "file" (snapshot + journal) or "redis".
type DeliveryConfig struct {
	Driver        string `json:"driver,omitempty"`
	Path          string `json:"path,omitempty"`
	RedisAddr     string `json:"redis_addr,omitempty"`
	RedisPassword string `json:"redis_password,omitempty"`
	RedisDB       int    `json:"redis_db,omitempty"`
	RedisPrefix   string `json:"redis_prefix,omitempty"`
}

// OpsConfig controls the optional operator HTTP server (metrics + pprof).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:9090").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LoggingFile   `json:"file"`
	Target  LoggingTarget `json:"target,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTarget forwards WARN+ log lines to one delivery target.
type LoggingTarget struct {
	Enabled    bool   `json:"enabled"`
	TargetID   string `json:"target_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"`
}

// ForwarderConfig is the render configuration of a delivery path. The global
// block supplies defaults; crawler and formatter blocks override it field by field.
type ForwarderConfig struct {
	Cron       string           `json:"cron,omitempty"`
	RenderType string           `json:"render_type,omitempty"`
	Keywords   []string         `json:"keywords,omitempty"`
	Media      *MediaToolConfig `json:"media,omitempty"`
}

// MediaToolConfig selects how post media is acquired.
type MediaToolConfig struct {
	Type string       `json:"type,omitempty"`
	Use  MediaToolUse `json:"use"`
}

type MediaToolUse struct {
	Tool string   `json:"tool,omitempty"`
	Path string   `json:"path,omitempty"`
	Args []string `json:"args,omitempty"`
}

const (
	TaskTypeArticle = "article"
	TaskTypeFollows = "follows"
)

// CrawlerConfig describes one source: a platform account set whose stored
// posts are dispatched on a schedule.
type CrawlerConfig struct {
	Name     string   `json:"name"`
	Platform string   `json:"platform"`
	UIDs     []string `json:"u_ids"`

	TaskType  string `json:"task_type,omitempty"`
	TaskTitle string `json:"task_title,omitempty"`

	// ComparisonWindow is the age of the prior follows snapshot (follows tasks only).
	ComparisonWindow string `json:"comparison_window,omitempty"`

	Forwarder *ForwarderConfig `json:"cfg_forwarder,omitempty"`
}

// Kind returns the normalized task type.
func (c CrawlerConfig) Kind() string {
	if strings.EqualFold(strings.TrimSpace(c.TaskType), TaskTypeFollows) {
		return TaskTypeFollows
	}
	return TaskTypeArticle
}

type FormatterConfig struct {
	ID         string           `json:"id"`
	Name       string           `json:"name,omitempty"`
	RenderType string           `json:"render_type,omitempty"`
	Keywords   []string         `json:"keywords,omitempty"`
	Media      *MediaToolConfig `json:"media,omitempty"`
}

// TargetConfig is one delivery destination.
type TargetConfig struct {
	ID          string               `json:"id,omitempty"`
	Platform    string               `json:"platform"`
	CfgPlatform TargetPlatformConfig `json:"cfg_platform"`
}

// TargetPlatformConfig carries connection parameters for every supported
// platform; each adapter reads the fields it needs.
type TargetPlatformConfig struct {
	// onebot (qq)
	URL     string `json:"url,omitempty"`
	GroupID string `json:"group_id,omitempty"`

	// shared: onebot access token or telegram bot token
	Token string `json:"token,omitempty"`

	// telegram
	ChatID   int64 `json:"chat_id,omitempty"`
	ThreadID int   `json:"thread_id,omitempty"`

	MinInterval string `json:"min_interval,omitempty"`
	Timeout     string `json:"timeout,omitempty"`

	// Excluded from the derived target id.
	BlockUntil   string     `json:"block_until,omitempty"`
	ReplaceRegex [][]string `json:"replace_regex,omitempty"`
}

// TargetDefaults are merged under every target's cfg_platform.
type TargetDefaults struct {
	BlockUntil   string     `json:"block_until,omitempty"`
	ReplaceRegex [][]string `json:"replace_regex,omitempty"`
}

// ConnectionsConfig is the routing graph.
type ConnectionsConfig struct {
	CrawlerFormatter map[string][]string `json:"crawler-formatter,omitempty"`
	FormatterTarget  map[string][]string `json:"formatter-target,omitempty"`
	// ForwarderTarget binds a crawler straight to targets using the global defaults.
	ForwarderTarget map[string][]string `json:"forwarder-target,omitempty"`
}

// ProcessorConfig configures an OpenAI-compatible text processor.
type ProcessorConfig struct {
	ID       string `json:"id"`
	Provider string `json:"provider"`
	APIKey   string `json:"api_key,omitempty"`
	BaseURL  string `json:"base_url,omitempty"`
	Model    string `json:"model,omitempty"`
	Prompt   string `json:"prompt,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
}

// AggregationConfig schedules a daily digest for one account.
type AggregationConfig struct {
	ID        string `json:"id"`
	Platform  string `json:"platform"`
	UID       string `json:"u_id"`
	Cron      string `json:"cron,omitempty"`
	Window    string `json:"window,omitempty"`
	Target    string `json:"target"`
	Processor string `json:"processor,omitempty"`
	Prompt    string `json:"prompt,omitempty"`
}

// CardConfig points at the external card render service. An empty URL
// disables cards and every image mode falls back to text.
type CardConfig struct {
	URL     string `json:"url,omitempty"`
	Timeout string `json:"timeout,omitempty"`
	Dir     string `json:"dir,omitempty"`
}

type MediaConfig struct {
	CacheDir  string          `json:"cache_dir,omitempty"`
	Timeout   string          `json:"timeout,omitempty"`
	GalleryDL GalleryDLConfig `json:"gallery_dl,omitempty"`
}

type GalleryDLConfig struct {
	Path    string   `json:"path,omitempty"`
	Args    []string `json:"args,omitempty"`
	Timeout string   `json:"timeout,omitempty"`
}
