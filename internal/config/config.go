// Package config loads and validates ingestion configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/technews-ingest/internal/crawler"
	"github.com/JakeFAU/technews-ingest/internal/jalali"
)

// EnvPrefix namespaces environment overrides, e.g. TECHNEWS_DB_DSN.
const EnvPrefix = "TECHNEWS"

// Renderer kinds.
const (
	RendererHeadless = "headless"
	RendererStatic   = "static"
)

// Snapshot backends.
const (
	SnapshotsNone   = "none"
	SnapshotsMemory = "memory"
	SnapshotsLocal  = "local"
	SnapshotsGCS    = "gcs"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Archive   ArchiveConfig     `mapstructure:"archive"`
	Source    SourceConfig      `mapstructure:"source"`
	Renderer  RendererConfig    `mapstructure:"renderer"`
	Selectors crawler.Selectors `mapstructure:"selectors"`
	DB        DBConfig          `mapstructure:"db"`
	Snapshots SnapshotsConfig   `mapstructure:"snapshots"`
	PubSub    PubSubConfig      `mapstructure:"pubsub"`
	Metrics   MetricsConfig     `mapstructure:"metrics"`
	Logging   LoggingConfig     `mapstructure:"logging"`
	Telemetry TelemetryConfig   `mapstructure:"telemetry"`
}

// ArchiveConfig locates the paginated listing.
type ArchiveConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	PageParam      string `mapstructure:"page_param"`
	UnseenMaxPages int    `mapstructure:"unseen_max_pages"`
}

// SourceConfig describes the publisher's locale.
type SourceConfig struct {
	Timezone string `mapstructure:"timezone"`
}

// RendererConfig selects and tunes the page renderer.
type RendererConfig struct {
	Kind              string  `mapstructure:"kind"`
	UserAgent         string  `mapstructure:"user_agent"`
	AcceptLanguage    string  `mapstructure:"accept_language"`
	NavTimeoutSeconds int     `mapstructure:"nav_timeout_seconds"`
	SettleMs          int     `mapstructure:"settle_ms"`
	ExecPath          string  `mapstructure:"exec_path"`
	RespectRobots     bool    `mapstructure:"respect_robots"`
	MaxAttempts       int     `mapstructure:"max_attempts"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// SnapshotsConfig selects where rendered detail pages are archived.
type SnapshotsConfig struct {
	Backend   string `mapstructure:"backend"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for record notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// MetricsConfig controls the operator HTTP listener.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	ProjectID   string  `mapstructure:"project_id"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from an optional file and the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	selectors := crawler.DefaultSelectors()

	v.SetDefault("archive.base_url", "https://www.zoomit.ir/archive/")
	v.SetDefault("archive.page_param", "pageNumber")
	v.SetDefault("archive.unseen_max_pages", 5)
	v.SetDefault("source.timezone", jalali.DefaultTimezone)
	v.SetDefault("renderer.kind", RendererHeadless)
	v.SetDefault("renderer.user_agent", "technews-ingest/1.0")
	v.SetDefault("renderer.accept_language", "fa-IR,fa;q=0.9")
	v.SetDefault("renderer.nav_timeout_seconds", 30)
	v.SetDefault("renderer.settle_ms", 500)
	v.SetDefault("renderer.exec_path", "")
	v.SetDefault("renderer.respect_robots", false)
	v.SetDefault("renderer.max_attempts", 1)
	v.SetDefault("renderer.requests_per_second", 0)
	v.SetDefault("renderer.burst", 1)
	v.SetDefault("selectors.listing_link", selectors.ListingLink)
	v.SetDefault("selectors.title", selectors.Title)
	v.SetDefault("selectors.body", selectors.Body)
	v.SetDefault("selectors.labels", selectors.Labels)
	v.SetDefault("selectors.published_at", selectors.PublishedAt)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("snapshots.backend", SnapshotsNone)
	v.SetDefault("snapshots.base_dir", "data/snapshots")
	v.SetDefault("snapshots.gcs_bucket", "")
	v.SetDefault("snapshots.prefix", "pages")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "technews-ingest")
	v.SetDefault("telemetry.project_id", "")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	u, err := url.Parse(c.Archive.BaseURL)
	if err != nil || !u.IsAbs() {
		return fmt.Errorf("archive.base_url must be an absolute URL, got %q", c.Archive.BaseURL)
	}
	if c.Archive.UnseenMaxPages <= 0 {
		return fmt.Errorf("archive.unseen_max_pages must be > 0")
	}
	switch c.Renderer.Kind {
	case RendererHeadless, RendererStatic:
	default:
		return fmt.Errorf("renderer.kind must be %q or %q, got %q", RendererHeadless, RendererStatic, c.Renderer.Kind)
	}
	if c.Renderer.NavTimeoutSeconds <= 0 {
		return fmt.Errorf("renderer.nav_timeout_seconds must be > 0")
	}
	if c.Renderer.SettleMs < 0 {
		return fmt.Errorf("renderer.settle_ms must be >= 0")
	}
	if c.Renderer.MaxAttempts < 1 {
		return fmt.Errorf("renderer.max_attempts must be >= 1")
	}
	if c.Renderer.RequestsPerSecond < 0 {
		return fmt.Errorf("renderer.requests_per_second must be >= 0")
	}
	if err := c.Selectors.Validate(); err != nil {
		return err
	}
	if c.DB.MaxConns < 0 {
		return fmt.Errorf("db.max_conns must be >= 0")
	}
	switch c.Snapshots.Backend {
	case SnapshotsNone, SnapshotsMemory:
	case SnapshotsLocal:
		if strings.TrimSpace(c.Snapshots.BaseDir) == "" {
			return fmt.Errorf("snapshots.base_dir is required for the local backend")
		}
	case SnapshotsGCS:
		if c.Snapshots.GCSBucket == "" {
			return fmt.Errorf("snapshots.gcs_bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("snapshots.backend %q is not supported", c.Snapshots.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0, 1]")
	}
	return nil
}

// CrawlArchive converts the archive section for the crawler.
func (c Config) CrawlArchive() crawler.Archive {
	return crawler.Archive{BaseURL: c.Archive.BaseURL, PageParam: c.Archive.PageParam}
}

// Location resolves the source timezone.
func (c Config) Location() *time.Location {
	return jalali.LoadLocation(c.Source.Timezone)
}

// NavTimeout returns the per-navigation budget.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Renderer.NavTimeoutSeconds) * time.Second
}

// Settle returns the post-load wait for client-side rendering.
func (c Config) Settle() time.Duration {
	return time.Duration(c.Renderer.SettleMs) * time.Millisecond
}
