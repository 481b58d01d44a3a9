// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Unbounded disables the crawler page cap.
const Unbounded = -1

// Supported ledger and upload backends.
const (
	LedgerFile     = "file"
	LedgerPostgres = "postgres"
	LedgerNone     = "none"

	UploadCommand = "command"
	UploadGCS     = "gcs"
	UploadNone    = "none"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Site      SiteConfig      `mapstructure:"site"`
	Session   SessionConfig   `mapstructure:"session"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Compactor CompactorConfig `mapstructure:"compactor"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Upload    UploadConfig    `mapstructure:"upload"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	DB        DBConfig        `mapstructure:"db"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// SiteConfig describes the URL layout and selectors of the harvested site.
// LandingPath takes the tag; PagePath takes the tag and a page number.
type SiteConfig struct {
	BaseURL            string `mapstructure:"base_url"`
	LandingPath        string `mapstructure:"landing_path"`
	PagePath           string `mapstructure:"page_path"`
	LoginPath          string `mapstructure:"login_path"`
	LogoutPath         string `mapstructure:"logout_path"`
	Referer            string `mapstructure:"referer"`
	PaginationSelector string `mapstructure:"pagination_selector"`
	EntrySelector      string `mapstructure:"entry_selector"`
	ImageSelector      string `mapstructure:"image_selector"`
	VideoSelector      string `mapstructure:"video_selector"`
}

// SessionConfig controls cookie persistence and login.
type SessionConfig struct {
	CookiePath    string `mapstructure:"cookie_path"`
	Username      string `mapstructure:"username"`
	Password      string `mapstructure:"password"`
	SuccessMarker string `mapstructure:"success_marker"`
}

// HTTPConfig configures the authenticated client.
type HTTPConfig struct {
	UserAgent      string  `mapstructure:"user_agent"`
	Platform       string  `mapstructure:"platform"`
	AcceptLanguage string  `mapstructure:"accept_language"`
	MaxRedirects   int     `mapstructure:"max_redirects"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	MaxRPS         float64 `mapstructure:"max_rps"`
}

// CrawlerConfig governs page discovery and item processing.
type CrawlerConfig struct {
	MaxPage   int           `mapstructure:"max_page"`
	PageDelay time.Duration `mapstructure:"page_delay"`
	ItemDelay time.Duration `mapstructure:"item_delay"`
}

// CompactorConfig governs the scan/fetch/archive loop.
type CompactorConfig struct {
	ChunkBound    int           `mapstructure:"chunk_bound"`
	UnitDelay     time.Duration `mapstructure:"unit_delay"`
	ArchivePrefix string        `mapstructure:"archive_prefix"`
	Ledger        string        `mapstructure:"ledger"`
}

// FetchConfig configures the external retrieval tool.
type FetchConfig struct {
	Binary         string `mapstructure:"binary"`
	Retries        int    `mapstructure:"retries"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// ArchiveConfig configures the external archive tool.
type ArchiveConfig struct {
	Binary string `mapstructure:"binary"`
}

// UploadConfig selects and configures the upload backend.
type UploadConfig struct {
	Backend    string   `mapstructure:"backend"`
	Command    []string `mapstructure:"command"`
	RemotePath string   `mapstructure:"remote_path"`
	GCSBucket  string   `mapstructure:"gcs_bucket"`
	GCSPrefix  string   `mapstructure:"gcs_prefix"`
}

// PubSubConfig holds metadata for batch notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// DBConfig controls access to the Postgres ledger.
type DBConfig struct {
	DSN string `mapstructure:"dsn"`
}

// MetricsConfig enables the ops HTTP server.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVEST")
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
	v.SetDefault("logging.development", true)

	v.SetDefault("site.base_url", "https://www.cosjun.cn")
	v.SetDefault("site.landing_path", "/%s?ref=cosjun")
	v.SetDefault("site.page_path", "/%s/page/%d?ref=cosjun")
	v.SetDefault("site.login_path", "/wp-admin/admin-ajax.php")
	v.SetDefault("site.logout_path", "/wp-login.php?action=logout")
	v.SetDefault("site.referer", "https://www.cosjun.cn/")
	v.SetDefault("site.pagination_selector", ".numeric-pagination .page-numbers > li")
	v.SetDefault("site.entry_selector", ".entry-wrapper .entry-title a")
	v.SetDefault("site.image_selector", ".gallery-icon > a")
	v.SetDefault("site.video_selector", "video > a")

	v.SetDefault("session.cookie_path", "./session.json")
	v.SetDefault("session.username", "")
	v.SetDefault("session.password", "")
	v.SetDefault("session.success_marker", `"status":"1"`)

	v.SetDefault("http.user_agent",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/109.0.0.0 Safari/537.36")
	v.SetDefault("http.platform", "Linux")
	v.SetDefault("http.accept_language", "zh-CN,zh;q=0.9")
	v.SetDefault("http.max_redirects", 5)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_rps", 0)

	v.SetDefault("crawler.max_page", Unbounded)
	v.SetDefault("crawler.page_delay", "1s")
	v.SetDefault("crawler.item_delay", "2s")

	v.SetDefault("compactor.chunk_bound", 40)
	v.SetDefault("compactor.unit_delay", "10s")
	v.SetDefault("compactor.archive_prefix", "cos")
	v.SetDefault("compactor.ledger", LedgerFile)

	v.SetDefault("fetch.binary", "wget")
	v.SetDefault("fetch.retries", 5)
	v.SetDefault("fetch.timeout_seconds", 120)

	v.SetDefault("archive.binary", "tar")

	v.SetDefault("upload.backend", UploadCommand)
	v.SetDefault("upload.command", []string{"alidrive", "-c", "./alidrive.yaml"})
	v.SetDefault("upload.remote_path", "CosJun/zips")
	v.SetDefault("upload.gcs_bucket", "")
	v.SetDefault("upload.gcs_prefix", "archives")

	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("metrics.listen_addr", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Site.BaseURL) == "" {
		return fmt.Errorf("site.base_url must be set")
	}
	if c.HTTP.MaxRedirects < 0 {
		return fmt.Errorf("http.max_redirects must be >= 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRPS < 0 {
		return fmt.Errorf("http.max_rps must be >= 0")
	}
	if c.Crawler.MaxPage == 0 || c.Crawler.MaxPage < Unbounded {
		return fmt.Errorf("crawler.max_page must be > 0 or %d for unbounded", Unbounded)
	}
	if c.Crawler.PageDelay < 0 || c.Crawler.ItemDelay < 0 || c.Compactor.UnitDelay < 0 {
		return fmt.Errorf("delays must be >= 0")
	}
	if c.Compactor.ChunkBound <= 0 {
		return fmt.Errorf("compactor.chunk_bound must be > 0")
	}
	switch c.Compactor.Ledger {
	case LedgerFile, LedgerNone:
	case LedgerPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when compactor.ledger is %q", LedgerPostgres)
		}
	default:
		return fmt.Errorf("unknown compactor.ledger %q", c.Compactor.Ledger)
	}
	// wget treats -t 0 as unlimited retries.
	if c.Fetch.Retries < 1 {
		return fmt.Errorf("fetch.retries must be >= 1")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	switch c.Upload.Backend {
	case UploadNone:
	case UploadCommand:
		if len(c.Upload.Command) == 0 {
			return fmt.Errorf("upload.command must be set when upload.backend is %q", UploadCommand)
		}
	case UploadGCS:
		if c.Upload.GCSBucket == "" {
			return fmt.Errorf("upload.gcs_bucket must be set when upload.backend is %q", UploadGCS)
		}
	default:
		return fmt.Errorf("unknown upload.backend %q", c.Upload.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// HTTPTimeout converts the configured timeout into a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}
