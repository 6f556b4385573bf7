package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/bradbeattie/api.iscanadafair.ca/internal/model"
	"github.com/bradbeattie/api.iscanadafair.ca/internal/resolve"
)

// Config holds the full application configuration.
type Config struct {
	Store        StoreConfig      `yaml:"store" mapstructure:"store"`
	Log          LogConfig        `yaml:"log" mapstructure:"log"`
	Batch        BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Corpus       CorpusConfig     `yaml:"corpus" mapstructure:"corpus"`
	Resolve      ResolveConfig    `yaml:"resolve" mapstructure:"resolve"`
	Escalation   EscalationConfig `yaml:"escalation" mapstructure:"escalation"`
	Server       ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring   MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	KnownDefects []KnownDefect    `yaml:"known_defects" mapstructure:"known_defects"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	MaxConcurrentSittings int         `yaml:"max_concurrent_sittings" mapstructure:"max_concurrent_sittings"`
	Retry                 RetryConfig `yaml:"retry" mapstructure:"retry"`
}

// RetryConfig tunes retries of transient store failures.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// CorpusConfig locates the cached transcript documents and the curated
// tables that accompany them.
type CorpusConfig struct {
	// Dir holds <sitting>/<LANG>.xml files.
	Dir string `yaml:"dir" mapstructure:"dir"`
	// Archive, when set, is a zip with the same layout and takes precedence.
	Archive string `yaml:"archive" mapstructure:"archive"`
	// Primary is the language whose document drives segmentation.
	Primary string `yaml:"primary" mapstructure:"primary"`
	// SpeakersPath replaces the embedded curated speaker table.
	SpeakersPath string `yaml:"speakers_path" mapstructure:"speakers_path"`
}

// ResolveConfig configures the entity resolver.
type ResolveConfig struct {
	resolve.Config `yaml:",inline" mapstructure:",squash"`
	// OverridesPath replaces the embedded override table.
	OverridesPath string `yaml:"overrides_path" mapstructure:"overrides_path"`
}

// EscalationConfig selects how inconclusive resolutions reach a human.
type EscalationConfig struct {
	// Mode is "queue" (stored for later review) or "prompt" (interactive).
	Mode string `yaml:"mode" mapstructure:"mode"`
}

// ServerConfig configures the review server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// MonitoringConfig configures background alert checks run by the server.
type MonitoringConfig struct {
	Enabled                    bool    `yaml:"enabled" mapstructure:"enabled"`
	CheckIntervalSecs          int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours        int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold       float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	EscalationBacklogThreshold int     `yaml:"escalation_backlog_threshold" mapstructure:"escalation_backlog_threshold"`
	WebhookURL                 string  `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// KnownDefect documents a sitting whose source files are malformed upstream.
type KnownDefect struct {
	Sitting string `yaml:"sitting" mapstructure:"sitting"`
	// Mode is "skip" (do not segment) or "relaxed" (pass unknown tags through).
	Mode   string `yaml:"mode" mapstructure:"mode"`
	Reason string `yaml:"reason" mapstructure:"reason"`
}

// Known defect handling modes.
const (
	DefectSkip    = "skip"
	DefectRelaxed = "relaxed"
)

// Escalation modes.
const (
	EscalationQueue  = "queue"
	EscalationPrompt = "prompt"
)

// Defect returns the documented defect for a sitting, if any.
func (c *Config) Defect(sittingID string) (KnownDefect, bool) {
	for _, d := range c.KnownDefects {
		if d.Sitting == sittingID {
			return d, true
		}
	}
	return KnownDefect{}, false
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ISCANADAFAIR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	res := resolve.DefaultConfig()
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "iscanadafair.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("batch.max_concurrent_sittings", 4)
	v.SetDefault("batch.retry.max_attempts", 5)
	v.SetDefault("batch.retry.initial_backoff_ms", 50)
	v.SetDefault("batch.retry.max_backoff_ms", 2000)
	v.SetDefault("corpus.dir", "hansard")
	v.SetDefault("corpus.primary", "EN")
	v.SetDefault("resolve.exact_threshold", res.ExactThreshold)
	v.SetDefault("resolve.partial_threshold", res.PartialThreshold)
	v.SetDefault("resolve.max_candidates", res.MaxCandidates)
	v.SetDefault("resolve.max_retries", res.MaxRetries)
	v.SetDefault("escalation.mode", EscalationQueue)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.10)
	v.SetDefault("monitoring.escalation_backlog_threshold", 50)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		problems = append(problems, fmt.Sprintf("store.driver %q must be sqlite or postgres", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required")
	}

	switch mode {
	case "parse", "batch":
		if c.Corpus.Dir == "" && c.Corpus.Archive == "" {
			problems = append(problems, "corpus.dir or corpus.archive is required")
		}
		if _, ok := model.ParseLang(c.Corpus.Primary); !ok {
			problems = append(problems, fmt.Sprintf("corpus.primary %q must be EN or FR", c.Corpus.Primary))
		}
		if c.Batch.MaxConcurrentSittings < 1 || c.Batch.MaxConcurrentSittings > 64 {
			problems = append(problems, "batch.max_concurrent_sittings must be between 1 and 64")
		}
		switch c.Escalation.Mode {
		case EscalationQueue, EscalationPrompt:
		default:
			problems = append(problems, fmt.Sprintf("escalation.mode %q must be queue or prompt", c.Escalation.Mode))
		}
		if c.Resolve.PartialThreshold < 0 || c.Resolve.PartialThreshold > 1 {
			problems = append(problems, "resolve.partial_threshold must be between 0 and 1")
		}
		if c.Resolve.ExactThreshold < c.Resolve.PartialThreshold || c.Resolve.ExactThreshold > 1 {
			problems = append(problems, "resolve.exact_threshold must be between partial_threshold and 1")
		}
		for _, d := range c.KnownDefects {
			if d.Mode != DefectSkip && d.Mode != DefectRelaxed {
				problems = append(problems, fmt.Sprintf("known_defects %s: mode %q must be skip or relaxed", d.Sitting, d.Mode))
			}
		}
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
		if c.Monitoring.Enabled && (c.Monitoring.FailureRateThreshold <= 0 || c.Monitoring.FailureRateThreshold > 1) {
			problems = append(problems, "monitoring.failure_rate_threshold must be between 0 and 1")
		}
	case "import", "migrate", "review":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
