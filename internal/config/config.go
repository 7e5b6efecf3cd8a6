package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
	Ingest  IngestConfig  `yaml:"ingest" mapstructure:"ingest"`
	Matcher MatcherConfig `yaml:"matcher" mapstructure:"matcher"`
	Scoring ScoringConfig `yaml:"scoring" mapstructure:"scoring"`
	Merge   MergeConfig   `yaml:"merge" mapstructure:"merge"`
	Sources SourcesConfig `yaml:"sources" mapstructure:"sources"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "sqlite" or "postgres"
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the read API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AdminToken     string   `yaml:"admin_token" mapstructure:"admin_token"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// IngestConfig configures the batch orchestrator.
type IngestConfig struct {
	// Concurrency is the worker pool size: how many sources fetch in parallel.
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
	// MaxRetries bounds per-source fetch attempts before the source is marked
	// failed for the run.
	MaxRetries int `yaml:"max_retries" mapstructure:"max_retries"`
	// HTTPTimeoutSecs is the per-call timeout; batches have no overall timeout
	// so one slow source cannot stall the others.
	HTTPTimeoutSecs int `yaml:"http_timeout_secs" mapstructure:"http_timeout_secs"`
	// DeactivateAfterDays is the grace period after which a representative no
	// source still reports is soft-deactivated.
	DeactivateAfterDays int `yaml:"deactivate_after_days" mapstructure:"deactivate_after_days"`
}

// HTTPTimeout returns the per-call timeout as a duration.
func (c IngestConfig) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSecs) * time.Second
}

// MatcherConfig holds fuzzy-match tuning. These are operational parameters,
// validated against labeled samples, so they are configuration rather than
// constants in the matcher.
type MatcherConfig struct {
	// AcceptThreshold is the minimum fuzzy score for the top candidate.
	AcceptThreshold float64 `yaml:"accept_threshold" mapstructure:"accept_threshold"`
	// AmbiguityMargin rejects the top candidate when the runner-up scores
	// within this distance of it.
	AmbiguityMargin float64 `yaml:"ambiguity_margin" mapstructure:"ambiguity_margin"`
	// JurisdictionBonus / OfficeBonus are added to the name similarity when
	// the candidate's jurisdiction or office matches exactly.
	JurisdictionBonus float64 `yaml:"jurisdiction_bonus" mapstructure:"jurisdiction_bonus"`
	OfficeBonus       float64 `yaml:"office_bonus" mapstructure:"office_bonus"`
}

// ScoringConfig holds confidence and quality-score tuning.
type ScoringConfig struct {
	// Reliability maps source system -> fixed reliability weight (0-1].
	Reliability map[string]float64 `yaml:"reliability" mapstructure:"reliability"`
	// CorroborationBonus is the per-agreeing-source confidence multiplier
	// increment; CorroborationCap bounds the total multiplier.
	CorroborationBonus float64 `yaml:"corroboration_bonus" mapstructure:"corroboration_bonus"`
	CorroborationCap   float64 `yaml:"corroboration_cap" mapstructure:"corroboration_cap"`
	// QualityWeights maps required field -> weight in the 0-100 aggregate.
	QualityWeights map[string]float64 `yaml:"quality_weights" mapstructure:"quality_weights"`
	// MissingFieldPenalty is subtracted per absent required field.
	MissingFieldPenalty float64 `yaml:"missing_field_penalty" mapstructure:"missing_field_penalty"`
}

// ReliabilityFor returns the configured weight for a source, defaulting low
// so an unconfigured source never outranks a configured one.
func (c ScoringConfig) ReliabilityFor(system string) float64 {
	if w, ok := c.Reliability[system]; ok {
		return w
	}
	return 0.5
}

// MergeConfig holds conflict-resolution rules.
type MergeConfig struct {
	// Precedence maps field name -> ordered source list. A listed source
	// outranks an unlisted one for that field regardless of numeric
	// confidence; earlier entries outrank later ones.
	Precedence map[string][]string `yaml:"precedence" mapstructure:"precedence"`
}

// SourcesConfig locates the source catalog and per-source overrides.
type SourcesConfig struct {
	CatalogPath string            `yaml:"catalog_path" mapstructure:"catalog_path"`
	Enabled     []string          `yaml:"enabled" mapstructure:"enabled"`
	Endpoints   map[string]string `yaml:"endpoints" mapstructure:"endpoints"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("REPSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "repsync.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("ingest.concurrency", 4)
	v.SetDefault("ingest.max_retries", 5)
	v.SetDefault("ingest.http_timeout_secs", 30)
	v.SetDefault("ingest.deactivate_after_days", 90)
	v.SetDefault("matcher.accept_threshold", 0.85)
	v.SetDefault("matcher.ambiguity_margin", 0.05)
	v.SetDefault("matcher.jurisdiction_bonus", 0.10)
	v.SetDefault("matcher.office_bonus", 0.05)
	v.SetDefault("scoring.reliability", map[string]float64{
		"federal-bio-registry":      1.00,
		"state-legislature-roster":  0.90,
		"campaign-finance-registry": 0.85,
		"civic-address-api":         0.75,
	})
	v.SetDefault("scoring.corroboration_bonus", 0.10)
	v.SetDefault("scoring.corroboration_cap", 1.30)
	v.SetDefault("scoring.quality_weights", map[string]float64{
		"name":           30,
		"office":         25,
		"jurisdiction":   25,
		"contact_method": 20,
	})
	v.SetDefault("scoring.missing_field_penalty", 5)
	v.SetDefault("merge.precedence", map[string][]string{
		"official_email": {"federal-bio-registry", "state-legislature-roster"},
		"fed_bio_id":     {"federal-bio-registry"},
		"term_start":     {"federal-bio-registry", "state-legislature-roster"},
		"term_end":       {"federal-bio-registry", "state-legislature-roster"},
		"address":        {"civic-address-api"},
	})
	v.SetDefault("sources.catalog_path", "sources.yaml")
	v.SetDefault("sources.enabled", []string{
		"federal-bio-registry",
		"state-legislature-roster",
		"campaign-finance-registry",
		"civic-address-api",
	})

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

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Matcher.AcceptThreshold <= 0 || c.Matcher.AcceptThreshold > 1 {
		return eris.Errorf("config: matcher.accept_threshold %.2f out of (0,1]", c.Matcher.AcceptThreshold)
	}
	if c.Matcher.AmbiguityMargin < 0 || c.Matcher.AmbiguityMargin >= c.Matcher.AcceptThreshold {
		return eris.Errorf("config: matcher.ambiguity_margin %.2f invalid", c.Matcher.AmbiguityMargin)
	}
	if c.Scoring.CorroborationCap < 1 {
		return eris.Errorf("config: scoring.corroboration_cap %.2f must be >= 1", c.Scoring.CorroborationCap)
	}
	for sys, w := range c.Scoring.Reliability {
		if w <= 0 || w > 1 {
			return eris.Errorf("config: scoring.reliability[%s] %.2f out of (0,1]", sys, w)
		}
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
