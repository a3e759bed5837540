// Package config loads and validates chainmap configuration via Viper.
package config

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/JakeFAU/chainmap/internal/chain"
	"github.com/JakeFAU/chainmap/internal/mimetype"
)

// Graph backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging"`
	Hit      HitConfig      `mapstructure:"hit"`
	Graph    GraphConfig    `mapstructure:"graph"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Results  ResultsConfig  `mapstructure:"results"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Export   ExportConfig   `mapstructure:"export"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// HitConfig decides which captures count as terminal hits.
type HitConfig struct {
	Preset      string `mapstructure:"preset"`
	StatusCodes []int  `mapstructure:"status_codes"`
}

// GraphConfig selects the referrer graph backend.
type GraphConfig struct {
	Backend   string `mapstructure:"backend"`
	BatchSize int    `mapstructure:"batch_size"`
}

// PipelineConfig holds the resolution thresholds.
type PipelineConfig struct {
	CheckpointEvery      int   `mapstructure:"checkpoint_every"`
	ProgressEvery        int   `mapstructure:"progress_every"`
	ForwardMaxHops       int   `mapstructure:"forward_max_hops"`
	TinyOctetStreamBytes int64 `mapstructure:"tiny_octet_stream_bytes"`
}

// ResultsConfig controls the result store.
type ResultsConfig struct {
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// MetricsConfig exposes metrics over HTTP and/or a textfile written at exit.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	Textfile   string `mapstructure:"textfile"`
}

// ExportConfig configures where dumped rows are published.
type ExportConfig struct {
	PubSub PubSubConfig `mapstructure:"pubsub"`
}

// PubSubConfig names the topic receiving dumped rows. Publishing is off unless both
// fields are set.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// Enabled reports whether rows should be published.
func (p PubSubConfig) Enabled() bool {
	return p.ProjectID != "" && p.TopicID != ""
}

// FlagKeys maps command-line flag names to the config keys they override.
var FlagKeys = map[string]string{
	"dev-log":       "logging.development",
	"log-level":     "logging.level",
	"graph-backend": "graph.backend",
	"metrics-addr":  "metrics.listen_addr",
	"metrics-file":  "metrics.textfile",
}

// Load builds a Config from defaults, an optional YAML file, CHAINMAP_* environment
// variables and any flags in FlagKeys that were set on flags.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CHAINMAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if flags != nil {
		for name, key := range FlagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
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
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")
	v.SetDefault("hit.preset", mimetype.PresetFulltext)
	v.SetDefault("hit.status_codes", chain.DefaultHitStatusCodes)
	v.SetDefault("graph.backend", BackendSQLite)
	v.SetDefault("graph.batch_size", 5000)
	v.SetDefault("pipeline.checkpoint_every", 2000)
	v.SetDefault("pipeline.progress_every", 5000)
	v.SetDefault("pipeline.forward_max_hops", chain.DefaultForwardMaxHops)
	v.SetDefault("pipeline.tiny_octet_stream_bytes", 1000)
	v.SetDefault("results.table", "crawl_result")
	v.SetDefault("results.max_conns", 4)
	v.SetDefault("results.min_conns", 0)
	v.SetDefault("results.max_conn_lifetime", time.Hour)
	v.SetDefault("metrics.listen_addr", "")
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("export.pubsub.project_id", "")
	v.SetDefault("export.pubsub.topic_id", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if _, err := mimetype.PresetSet(c.Hit.Preset); err != nil {
		return fmt.Errorf("hit.preset: %w", err)
	}
	for _, code := range c.Hit.StatusCodes {
		if code < 100 || code > 599 {
			return fmt.Errorf("hit.status_codes: %d is not a status code", code)
		}
	}
	if !slices.Contains([]string{BackendMemory, BackendSQLite, BackendBadger}, c.Graph.Backend) {
		return fmt.Errorf("graph.backend must be one of memory, sqlite, badger; got %q", c.Graph.Backend)
	}
	if c.Graph.BatchSize <= 0 {
		return fmt.Errorf("graph.batch_size must be > 0")
	}
	if c.Pipeline.ForwardMaxHops <= 0 {
		return fmt.Errorf("pipeline.forward_max_hops must be > 0")
	}
	if c.Pipeline.CheckpointEvery < 0 || c.Pipeline.ProgressEvery < 0 {
		return fmt.Errorf("pipeline.checkpoint_every and pipeline.progress_every must be >= 0")
	}
	if c.Pipeline.TinyOctetStreamBytes < 0 {
		return fmt.Errorf("pipeline.tiny_octet_stream_bytes must be >= 0")
	}
	if !tableName.MatchString(c.Results.Table) {
		return fmt.Errorf("results.table %q is not a valid identifier", c.Results.Table)
	}
	if c.Results.MaxConns <= 0 {
		return fmt.Errorf("results.max_conns must be > 0")
	}
	if (c.Export.PubSub.ProjectID == "") != (c.Export.PubSub.TopicID == "") {
		return fmt.Errorf("export.pubsub.project_id and export.pubsub.topic_id must be set together")
	}
	return nil
}

// ChainOptions converts the pipeline and hit settings into chain.Options. Observer and
// Logger are left for the caller.
func (c Config) ChainOptions() (chain.Options, error) {
	scope, err := chain.NewScope(c.Hit.Preset, c.Hit.StatusCodes)
	if err != nil {
		return chain.Options{}, fmt.Errorf("hit scope: %w", err)
	}
	return chain.Options{
		Scope:                scope,
		ForwardMaxHops:       c.Pipeline.ForwardMaxHops,
		TinyOctetStreamBytes: c.Pipeline.TinyOctetStreamBytes,
		CheckpointEvery:      c.Pipeline.CheckpointEvery,
		ProgressEvery:        c.Pipeline.ProgressEvery,
	}, nil
}
