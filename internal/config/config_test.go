package config

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/JakeFAU/chainmap/internal/mimetype"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Hit.Preset != mimetype.PresetFulltext {
		t.Fatalf("expected fulltext preset, got %q", cfg.Hit.Preset)
	}
	if !slices.Equal(cfg.Hit.StatusCodes, []int{200, 226}) {
		t.Fatalf("unexpected status codes %v", cfg.Hit.StatusCodes)
	}
	if cfg.Graph.Backend != BackendSQLite || cfg.Pipeline.ForwardMaxHops != 40 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Results.Table != "crawl_result" || cfg.Export.PubSub.Enabled() {
		t.Fatalf("unexpected results/export defaults: %+v", cfg)
	}

	opts, err := cfg.ChainOptions()
	if err != nil {
		t.Fatalf("ChainOptions() error = %v", err)
	}
	if opts.TinyOctetStreamBytes != 1000 || opts.CheckpointEvery != 2000 {
		t.Fatalf("unexpected chain options %+v", opts)
	}
	if !opts.Scope.Admits(226, mimetype.PDF) || opts.Scope.Admits(200, mimetype.HTML) {
		t.Fatalf("fulltext scope misconfigured")
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
logging:
  development: true
  level: warn
hit:
  preset: html
  status_codes: [200]
graph:
  backend: badger
  batch_size: 100
pipeline:
  checkpoint_every: 10
  progress_every: 0
  forward_max_hops: 12
  tiny_octet_stream_bytes: 50
results:
  table: results_2018
  max_conns: 8
  max_conn_lifetime: 5m
metrics:
  listen_addr: 127.0.0.1:9102
export:
  pubsub:
    project_id: proj
    topic_id: rows
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Logging.Development || cfg.Logging.Level != "warn" {
		t.Fatalf("expected logging overrides, got %+v", cfg.Logging)
	}
	if cfg.Hit.Preset != mimetype.PresetHTML || !slices.Equal(cfg.Hit.StatusCodes, []int{200}) {
		t.Fatalf("expected hit overrides, got %+v", cfg.Hit)
	}
	if cfg.Graph.Backend != BackendBadger || cfg.Graph.BatchSize != 100 {
		t.Fatalf("expected graph overrides, got %+v", cfg.Graph)
	}
	if cfg.Pipeline.ForwardMaxHops != 12 || cfg.Pipeline.TinyOctetStreamBytes != 50 {
		t.Fatalf("expected pipeline overrides, got %+v", cfg.Pipeline)
	}
	if cfg.Results.Table != "results_2018" || cfg.Results.MaxConnLifetime != 5*time.Minute {
		t.Fatalf("expected results overrides, got %+v", cfg.Results)
	}
	if !cfg.Export.PubSub.Enabled() || cfg.Metrics.ListenAddr != "127.0.0.1:9102" {
		t.Fatalf("expected export/metrics overrides, got %+v %+v", cfg.Export, cfg.Metrics)
	}
}

func TestLoadEnvAndFlags(t *testing.T) {
	t.Setenv("CHAINMAP_PIPELINE_FORWARD_MAX_HOPS", "7")
	t.Setenv("CHAINMAP_GRAPH_BACKEND", "memory")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("graph-backend", BackendSQLite, "")
	flags.Bool("dev-log", false, "")
	if err := flags.Parse([]string{"--graph-backend=badger"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := Load("", flags)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Pipeline.ForwardMaxHops != 7 {
		t.Fatalf("expected env override, got %d", cfg.Pipeline.ForwardMaxHops)
	}
	if cfg.Graph.Backend != BackendBadger {
		t.Fatalf("expected flag to beat env, got %q", cfg.Graph.Backend)
	}
	if cfg.Logging.Development {
		t.Fatalf("unset flag must not override default")
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown preset", func(c *Config) { c.Hit.Preset = "images" }, "hit.preset"},
		{"bad status", func(c *Config) { c.Hit.StatusCodes = []int{200, 42} }, "hit.status_codes"},
		{"unknown backend", func(c *Config) { c.Graph.Backend = "redis" }, "graph.backend"},
		{"zero batch", func(c *Config) { c.Graph.BatchSize = 0 }, "graph.batch_size"},
		{"zero hops", func(c *Config) { c.Pipeline.ForwardMaxHops = 0 }, "pipeline.forward_max_hops"},
		{"negative checkpoint", func(c *Config) { c.Pipeline.CheckpointEvery = -1 }, "pipeline.checkpoint_every"},
		{"negative tiny", func(c *Config) { c.Pipeline.TinyOctetStreamBytes = -1 }, "pipeline.tiny_octet_stream_bytes"},
		{"bad table", func(c *Config) { c.Results.Table = "crawl; DROP" }, "results.table"},
		{"zero conns", func(c *Config) { c.Results.MaxConns = 0 }, "results.max_conns"},
		{"half pubsub", func(c *Config) { c.Export.PubSub.ProjectID = "p" }, "export.pubsub"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			cfg.Hit.StatusCodes = slices.Clone(base.Hit.StatusCodes)
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
