package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type ValueSource string

const (
	SourceUnknown ValueSource = "unknown"
	SourceConfig  ValueSource = "config"
	SourceEnv     ValueSource = "env"
	SourceCLI     ValueSource = "cli"
	SourceDefault ValueSource = "default"
)

// Built-in defaults, reported with SourceDefault.
const (
	DefaultDBPath    = "~/.rollcall/rollcall.db"
	DefaultMode      = "auto"
	DefaultEncoding  = "auto"
	DefaultWorkers   = 1
	DefaultBatchSize = 500
)

type ResolvedValue struct {
	Value  string      `json:"value"`
	Source ValueSource `json:"source"`
	From   string      `json:"from,omitempty"`
}

// Int parses the value, returning fallback when it is empty or malformed.
func (v ResolvedValue) Int(fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(v.Value))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

type ResolveOptions struct {
	ConfigPath     string
	CLIDBPath      string
	CLIMode        string
	CLIEncoding    string
	CLIProfile     string
	CLIWorkers     string
	CLIMetricsFile string
}

type ResolvedConfig struct {
	ConfigPath string `json:"config_path"`

	DBPath      ResolvedValue `json:"db_path"`
	Mode        ResolvedValue `json:"mode"`
	Encoding    ResolvedValue `json:"encoding"`
	ProfilePath ResolvedValue `json:"profile_path"`
	Workers     ResolvedValue `json:"workers"`
	BatchSize   ResolvedValue `json:"batch_size"`
	MetricsFile ResolvedValue `json:"metrics_file"`
}

type fileConfig struct {
	DBPath      string `yaml:"db_path"`
	Mode        string `yaml:"mode"`
	Encoding    string `yaml:"encoding"`
	Profile     string `yaml:"profile"`
	Workers     int    `yaml:"workers"`
	BatchSize   int    `yaml:"batch_size"`
	MetricsFile string `yaml:"metrics_file"`
}

func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".rollcall", "config.yaml")
}

// ResolveConfig layers built-in defaults, the YAML config file, environment
// variables and CLI flags, in that order. Each value records where it came from.
func ResolveConfig(opts ResolveOptions) (ResolvedConfig, error) {
	path := strings.TrimSpace(opts.ConfigPath)
	if path == "" {
		path = DefaultConfigPath()
	}

	out := ResolvedConfig{ConfigPath: path}
	apply(&out.DBPath, DefaultDBPath, SourceDefault, "built-in default")
	apply(&out.Mode, DefaultMode, SourceDefault, "built-in default")
	apply(&out.Encoding, DefaultEncoding, SourceDefault, "built-in default")
	apply(&out.Workers, strconv.Itoa(DefaultWorkers), SourceDefault, "built-in default")
	apply(&out.BatchSize, strconv.Itoa(DefaultBatchSize), SourceDefault, "built-in default")

	cfg, err := loadConfig(path)
	if err != nil {
		return out, err
	}

	if cfg != nil {
		apply(&out.DBPath, cfg.DBPath, SourceConfig, path)
		apply(&out.Mode, cfg.Mode, SourceConfig, path)
		apply(&out.Encoding, cfg.Encoding, SourceConfig, path)
		apply(&out.ProfilePath, resolveRelative(cfg.Profile, path), SourceConfig, path)
		apply(&out.MetricsFile, cfg.MetricsFile, SourceConfig, path)
		if cfg.Workers > 0 {
			apply(&out.Workers, strconv.Itoa(cfg.Workers), SourceConfig, path)
		}
		if cfg.BatchSize > 0 {
			apply(&out.BatchSize, strconv.Itoa(cfg.BatchSize), SourceConfig, path)
		}
	}

	applyEnv(&out.DBPath, "ROLLCALL_DB")
	applyEnv(&out.Mode, "ROLLCALL_MODE")
	applyEnv(&out.Encoding, "ROLLCALL_ENCODING")
	applyEnv(&out.ProfilePath, "ROLLCALL_PROFILE")
	applyEnv(&out.Workers, "ROLLCALL_WORKERS")
	applyEnv(&out.BatchSize, "ROLLCALL_BATCH_SIZE")
	applyEnv(&out.MetricsFile, "ROLLCALL_METRICS_FILE")

	apply(&out.DBPath, opts.CLIDBPath, SourceCLI, "--db")
	apply(&out.Mode, opts.CLIMode, SourceCLI, "--mode")
	apply(&out.Encoding, opts.CLIEncoding, SourceCLI, "--encoding")
	apply(&out.ProfilePath, opts.CLIProfile, SourceCLI, "--profile")
	apply(&out.Workers, opts.CLIWorkers, SourceCLI, "--workers")
	apply(&out.MetricsFile, opts.CLIMetricsFile, SourceCLI, "--metrics-file")

	for _, v := range []*ResolvedValue{&out.DBPath, &out.ProfilePath, &out.MetricsFile} {
		if v.Value != "" {
			v.Value = expandUserPath(v.Value)
		}
	}

	return out, nil
}

func apply(dst *ResolvedValue, raw string, source ValueSource, from string) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return
	}
	*dst = ResolvedValue{Value: v, Source: source, From: from}
}

func applyEnv(dst *ResolvedValue, envKey string) {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		*dst = ResolvedValue{Value: v, Source: SourceEnv, From: envKey}
	}
}

func loadConfig(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

// resolveRelative anchors a relative profile path at the config file's directory.
func resolveRelative(p, configPath string) string {
	p = strings.TrimSpace(p)
	if p == "" || filepath.IsAbs(p) || strings.HasPrefix(p, "~/") {
		return p
	}
	return filepath.Join(filepath.Dir(configPath), p)
}

func expandUserPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
