package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Defaults for the verification target
const (
	DefaultContractAddress = "0xeD766f75738C77179448A5BB98850358801B16e3"
	DefaultBuildInfoPath   = "./artifacts/build-info/kustodia-escrow.json"
	DefaultContractName    = "KustodiaEscrow"
	DefaultExplorerURL     = "https://api.arbiscan.io/api"
	DefaultExplorerTimeout = 30  // seconds
	DefaultExplorerRPS     = 5.0 // free-tier limit
	DefaultPushgatewayJob  = "verify-bytecode"
	DefaultEnvFile         = ".env"
)

// ProjectConfigFiles is the search order for project config files
var ProjectConfigFiles = []string{"verify.toml", ".verify.toml"}

// ErrMissingAPIKey is returned when the explorer is used without ARBISCAN_API_KEY
var ErrMissingAPIKey = errors.New("ARBISCAN_API_KEY is not set")

// Config holds all configuration for a verification run
type Config struct {
	Target   TargetConfig
	Explorer ExplorerConfig
	RPC      RPCConfig
	Logging  LoggingConfig
	Metrics  MetricsConfig
	History  HistoryConfig

	// Sources records which project/env files were read
	Sources []string
}

// TargetConfig identifies the deployed contract and its local build
type TargetConfig struct {
	Address       string
	BuildInfoPath string
	ContractName  string
}

// ExplorerConfig holds block explorer API settings
type ExplorerConfig struct {
	URL     string
	APIKey  string
	Timeout int // seconds
	RPS     float64
}

// RPCConfig holds JSON-RPC node settings. When URL is set the node is used
// instead of the explorer.
type RPCConfig struct {
	URL string
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string
	Format string // "text" or "json"
}

// MetricsConfig holds Prometheus Pushgateway settings
type MetricsConfig struct {
	PushgatewayURL string
	Job            string
}

// HistoryConfig selects where verification runs are recorded. An empty DSN
// disables recording. postgres:// URLs use PostgreSQL, anything else is a
// SQLite file path.
type HistoryConfig struct {
	DSN string
}

// ProjectConfig is the project-level TOML configuration (verify.toml)
type ProjectConfig struct {
	Address       string `toml:"address,omitempty"`
	BuildInfoPath string `toml:"build_info_path,omitempty"`
	ContractName  string `toml:"contract_name,omitempty"`
	RPC           string `toml:"rpc,omitempty"`

	Explorer ExplorerTOML `toml:"explorer,omitempty"`
	Logging  LoggingTOML  `toml:"logging,omitempty"`
	Metrics  MetricsTOML  `toml:"metrics,omitempty"`
	History  HistoryTOML  `toml:"history,omitempty"`
}

// ExplorerTOML contains explorer settings for project config.
// The API key is never read from the project file.
type ExplorerTOML struct {
	URL     string  `toml:"url,omitempty"`
	Timeout int     `toml:"timeout,omitempty"`
	RPS     float64 `toml:"rps,omitempty"`
}

// LoggingTOML contains logging settings for project config
type LoggingTOML struct {
	Level  string `toml:"level,omitempty"`
	Format string `toml:"format,omitempty"`
}

// MetricsTOML contains Pushgateway settings for project config
type MetricsTOML struct {
	PushgatewayURL string `toml:"pushgateway_url,omitempty"`
	Job            string `toml:"job,omitempty"`
}

// HistoryTOML contains run history settings for project config
type HistoryTOML struct {
	DSN string `toml:"dsn,omitempty"`
}

// LoadOptions selects the files Load reads
type LoadOptions struct {
	// ConfigFile is an explicit project config path; empty searches ProjectConfigFiles
	ConfigFile string
	// EnvFile is the dotenv file; empty uses DefaultEnvFile, "-" disables it
	EnvFile string
}

// Load resolves configuration. Precedence, highest first: environment
// variables, the dotenv file (never overriding the environment), the
// project TOML file, built-in defaults.
func Load(opts LoadOptions) (*Config, error) {
	var sources []string

	envFile := opts.EnvFile
	if envFile == "" {
		envFile = DefaultEnvFile
	}
	if envFile != "-" {
		loaded, err := loadEnvFile(envFile, opts.EnvFile != "")
		if err != nil {
			return nil, err
		}
		if loaded {
			sources = append(sources, envFile)
		}
	}

	project, projectPath, err := LoadProjectConfig(opts.ConfigFile)
	switch {
	case err == nil:
		sources = append(sources, projectPath)
	case errors.Is(err, os.ErrNotExist) && opts.ConfigFile == "":
		project = &ProjectConfig{}
	default:
		return nil, fmt.Errorf("loading project config: %w", err)
	}

	cfg := &Config{
		Target: TargetConfig{
			Address:       getEnv("ESCROW_CONTRACT_ADDRESS", or(project.Address, DefaultContractAddress)),
			BuildInfoPath: getEnv("BUILD_INFO_PATH", or(project.BuildInfoPath, DefaultBuildInfoPath)),
			ContractName:  getEnv("CONTRACT_NAME", or(project.ContractName, DefaultContractName)),
		},
		Explorer: ExplorerConfig{
			URL:     getEnv("ARBISCAN_API_URL", or(project.Explorer.URL, DefaultExplorerURL)),
			APIKey:  getEnv("ARBISCAN_API_KEY", ""),
			Timeout: getEnvInt("EXPLORER_TIMEOUT", orInt(project.Explorer.Timeout, DefaultExplorerTimeout)),
			RPS:     getEnvFloat("EXPLORER_RPS", orFloat(project.Explorer.RPS, DefaultExplorerRPS)),
		},
		RPC: RPCConfig{
			URL: getEnv("RPC_URL", project.RPC),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", or(project.Logging.Level, "warn")),
			Format: getEnv("LOG_FORMAT", or(project.Logging.Format, "text")),
		},
		Metrics: MetricsConfig{
			PushgatewayURL: getEnv("PUSHGATEWAY_URL", project.Metrics.PushgatewayURL),
			Job:            getEnv("PUSHGATEWAY_JOB", or(project.Metrics.Job, DefaultPushgatewayJob)),
		},
		History: HistoryConfig{
			DSN: getEnv("HISTORY_DSN", project.History.DSN),
		},
		Sources: sources,
	}

	return cfg, nil
}

// UsesExplorer reports whether bytecode is fetched from the explorer API
func (c *Config) UsesExplorer() bool {
	return c.RPC.URL == ""
}

// Validate checks the settings needed before any I/O happens
func (c *Config) Validate() error {
	if c.UsesExplorer() && c.Explorer.APIKey == "" {
		return ErrMissingAPIKey
	}
	return nil
}

// LoadProjectConfig loads the project config from path, or from the first
// matching file in ProjectConfigFiles when path is empty.
// Returns the config, the path it was loaded from, and an error.
func LoadProjectConfig(path string) (*ProjectConfig, string, error) {
	if path != "" {
		cfg, err := loadProjectConfigFromPath(path)
		if err != nil {
			return nil, path, err
		}
		return cfg, path, nil
	}

	for _, name := range ProjectConfigFiles {
		if _, err := os.Stat(name); err == nil {
			cfg, err := loadProjectConfigFromPath(name)
			if err != nil {
				return nil, name, err
			}
			return cfg, name, nil
		}
	}
	return nil, "", os.ErrNotExist
}

func loadProjectConfigFromPath(path string) (*ProjectConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg ProjectConfig
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("parsing TOML: %w", err)
	}

	return &cfg, nil
}

// loadEnvFile populates unset environment variables from a dotenv file.
// A missing file is only an error when it was requested explicitly.
func loadEnvFile(path string, explicit bool) (bool, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) && !explicit {
			return false, nil
		}
		return false, fmt.Errorf("loading env file: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return false, fmt.Errorf("loading env file %s: %w", path, err)
	}
	return true, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func or(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}

func orInt(value, fallback int) int {
	if value != 0 {
		return value
	}
	return fallback
}

func orFloat(value, fallback float64) float64 {
	if value != 0 {
		return value
	}
	return fallback
}
