package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full configuration of the trading agent.
type Config struct {
	Agent   AgentConfig   `yaml:"agent"`
	API     APIConfig     `yaml:"api"`
	Model   ModelConfig   `yaml:"model"`
	Search  SearchConfig  `yaml:"search"`
	Wallet  WalletConfig  `yaml:"wallet"`
	Storage StorageConfig `yaml:"storage"`
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
}

// AgentConfig controls the orchestration engine.
type AgentConfig struct {
	// Reflection budgets, independent per gate. A gate that stays
	// unsatisfactory past its budget is force-accepted.
	MaxResearchAttempts int `yaml:"max_research_attempts"`
	MaxAnalysisAttempts int `yaml:"max_analysis_attempts"`
	MaxTradeAttempts    int `yaml:"max_trade_attempts"`

	// StageRetries bounds transient-failure retries of a stage invocation,
	// distinct from the reflection budgets above.
	StageRetries int `yaml:"stage_retries"`

	ResearchDepth   int `yaml:"research_depth"`
	ResearchBreadth int `yaml:"research_breadth"`

	AvailableFunds float64 `yaml:"available_funds"` // USDC budget for new positions
	DryRun         bool    `yaml:"dry_run"`         // log instead of submitting orders
}

// APIConfig holds the Polymarket API base URLs.
type APIConfig struct {
	CLOBBase  string `yaml:"clob_base"`
	GammaBase string `yaml:"gamma_base"`
	DataBase  string `yaml:"data_base"`
}

// ModelConfig configures the reasoning model endpoint.
type ModelConfig struct {
	BaseURL        string `yaml:"base_url"`
	Name           string `yaml:"name"`
	APIKey         string `yaml:"-"` // from OPENAI_API_KEY
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// SearchConfig configures the research search provider.
type SearchConfig struct {
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"-"` // from TAVILY_API_KEY
	MaxResults int    `yaml:"max_results"`
}

// WalletConfig configures the Polygon wallet used for order signing and
// balance checks. The private key never comes from YAML.
type WalletConfig struct {
	PrivateKey string `yaml:"-"` // from POLYGON_WALLET_PRIVATE_KEY
	RPCURL     string `yaml:"rpc_url"`
}

// StorageConfig controls where run checkpoints are persisted.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // path to the SQLite file, or ":memory:"
}

// ServerConfig configures the run-control HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig controls log format and level.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load reads the YAML config file and the .env file if present.
// Environment variables override matching YAML keys. A missing config file
// is not an error; defaults apply.
func Load(path string) (*Config, error) {
	// Load .env if present (missing file is fine)
	_ = godotenv.Load()

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	return &cfg, nil
}

// ModelTimeout returns the reasoning call timeout as a time.Duration.
func (c *Config) ModelTimeout() time.Duration {
	return time.Duration(c.Model.TimeoutSeconds) * time.Second
}

// applyEnvOverrides pulls secrets and overrides from the environment.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Model.APIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.Model.BaseURL = v
	}
	if v := os.Getenv("TAVILY_API_KEY"); v != "" {
		cfg.Search.APIKey = v
	}
	if v := os.Getenv("POLYGON_WALLET_PRIVATE_KEY"); v != "" {
		cfg.Wallet.PrivateKey = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// setDefaults fills required values with sensible defaults.
func setDefaults(cfg *Config) {
	if cfg.Agent.MaxResearchAttempts <= 0 {
		cfg.Agent.MaxResearchAttempts = 3
	}
	if cfg.Agent.MaxAnalysisAttempts <= 0 {
		cfg.Agent.MaxAnalysisAttempts = 3
	}
	if cfg.Agent.MaxTradeAttempts <= 0 {
		cfg.Agent.MaxTradeAttempts = 3
	}
	if cfg.Agent.StageRetries <= 0 {
		cfg.Agent.StageRetries = 2
	}
	if cfg.Agent.ResearchDepth <= 0 {
		cfg.Agent.ResearchDepth = 2
	}
	if cfg.Agent.ResearchBreadth <= 0 {
		cfg.Agent.ResearchBreadth = 3
	}
	if cfg.Agent.AvailableFunds <= 0 {
		cfg.Agent.AvailableFunds = 10.0
	}
	if cfg.API.CLOBBase == "" {
		cfg.API.CLOBBase = "https://clob.polymarket.com"
	}
	if cfg.API.GammaBase == "" {
		cfg.API.GammaBase = "https://gamma-api.polymarket.com"
	}
	if cfg.API.DataBase == "" {
		cfg.API.DataBase = "https://data-api.polymarket.com"
	}
	if cfg.Model.BaseURL == "" {
		cfg.Model.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model.Name == "" {
		cfg.Model.Name = "gpt-4o"
	}
	if cfg.Model.TimeoutSeconds <= 0 {
		cfg.Model.TimeoutSeconds = 60
	}
	if cfg.Wallet.RPCURL == "" {
		cfg.Wallet.RPCURL = "https://polygon-rpc.com"
	}
	if cfg.Search.BaseURL == "" {
		cfg.Search.BaseURL = "https://api.tavily.com"
	}
	if cfg.Search.MaxResults <= 0 {
		cfg.Search.MaxResults = 10
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "polytrader.db"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
