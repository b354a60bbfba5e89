package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models reportline.yml.
type Config struct {
	Reports struct {
		MaxActive        int      `yaml:"max-active"`
		FormTimeout      int      `yaml:"form-timeout"`
		HistoryLimit     int      `yaml:"history-limit"`
		IDPrefix         string   `yaml:"id-prefix"`
		CancelKeywords   []string `yaml:"cancel-keywords"`
		RecordViolatorID bool     `yaml:"record-violator-id"`
	} `yaml:"reports"`
	Discord struct {
		Enabled   bool   `yaml:"enabled"`
		Token     string `yaml:"token"`
		ChannelID string `yaml:"channel-id"`
	} `yaml:"discord"`
	Server struct {
		Addr      string `yaml:"addr"`
		BasePath  string `yaml:"base-path"`
		JWTSecret string `yaml:"jwt-secret"`
	} `yaml:"server"`
}

// FormTimeoutDuration returns the intake timeout; zero or negative disables it.
func (c *Config) FormTimeoutDuration() time.Duration {
	return time.Duration(c.Reports.FormTimeout) * time.Second
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Reports.MaxActive < 1 {
		return fmt.Errorf("config.reports.max-active must be at least 1")
	}
	if c.Reports.HistoryLimit < 0 {
		return fmt.Errorf("config.reports.history-limit must not be negative")
	}
	if strings.TrimSpace(c.Reports.IDPrefix) == "" {
		return fmt.Errorf("config.reports.id-prefix is required")
	}
	if strings.ContainsAny(c.Reports.IDPrefix, "- \t") {
		return fmt.Errorf("config.reports.id-prefix must not contain dashes or spaces")
	}
	if len(c.Reports.CancelKeywords) == 0 {
		return fmt.Errorf("config.reports.cancel-keywords must not be empty")
	}
	for _, kw := range c.Reports.CancelKeywords {
		if strings.TrimSpace(kw) == "" {
			return fmt.Errorf("config.reports.cancel-keywords contains an empty keyword")
		}
	}
	if c.Discord.Enabled {
		if strings.TrimSpace(c.Discord.Token) == "" {
			return fmt.Errorf("config.discord.token is required when discord.enabled is true")
		}
		if strings.TrimSpace(c.Discord.ChannelID) == "" {
			return fmt.Errorf("config.discord.channel-id is required when discord.enabled is true")
		}
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "reportline.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create it with rl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes. Fields the file
// leaves unset keep their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	cfg.Reports.MaxActive = 5
	cfg.Reports.FormTimeout = 300
	cfg.Reports.HistoryLimit = 20
	cfg.Reports.IDPrefix = "REP"
	cfg.Reports.CancelKeywords = []string{"cancel"}
	cfg.Reports.RecordViolatorID = true
	cfg.Server.Addr = ":8787"
	cfg.Server.BasePath = "/v0"
	return &cfg
}

// GenerateDefault returns default config YAML for rl config init.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `reports:
  # Maximum pending reports a single reporter may hold at once.
  max-active: 5
  # Seconds before an unfinished intake session expires. <= 0 disables expiry.
  form-timeout: 300
  # Maximum entries shown by report listings.
  history-limit: 20
  # Report ids are formatted <prefix>-<epoch-seconds>-<counter>.
  id-prefix: REP
  # Case-insensitive words that abort an intake session at any step.
  cancel-keywords: [cancel]
  # Record the violator's stable id on the report when the roster knows it.
  record-violator-id: true

discord:
  enabled: false
  token: ""
  channel-id: ""

server:
  addr: ":8787"
  base-path: /v0
  # HS256 secret for bearer tokens; leave empty to allow API keys only.
  jwt-secret: ""
`
