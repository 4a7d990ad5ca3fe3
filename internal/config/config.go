// Package config loads runtime configuration from semantica.yaml,
// SEMANTICA_* environment variables, and CLI flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/roach88/semantica/internal/crafting"
)

// EnvPrefix prefixes every environment variable, e.g. SEMANTICA_DB_PATH or
// SEMANTICA_PROVIDER_KIND.
const EnvPrefix = "SEMANTICA"

// Provider kinds.
const (
	ProviderTable  = "table"
	ProviderOpenAI = "openai"
)

// ProviderConfig selects and configures the generative provider.
type ProviderConfig struct {
	Kind      string        `mapstructure:"kind"`
	TableFile string        `mapstructure:"table_file"`
	Model     string        `mapstructure:"model"`
	BaseURL   string        `mapstructure:"base_url"`
	APIKey    string        `mapstructure:"api_key"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// CraftingConfig tunes the resolver and what a craft grants.
type CraftingConfig struct {
	Duplicates     crafting.DuplicatePolicy `mapstructure:"duplicates"`
	MaxIngredients int                      `mapstructure:"max_ingredients"`
	CreditProduct  bool                     `mapstructure:"credit_product"`
}

// NodesConfig bounds ancestor pagination requests.
type NodesConfig struct {
	DefaultParagraphs int `mapstructure:"default_paragraphs"`
	MaxParagraphs     int `mapstructure:"max_paragraphs"`
	DefaultNodes      int `mapstructure:"default_nodes"`
	MaxNodes          int `mapstructure:"max_nodes"`
}

// TelemetryConfig configures trace export. An empty endpoint disables it.
type TelemetryConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
}

// Config holds all runtime configuration.
type Config struct {
	DBPath    string          `mapstructure:"db_path"`
	SeedFile  string          `mapstructure:"seed_file"`
	Verbose   bool            `mapstructure:"verbose"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	Crafting  CraftingConfig  `mapstructure:"crafting"`
	Nodes     NodesConfig     `mapstructure:"nodes"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// SetDefaults registers every key's default on v. Keys must be known to
// viper for environment overrides to apply.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("db_path", "semantica.db")
	v.SetDefault("seed_file", "")
	v.SetDefault("verbose", false)
	v.SetDefault("provider.kind", ProviderTable)
	v.SetDefault("provider.table_file", "")
	v.SetDefault("provider.model", "gpt-4o-mini")
	v.SetDefault("provider.base_url", "")
	v.SetDefault("provider.api_key", "")
	v.SetDefault("provider.timeout", "30s")
	v.SetDefault("crafting.duplicates", string(crafting.Keep))
	v.SetDefault("crafting.max_ingredients", crafting.DefaultMaxIngredients)
	v.SetDefault("crafting.credit_product", true)
	v.SetDefault("nodes.default_paragraphs", 20)
	v.SetDefault("nodes.max_paragraphs", 100)
	v.SetDefault("nodes.default_nodes", 2)
	v.SetDefault("nodes.max_nodes", 5)
	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.service_name", "semantica")
}

// New returns a viper instance with defaults and environment binding, after
// reading cfgFile. An empty cfgFile searches for semantica.yaml in the
// working directory and then $HOME; a missing search result is not an error.
func New(cfgFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("semantica")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges and enumerations.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DBPath) == "" {
		errs = append(errs, errors.New("db_path is required"))
	}
	switch c.Provider.Kind {
	case ProviderTable, ProviderOpenAI:
	default:
		errs = append(errs, fmt.Errorf("provider.kind %q is not one of %q, %q",
			c.Provider.Kind, ProviderTable, ProviderOpenAI))
	}
	if c.Provider.Timeout < 0 {
		errs = append(errs, errors.New("provider.timeout must not be negative"))
	}
	if _, err := crafting.ParseDuplicatePolicy(string(c.Crafting.Duplicates)); err != nil {
		errs = append(errs, fmt.Errorf("crafting.duplicates: %w", err))
	}
	if c.Crafting.MaxIngredients < 1 {
		errs = append(errs, errors.New("crafting.max_ingredients must be at least 1"))
	}
	if c.Nodes.MaxParagraphs < 1 || c.Nodes.DefaultParagraphs < 1 || c.Nodes.DefaultParagraphs > c.Nodes.MaxParagraphs {
		errs = append(errs, fmt.Errorf("nodes: need 1 <= default_paragraphs (%d) <= max_paragraphs (%d)",
			c.Nodes.DefaultParagraphs, c.Nodes.MaxParagraphs))
	}
	if c.Nodes.MaxNodes < 1 || c.Nodes.DefaultNodes < 1 || c.Nodes.DefaultNodes > c.Nodes.MaxNodes {
		errs = append(errs, fmt.Errorf("nodes: need 1 <= default_nodes (%d) <= max_nodes (%d)",
			c.Nodes.DefaultNodes, c.Nodes.MaxNodes))
	}
	return errors.Join(errs...)
}
