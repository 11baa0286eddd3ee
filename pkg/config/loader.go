package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is the YAML file Initialize reads from the config directory.
const ConfigFileName = "weft.yaml"

// YAMLConfig mirrors the weft.yaml file structure. Every block is optional;
// unset blocks fall back entirely to built-in defaults.
type YAMLConfig struct {
	Database      *DatabaseConfig      `yaml:"database"`
	Queue         *QueueConfig         `yaml:"queue"`
	RAG           *RAGConfig           `yaml:"rag"`
	Assets        *AssetConfig         `yaml:"assets"`
	Observability *ObservabilityConfig `yaml:"observability"`
	Defaults      *Defaults            `yaml:"defaults"`
	Agents        []*AgentConfig       `yaml:"agents"`
}

// Initialize loads, merges, validates, and returns ready-to-use configuration.
//
// Steps performed:
//  1. Load .env into the process environment (never overriding real env)
//  2. Read weft.yaml from configDir and expand {{.VAR}} references
//  3. Unmarshal into structs
//  4. Merge user values over built-in defaults
//  5. Build the agent registry
//  6. Validate everything
func Initialize(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	_ = godotenv.Load()

	cfg, err := load(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("Configuration initialized", "agents", cfg.Stats().Agents)
	return cfg, nil
}

func load(configDir string) (*Config, error) {
	var yamlCfg YAMLConfig
	if err := loadYAML(filepath.Join(configDir, ConfigFileName), &yamlCfg); err != nil {
		return nil, NewLoadError(ConfigFileName, err)
	}
	return Resolve(&yamlCfg, configDir)
}

// Resolve merges a parsed YAMLConfig over built-in defaults and builds the
// registries. Exposed so embedding applications can construct configuration
// programmatically without a file.
func Resolve(yamlCfg *YAMLConfig, configDir string) (*Config, error) {
	cfg := &Config{
		configDir:     configDir,
		Database:      DefaultDatabaseConfig(),
		Queue:         DefaultQueueConfig(),
		RAG:           DefaultRAGConfig(),
		Assets:        DefaultAssetConfig(),
		Observability: DefaultObservabilityConfig(),
		Defaults:      DefaultDefaults(),
	}

	// Merge user values over defaults; non-zero user fields win.
	merges := []struct {
		dst, src any
	}{
		{cfg.Database, yamlCfg.Database},
		{cfg.Queue, yamlCfg.Queue},
		{cfg.RAG, yamlCfg.RAG},
		{cfg.Assets, yamlCfg.Assets},
		{cfg.Observability, yamlCfg.Observability},
		{cfg.Defaults, yamlCfg.Defaults},
	}
	for _, m := range merges {
		if isNilPtr(m.src) {
			continue
		}
		if err := mergo.Merge(m.dst, m.src, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge config block: %w", err)
		}
	}

	if cfg.Database.DSN == "" {
		cfg.Database.DSN = os.Getenv("DATABASE_URL")
	}

	cfg.AgentRegistry = NewAgentRegistry(yamlCfg.Agents)
	return cfg, nil
}

func loadYAML(path string, target any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return nil
}

func isNilPtr(v any) bool {
	switch t := v.(type) {
	case *DatabaseConfig:
		return t == nil
	case *QueueConfig:
		return t == nil
	case *RAGConfig:
		return t == nil
	case *AssetConfig:
		return t == nil
	case *ObservabilityConfig:
		return t == nil
	case *Defaults:
		return t == nil
	}
	return v == nil
}
