package config

import "time"

// Asset backend names.
const (
	AssetBackendFS     = "fs"
	AssetBackendS3     = "s3"
	AssetBackendMemory = "memory"
)

// AssetConfig holds asset storage settings.
type AssetConfig struct {
	// Backend selects the store: "fs", "s3", or "memory".
	Backend string `yaml:"backend"`

	// Root is the base directory for the fs backend.
	Root string `yaml:"root"`

	// S3 backend settings. Endpoint and UsePathStyle support MinIO and
	// other S3-compatible services.
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`

	// PublicBase, when set, yields public URLs instead of presigned ones.
	PublicBase string `yaml:"public_base"`
	// PresignTTL is the validity window for presigned GET URLs.
	PresignTTL time.Duration `yaml:"presign_ttl"`

	// ResolveInLLM inlines asset bytes into LLM calls. When false,
	// multimodal parts are stripped so agents fetch assets via tools.
	ResolveInLLM *bool `yaml:"resolve_in_llm"`
	// InlineLimit is the largest asset resolved inline; bigger assets fall
	// back to a URL when one is available.
	InlineLimit int64 `yaml:"inline_limit"`
}

// ResolveAssetsInLLM reports the effective ResolveInLLM setting (default on).
func (c *AssetConfig) ResolveAssetsInLLM() bool {
	if c == nil || c.ResolveInLLM == nil {
		return true
	}
	return *c.ResolveInLLM
}

// DefaultAssetConfig returns the built-in asset defaults.
func DefaultAssetConfig() *AssetConfig {
	return &AssetConfig{
		Backend:     AssetBackendFS,
		Root:        "./data/assets",
		Region:      "us-east-1",
		PresignTTL:  15 * time.Minute,
		InlineLimit: 5 << 20,
	}
}
