// Package config provides configuration loading for the yinx core:
// a best-effort .env load into the process environment, YAML for the
// config file, and a single
// validated Config tree consumed by every pipeline stage. Modeled on
// the teacher's own config.LoadConfig, which also layers godotenv over
// a typed struct tree.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/neur0map/yinx/internal/errs"
)

// Config is the full tunable surface consumed by the core, matching the
// table in spec.md §6.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Capture   CaptureConfig   `yaml:"capture"`
	Filtering FilteringConfig `yaml:"filtering"`
	Entities  []EntityPattern `yaml:"entities"`
	Tools     []ToolPattern   `yaml:"tools"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Indexing  IndexingConfig  `yaml:"indexing"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type StorageConfig struct {
	DataRoot             string `yaml:"data_root"`
	MaxBlobSize          int64  `yaml:"max_blob_size"`
	CompressionThreshold int64  `yaml:"compression_threshold"`
	// EncryptionKey, if set, enables AES-GCM-at-rest encryption of blob
	// payloads (key derived per-blob via PBKDF2), since captured shell
	// output routinely contains credentials the entity patterns flag.
	// Empty disables encryption.
	EncryptionKey string `yaml:"encryption_key"`
}

type CaptureConfig struct {
	BufferSize int `yaml:"buffer_size"`
}

type FilteringConfig struct {
	Tier1 Tier1Config `yaml:"tier1"`
	Tier2 Tier2Config `yaml:"tier2"`
	Tier3 Tier3Config `yaml:"tier3"`
}

type PatternReplacement struct {
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
}

type Tier1Config struct {
	MaxOccurrences         int                  `yaml:"max_occurrences"`
	NormalizationPatterns  []PatternReplacement `yaml:"normalization_patterns"`
}

type TechnicalPattern struct {
	Name    string  `yaml:"name"`
	Pattern string  `yaml:"pattern"`
	Weight  float64 `yaml:"weight"`
}

type Tier2Config struct {
	EntropyWeight            float64            `yaml:"entropy_weight"`
	UniquenessWeight         float64            `yaml:"uniqueness_weight"`
	TechnicalWeight          float64            `yaml:"technical_weight"`
	ChangeWeight             float64            `yaml:"change_weight"`
	ScoreThresholdPercentile float64            `yaml:"score_threshold_percentile"`
	TechnicalPatterns        []TechnicalPattern `yaml:"technical_patterns"`
	MaxTechnicalScore        float64            `yaml:"max_technical_score"`
}

type Tier3Config struct {
	ClusterMinSize          int                  `yaml:"cluster_min_size"`
	MaxClusterSize          int                  `yaml:"max_cluster_size"`
	RepresentativeStrategy  string               `yaml:"representative_strategy"`
	NormalizationPatterns   []PatternReplacement `yaml:"normalization_patterns"`
}

type EntityPattern struct {
	TypeName       string  `yaml:"type_name"`
	Pattern        string  `yaml:"pattern"`
	Confidence     float64 `yaml:"confidence"`
	ContextWindow  int     `yaml:"context_window"`
	Redact         bool    `yaml:"redact"`
}

type ToolPattern struct {
	Name            string   `yaml:"name"`
	Patterns        []string `yaml:"patterns"`
	OutputPatterns  []string `yaml:"output_patterns"`
}

type EmbeddingConfig struct {
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
	BatchSize int    `yaml:"batch_size"`
	CacheSize int    `yaml:"cache_size"`
}

type IndexingConfig struct {
	VectorDim         int `yaml:"vector_dim"`
	HNSWM             int `yaml:"hnsw_m"`
	HNSWEfConstruction int `yaml:"hnsw_ef_construction"`
	HNSWEfSearch      int `yaml:"hnsw_ef_search"`
	BatchSize         int `yaml:"batch_size"`
}

type RetrievalConfig struct {
	RRFK            int     `yaml:"rrf_k"`
	SemanticWeight  float64 `yaml:"semantic_weight"`
	KeywordWeight   float64 `yaml:"keyword_weight"`
	RerankTopK      int     `yaml:"rerank_top_k"`
	FinalLimit      int     `yaml:"final_limit"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns a Config with the defaults named throughout spec.md
// (buffer_size 10000, max_occurrences 3, percentile 0.8, RRF K 60, ...).
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			DataRoot:             "./yinx-data",
			MaxBlobSize:          64 << 20,
			CompressionThreshold: 4096,
		},
		Capture: CaptureConfig{BufferSize: 10000},
		Filtering: FilteringConfig{
			Tier1: Tier1Config{
				MaxOccurrences: 3,
				NormalizationPatterns: []PatternReplacement{
					{Pattern: `\b(?:\d{1,3}\.){3}\d{1,3}\b`, Replacement: "__IP__"},
					{Pattern: `:\d{2,5}\b`, Replacement: ":__PORT__"},
					{Pattern: `https?://\S+`, Replacement: "__URL__"},
					{Pattern: `\b[0-9a-fA-F]{8,}\b`, Replacement: "__HASH__"},
					{Pattern: `\b\d+\b`, Replacement: "__NUM__"},
				},
			},
			Tier2: Tier2Config{
				EntropyWeight:            0.25,
				UniquenessWeight:         0.25,
				TechnicalWeight:          0.3,
				ChangeWeight:             0.2,
				ScoreThresholdPercentile: 0.8,
				MaxTechnicalScore:        5.0,
				TechnicalPatterns: []TechnicalPattern{
					{Name: "open_port", Pattern: `(?i)\bopen\b`, Weight: 1.0},
					{Name: "cve", Pattern: `CVE-\d{4}-\d+`, Weight: 2.0},
					{Name: "credential", Pattern: `(?i)(password|passwd|secret|token)\s*[:=]`, Weight: 1.5},
				},
			},
			Tier3: Tier3Config{
				ClusterMinSize:         1,
				MaxClusterSize:         100,
				RepresentativeStrategy: "First",
				NormalizationPatterns: []PatternReplacement{
					{Pattern: `\b(?:\d{1,3}\.){3}\d{1,3}\b`, Replacement: "__IP__"},
					{Pattern: `:\d{2,5}\b`, Replacement: ":__PORT__"},
					{Pattern: `\b\d+\b`, Replacement: "__NUM__"},
				},
			},
		},
		Embedding: EmbeddingConfig{Model: "local-hashing-v1", Dimension: 256, BatchSize: 32, CacheSize: 4096},
		Indexing:  IndexingConfig{VectorDim: 256, HNSWM: 16, HNSWEfConstruction: 200, HNSWEfSearch: 64, BatchSize: 32},
		Retrieval: RetrievalConfig{RRFK: 60, SemanticWeight: 1.0, KeywordWeight: 1.0, RerankTopK: 50, FinalLimit: 10},
		Logging:   LoggingConfig{Level: "info", JSON: true},
	}
}

// Load loads a .env file in the working directory into the process
// environment first (ignored if absent, matching the teacher's
// best-effort godotenv.Load), then reads a YAML config file at path over
// the defaults and validates the result. No Config field is read from
// the environment.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, errs.ConfigInvalidf("config.Load", "config file %s not found", path)
			}
			return nil, errs.Wrap(errs.ConfigInvalid, "config.Load", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, errs.Wrap(errs.ConfigInvalid, "config.Load", fmt.Errorf("parse %s: %w", path, err))
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the invariants spec.md calls out explicitly: tier2
// weights sum to 1.0, dimensions are positive and consistent between
// embedding and indexing. Regexes are not compiled here; patterns.Build
// compiles them.
func Validate(cfg *Config) error {
	w := cfg.Filtering.Tier2
	sum := w.EntropyWeight + w.UniquenessWeight + w.TechnicalWeight + w.ChangeWeight
	if diff := sum - 1.0; diff > 1e-6 || diff < -1e-6 {
		return errs.ConfigInvalidf("config.Validate", "tier2 weights sum to %f, want 1.0", sum)
	}
	if cfg.Filtering.Tier2.ScoreThresholdPercentile < 0 || cfg.Filtering.Tier2.ScoreThresholdPercentile > 1 {
		return errs.ConfigInvalidf("config.Validate", "score_threshold_percentile %f out of [0,1]", cfg.Filtering.Tier2.ScoreThresholdPercentile)
	}
	if cfg.Embedding.Dimension <= 0 {
		return errs.ConfigInvalidf("config.Validate", "embedding.dimension must be positive, got %d", cfg.Embedding.Dimension)
	}
	if cfg.Indexing.VectorDim != cfg.Embedding.Dimension {
		return errs.ConfigInvalidf("config.Validate", "indexing.vector_dim (%d) must equal embedding.dimension (%d)", cfg.Indexing.VectorDim, cfg.Embedding.Dimension)
	}
	if cfg.Storage.MaxBlobSize <= 0 {
		return errs.ConfigInvalidf("config.Validate", "storage.max_blob_size must be positive")
	}
	if cfg.Capture.BufferSize <= 0 {
		return errs.ConfigInvalidf("config.Validate", "capture.buffer_size must be positive")
	}
	switch cfg.Filtering.Tier3.RepresentativeStrategy {
	case "First", "Longest", "HighestEntropy":
	default:
		return errs.ConfigInvalidf("config.Validate", "unknown representative_strategy %q", cfg.Filtering.Tier3.RepresentativeStrategy)
	}
	return nil
}

// ParseDuration is a small helper for YAML fields expressed as strings
// ("30s") rather than nanosecond integers, matching how several pack
// configs round-trip durations through YAML.
func ParseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
