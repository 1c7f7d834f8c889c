package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"embeddings": {"openai", "ollama"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Database
	if cfg.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if cfg.Database.EmbeddingDimensions <= 0 {
		errs = append(errs, fmt.Errorf("database.embedding_dimensions %d must be positive", cfg.Database.EmbeddingDimensions))
	}

	// Provider name validation. Unknown names warn rather than fail so that
	// third-party backends remain usable.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	for _, entry := range cfg.Providers.LLMFallbacks {
		validateProviderName("llm", entry.Name)
	}
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required"))
	}
	if cfg.Providers.Embeddings.Name == "" {
		errs = append(errs, errors.New("providers.embeddings.name is required"))
	}
	for i, entry := range cfg.Providers.LLMFallbacks {
		if entry.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
		}
	}

	// API key availability warnings. Missing keys are not fatal here because
	// some backends (ollama, llamacpp) run without one.
	warnMissingAPIKey("providers.llm", cfg.Providers.LLM)
	warnMissingAPIKey("providers.embeddings", cfg.Providers.Embeddings)

	// Thresholds and boosts
	errs = append(errs, validateUnitRange("cache.vector_similarity_threshold", cfg.Cache.VectorSimilarityThreshold)...)
	errs = append(errs, validateUnitRange("schema.similarity_threshold", cfg.Schema.SimilarityThreshold)...)
	errs = append(errs, validateUnitRange("schema.exact_mention_boost", cfg.Schema.ExactMentionBoost)...)
	errs = append(errs, validateUnitRange("schema.business_term_boost", cfg.Schema.BusinessTermBoost)...)
	errs = append(errs, validateUnitRange("examples.similarity_threshold", cfg.Examples.SimilarityThreshold)...)
	errs = append(errs, validateUnitRange("examples.type_match_boost", cfg.Examples.TypeMatchBoost)...)

	if cfg.Schema.MaxTables <= 0 {
		errs = append(errs, fmt.Errorf("schema.max_tables %d must be positive", cfg.Schema.MaxTables))
	}
	if cfg.Examples.TopK <= 0 {
		errs = append(errs, fmt.Errorf("examples.top_k %d must be positive", cfg.Examples.TopK))
	}
	if cfg.Execution.MaxResults <= 0 {
		errs = append(errs, fmt.Errorf("execution.max_results %d must be positive", cfg.Execution.MaxResults))
	}

	return errors.Join(errs...)
}

// APIKey resolves the API key for entry from the environment.
// Returns "" when no env var is configured or the variable is unset.
func (e ProviderEntry) APIKey() string {
	if e.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(e.APIKeyEnv)
}

func validateUnitRange(field string, v float64) []error {
	if v < 0 || v > 1 {
		return []error{fmt.Errorf("%s %.2f is out of range [0, 1]", field, v)}
	}
	return nil
}

func warnMissingAPIKey(field string, entry ProviderEntry) {
	if entry.Name == "" || entry.APIKeyEnv == "" {
		return
	}
	if os.Getenv(entry.APIKeyEnv) == "" {
		slog.Warn("provider API key environment variable is not set",
			"field", field,
			"provider", entry.Name,
			"env", entry.APIKeyEnv,
		)
	}
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
