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
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"image":      {"openai"},
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

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	applyStorageDefaults(cfg)
	return cfg, nil
}

// applyStorageDefaults derives the optional directory paths from DataDir.
func applyStorageDefaults(cfg *Config) {
	if cfg.Storage.DataDir == "" {
		return
	}
	if cfg.Storage.TaskDir == "" {
		cfg.Storage.TaskDir = cfg.Storage.DataDir + "/tasks"
	}
	if cfg.Storage.ImagesDir == "" {
		cfg.Storage.ImagesDir = cfg.Storage.DataDir + "/images"
	}
	if cfg.Storage.UploadsDir == "" {
		cfg.Storage.UploadsDir = cfg.Storage.DataDir + "/uploads"
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("image", cfg.Providers.Image.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	errs = append(errs, validateFallbacks("llm", cfg.Providers.LLM)...)
	errs = append(errs, validateFallbacks("image", cfg.Providers.Image)...)
	if len(cfg.Providers.Embeddings.Fallbacks) > 0 {
		slog.Warn("providers.embeddings.fallbacks is ignored; embedding calls do not fail over")
	}

	// The whole session runtime is LLM-driven.
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm is required"))
	}
	if cfg.Providers.Image.Name == "" {
		slog.Warn("no image provider configured; world illustration will be skipped")
	}

	// Storage
	if cfg.Storage.DataDir == "" {
		errs = append(errs, errors.New("storage.data_dir is required"))
	}
	if cfg.Storage.PostgresDSN != "" {
		if cfg.Providers.Embeddings.Name == "" {
			errs = append(errs, errors.New("storage.postgres_dsn is set but providers.embeddings is not configured; the narrative memory cannot embed"))
		}
		if cfg.Storage.EmbeddingDimensions <= 0 {
			errs = append(errs, errors.New("storage.postgres_dsn is set but storage.embedding_dimensions is not; the vector column needs a fixed dimension"))
		}
	} else {
		slog.Warn("storage.postgres_dsn is empty; running file-only, NPCs will have no semantic memory")
	}
	if cfg.Storage.EmbeddingDimensions < 0 {
		errs = append(errs, fmt.Errorf("storage.embedding_dimensions %d is negative", cfg.Storage.EmbeddingDimensions))
	}

	// Game constants
	if cfg.Game.MissionCadence < 0 {
		errs = append(errs, fmt.Errorf("game.mission_cadence %d is negative", cfg.Game.MissionCadence))
	}
	if cfg.Game.ChunkWidth < 0 {
		errs = append(errs, fmt.Errorf("game.chunk_width %d is negative", cfg.Game.ChunkWidth))
	}
	if cfg.Game.GameHoursPerAction < 0 {
		errs = append(errs, fmt.Errorf("game.game_hours_per_action %d is negative", cfg.Game.GameHoursPerAction))
	}

	return errors.Join(errs...)
}

// validateFallbacks checks the failover chain declared on a provider entry:
// every fallback needs a name and the chain is one level deep.
func validateFallbacks(kind string, entry ProviderEntry) []error {
	var errs []error
	for i, fb := range entry.Fallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.%s.fallbacks[%d] has no name", kind, i))
			continue
		}
		validateProviderName(kind, fb.Name)
		if len(fb.Fallbacks) > 0 {
			errs = append(errs, fmt.Errorf("providers.%s.fallbacks[%d] (%s) nests further fallbacks; chains are one level deep", kind, i, fb.Name))
		}
	}
	return errs
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
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
