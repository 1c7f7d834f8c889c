package config_test

import (
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/askdb/internal/config"
	"github.com/MrWong99/askdb/pkg/provider/embeddings"
	"github.com/MrWong99/askdb/pkg/provider/llm"
	llmmock "github.com/MrWong99/askdb/pkg/provider/llm/mock"
)

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	for _, l := range []config.LogLevel{"", "trace", "INFO", "verbose"} {
		if l.IsValid() {
			t.Errorf("%q should be invalid", l)
		}
	}
}

func TestApplyDefaults_DoesNotOverrideSetValues(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	cfg.Cache.VectorSimilarityThreshold = 0.9
	cfg.Schema.MaxTables = 4
	cfg.Schema.SelectionTTL = config.Duration(time.Minute)

	config.ApplyDefaults(cfg)

	if cfg.Cache.VectorSimilarityThreshold != 0.9 {
		t.Errorf("threshold overridden to %v", cfg.Cache.VectorSimilarityThreshold)
	}
	if cfg.Schema.MaxTables != 4 {
		t.Errorf("max_tables overridden to %d", cfg.Schema.MaxTables)
	}
	if cfg.Schema.SelectionTTL.Std() != time.Minute {
		t.Errorf("selection_ttl overridden to %v", cfg.Schema.SelectionTTL.Std())
	}
	if cfg.Examples.TopK != 2 {
		t.Errorf("unset top_k should default to 2, got %d", cfg.Examples.TopK)
	}
}

func TestRegistry_CreateLLM(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	reg.RegisterLLM("mock", func(entry config.ProviderEntry) (llm.Provider, error) {
		return &llmmock.Provider{Model: entry.Model}, nil
	})

	p, err := reg.CreateLLM(config.ProviderEntry{Name: "mock", Model: "test-model"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ModelID() != "test-model" {
		t.Errorf("ModelID() = %q, want test-model", p.ModelID())
	}
}

func TestRegistry_UnregisteredProvider(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	_, err := reg.CreateLLM(config.ProviderEntry{Name: "nope"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateLLM error = %v, want ErrProviderNotRegistered", err)
	}
	_, err = reg.CreateEmbeddings(config.ProviderEntry{Name: "nope"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateEmbeddings error = %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistry_OverwriteRegistration(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	reg.RegisterEmbeddings("dup", func(config.ProviderEntry) (embeddings.Provider, error) {
		return nil, errors.New("first")
	})
	reg.RegisterEmbeddings("dup", func(config.ProviderEntry) (embeddings.Provider, error) {
		return nil, errors.New("second")
	})

	_, err := reg.CreateEmbeddings(config.ProviderEntry{Name: "dup"})
	if err == nil || err.Error() != "second" {
		t.Errorf("expected the second registration to win, got %v", err)
	}
}
