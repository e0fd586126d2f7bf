package config_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/scribeval/internal/config"
	"github.com/MrWong99/scribeval/pkg/provider/llm"
	"github.com/MrWong99/scribeval/pkg/provider/llm/mock"
)

func TestRegistry_CreateUnregistered(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	_, err := r.CreateLLM(config.ProviderEntry{Name: "nope"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("err = %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistry_RegisterAndCreate(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	want := &mock.Provider{ModelName: "test-model"}
	r.RegisterLLM("fake", func(entry config.ProviderEntry) (llm.Provider, error) {
		if entry.Model != "test-model" {
			t.Errorf("factory received model %q, want test-model", entry.Model)
		}
		return want, nil
	})

	p, err := r.CreateLLM(config.ProviderEntry{Name: "fake", Model: "test-model"})
	if err != nil {
		t.Fatalf("CreateLLM: %v", err)
	}
	if p != want {
		t.Error("CreateLLM did not return the factory's provider")
	}
}

func TestDefaultRegistry_CoversKnownProviders(t *testing.T) {
	t.Parallel()
	r := config.DefaultRegistry()

	// Every documented provider name must resolve past the registry lookup.
	// Construction itself may still fail on missing credentials.
	for _, name := range config.ValidProviderNames {
		_, err := r.CreateLLM(config.ProviderEntry{Name: name})
		if errors.Is(err, config.ErrProviderNotRegistered) {
			t.Errorf("provider %q is not registered in the default registry", name)
		}
	}
}

func TestDefaultRegistry_OpenAIRequiresKey(t *testing.T) {
	t.Parallel()
	r := config.DefaultRegistry()
	_, err := r.CreateLLM(config.ProviderEntry{Name: "openai", Model: "gpt-4o"})
	if err == nil {
		t.Fatal("expected error for missing API key, got nil")
	}
}
