package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "agentcore.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "server:\n  host: 0.0.0.0\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.MaxSteps != 100 {
		t.Fatalf("expected default max_steps 100, got %d", cfg.Agent.MaxSteps)
	}
	if cfg.Store.Backend != "sqlite" {
		t.Fatalf("expected default store backend sqlite, got %q", cfg.Store.Backend)
	}
	if cfg.Version != CurrentVersion {
		t.Fatalf("expected version defaulted to %d, got %d", CurrentVersion, cfg.Version)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "server:\n  host: 0.0.0.0\n  bogus: true\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadRejectsInvalidStoreBackend(t *testing.T) {
	path := writeConfig(t, "store:\n  backend: postgres\n")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	var verr *ConfigValidationError
	if !errorsAs(err, &verr) {
		t.Fatalf("expected *ConfigValidationError, got %T", err)
	}
}

func TestLoadRejectsTierWithUnknownProvider(t *testing.T) {
	path := writeConfig(t, `
llm:
  providers:
    anthropic:
      api_key: test
  tiers:
    main:
      provider: openai
      model: gpt-5
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for unknown provider reference")
	}
}

func TestLoadResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	basePath := filepath.Join(dir, "base.yaml")
	mainPath := filepath.Join(dir, "agentcore.yaml")
	if err := os.WriteFile(basePath, []byte("agent:\n  max_steps: 42\n"), 0o600); err != nil {
		t.Fatalf("write base: %v", err)
	}
	if err := os.WriteFile(mainPath, []byte("include: base.yaml\nserver:\n  host: 0.0.0.0\n"), 0o600); err != nil {
		t.Fatalf("write main: %v", err)
	}
	cfg, err := Load(mainPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.MaxSteps != 42 {
		t.Fatalf("expected included max_steps 42, got %d", cfg.Agent.MaxSteps)
	}
}

func errorsAs(err error, target **ConfigValidationError) bool {
	ve, ok := err.(*ConfigValidationError)
	if !ok {
		return false
	}
	*target = ve
	return true
}
