package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	c, err := Load(map[Scope]string{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Model() != "gemini-3-flash" {
		t.Fatalf("expected default model, got %s", c.Model())
	}
	if c.MaxTurns() != 25 {
		t.Fatalf("expected default max turns 25, got %d", c.MaxTurns())
	}
}

func TestLayeringPrecedence(t *testing.T) {
	dir := t.TempDir()
	userPath := filepath.Join(dir, "user.yaml")
	workspacePath := filepath.Join(dir, "workspace.yaml")

	os.WriteFile(userPath, []byte("model: claude-opus-4-5\n"), 0o644)
	os.WriteFile(workspacePath, []byte("model: gpt-5.2\n"), 0o644)

	c, err := Load(map[Scope]string{ScopeUser: userPath, ScopeWorkspace: workspacePath})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Model() != "gpt-5.2" {
		t.Fatalf("expected workspace to beat user, got %s", c.Model())
	}
}

func TestEnvBeatsAllFiles(t *testing.T) {
	dir := t.TempDir()
	userPath := filepath.Join(dir, "user.yaml")
	os.WriteFile(userPath, []byte("model: claude-opus-4-5\n"), 0o644)

	t.Setenv("DBRHEO_MODEL", "gemini-3-pro")

	c, err := Load(map[Scope]string{ScopeUser: userPath})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Model() != "gemini-3-pro" {
		t.Fatalf("expected env override, got %s", c.Model())
	}
}

func TestMissingFileIsNotError(t *testing.T) {
	c, err := Load(map[Scope]string{ScopeUser: "/nonexistent/path/config.yaml"})
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if c.Model() != "gemini-3-flash" {
		t.Fatalf("expected default fallback, got %s", c.Model())
	}
}

func TestSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	userPath := filepath.Join(dir, "user.yaml")

	c, err := Load(map[Scope]string{ScopeUser: userPath})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Save(ScopeUser, map[string]interface{}{"model": "gemini-3-pro"}); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	c2, err := Load(map[Scope]string{ScopeUser: userPath})
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if c2.Model() != "gemini-3-pro" {
		t.Fatalf("expected saved model to persist, got %s", c2.Model())
	}
}
