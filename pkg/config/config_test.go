package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type sample struct {
	Name  string   `yaml:"name" toml:"name"`
	Port  int      `yaml:"port" toml:"port"`
	Tags  []string `yaml:"tags" toml:"tags"`
	check bool
}

func (s *sample) Validate() error {
	if s.check && s.Port == 0 {
		return errors.New("port is required")
	}
	return nil
}

func write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_YAMLWithEnv(t *testing.T) {
	t.Setenv("TIWAZ_TEST_NAME", "docs")
	path := write(t, "c.yaml", "name: ${TIWAZ_TEST_NAME}\nport: 8080\ntags: [a, b]\n")

	var s sample
	if err := Load(path, &s); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Name != "docs" || s.Port != 8080 || len(s.Tags) != 2 {
		t.Errorf("got %+v", s)
	}
}

func TestLoad_TOML(t *testing.T) {
	t.Setenv("TIWAZ_TEST_PORT", "9090")
	path := write(t, "c.toml", "name = \"docs\"\nport = ${TIWAZ_TEST_PORT}\ntags = [\"x\"]\n")

	var s sample
	if err := Load(path, &s); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Name != "docs" || s.Port != 9090 || s.Tags[0] != "x" {
		t.Errorf("got %+v", s)
	}
}

func TestLoad_Validation(t *testing.T) {
	path := write(t, "c.yaml", "name: docs\n")
	s := sample{check: true}
	if err := Load(path, &s); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	def := write(t, "default.yaml", "name: fallback\n")
	var s sample
	if err := LoadWithDefaults(filepath.Join(t.TempDir(), "missing.yaml"), def, &s); err != nil {
		t.Fatalf("LoadWithDefaults: %v", err)
	}
	if s.Name != "fallback" {
		t.Errorf("name = %q, want fallback", s.Name)
	}
	if err := LoadWithDefaults(filepath.Join(t.TempDir(), "missing.yaml"), "", &s); err == nil {
		t.Error("expected error without default file")
	}
}
