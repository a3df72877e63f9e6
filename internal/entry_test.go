package internal

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

const entryDoc = "# Reqs\n\n```need\ntype: req\nid: REQ_1\ntitle: Login\nstatus: open\n```\n\n```need\ntype: spec\nid: SPEC_1\ntitle: Form\nlinks: REQ_1\n```\n"

func entryConfig(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()
	src := filepath.Join(dir, "docs")
	if err := os.MkdirAll(src, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "reqs.md"), []byte(entryDoc), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := NewDefaultConfig()
	cfg.Source.Path = src
	cfg.Output.NeedsJSON = filepath.Join(dir, "out", "needs.json")
	cfg.SQLite.Path = ""
	return cfg
}

func quietLogger() Option {
	return WithLogger(slog.New(slog.NewJSONHandler(io.Discard, nil)))
}

func readVersions(t *testing.T, path string) map[string]any {
	t.Helper()
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read needs.json: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("decode needs.json: %v", err)
	}
	versions, _ := doc["versions"].(map[string]any)
	return versions
}

func TestBuild_WritesNeedsJSON(t *testing.T) {
	cfg := entryConfig(t)
	sess, err := Build(context.Background(), WithConfig(cfg), quietLogger())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if sess.Store.Len() != 2 {
		t.Errorf("needs = %d, want 2", sess.Store.Len())
	}
	versions := readVersions(t, cfg.Output.NeedsJSON)
	v, ok := versions["1.0"].(map[string]any)
	if !ok {
		t.Fatalf("versions = %v, want 1.0", versions)
	}
	needs, _ := v["needs"].(map[string]any)
	if _, ok := needs["SPEC_1"]; !ok {
		t.Errorf("needs = %v, want SPEC_1", needs)
	}
}

func TestBuild_KeepVersions(t *testing.T) {
	cfg := entryConfig(t)
	cfg.Needs.Version = "0.9"
	if _, err := Build(context.Background(), WithConfig(cfg), quietLogger()); err != nil {
		t.Fatalf("first Build: %v", err)
	}

	cfg.Needs.Version = "1.0"
	cfg.Output.KeepVersions = true
	if _, err := Build(context.Background(), WithConfig(cfg), quietLogger()); err != nil {
		t.Fatalf("second Build: %v", err)
	}
	versions := readVersions(t, cfg.Output.NeedsJSON)
	if len(versions) != 2 {
		t.Errorf("versions = %d, want 2", len(versions))
	}
}

func TestBuild_WithoutConfig(t *testing.T) {
	if _, err := Build(context.Background()); err == nil {
		t.Error("missing config should fail")
	}
}

func TestQuery(t *testing.T) {
	cfg := entryConfig(t)
	svc, err := Query(context.Background(), WithConfig(cfg), quietLogger())
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	needs, err := svc.Filter(context.Background(), "type == 'spec'", "")
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if len(needs) != 1 || needs[0]["id"] != "SPEC_1" {
		t.Errorf("needs = %v", needs)
	}
	if _, err := os.Stat(cfg.Output.NeedsJSON); !os.IsNotExist(err) {
		t.Error("Query should not write needs.json")
	}
}

func TestNewLogger_Text(t *testing.T) {
	l := NewLogger(&ApplicationConfig{LogFormat: LogFormatText}, io.Discard)
	if _, ok := l.Handler().(*slog.TextHandler); !ok {
		t.Errorf("handler = %T, want text", l.Handler())
	}
}
