package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/danmuck/blockbridge/internal/testutil/testlog"
)

func TestLoadConfigDefaultsWithoutFile(t *testing.T) {
	testlog.Start(t)
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.Name != "blockhost" || cfg.Addr != ":9300" || cfg.Origin != "http://localhost:9300" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadConfigReadsFile(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "host.toml")
	if err := os.WriteFile(path, []byte("name = \"h1\"\naddr = \":9400\"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Name != "h1" || cfg.Origin != "http://localhost:9400" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected missing file error")
	}
}
