package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/eringen/draftdesk"
)

func TestRunInitWritesLoadableConfig(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "weekly-desk")
	if err := runInit(dir); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}

	var cfg fileConfig
	if err := draftdesk.LoadConfig(filepath.Join(dir, "draftdesk.yaml"), &cfg); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Desk.Name != "Weekly Desk" {
		t.Errorf("Desk.Name = %q, want %q", cfg.Desk.Name, "Weekly Desk")
	}
	if len(cfg.Desk.SessionSecret) != 64 {
		t.Errorf("SessionSecret = %q, want 64 hex chars", cfg.Desk.SessionSecret)
	}
	if cfg.Desk.ListCacheTTL.String() != "1m0s" {
		t.Errorf("ListCacheTTL = %v, want 1m", cfg.Desk.ListCacheTTL)
	}
	if cfg.Docstore.Addr != ":8000" {
		t.Errorf("Docstore.Addr = %q, want %q", cfg.Docstore.Addr, ":8000")
	}

	env, err := os.ReadFile(filepath.Join(dir, ".env.example"))
	if err != nil {
		t.Fatalf("read .env.example: %v", err)
	}
	if !strings.Contains(string(env), "DESK_SESSION_SECRET="+cfg.Desk.SessionSecret) {
		t.Errorf(".env.example should carry the generated secret:\n%s", env)
	}

	if err := runInit(dir); err == nil {
		t.Error("second runInit should refuse to overwrite")
	}
}

func TestToTitle(t *testing.T) {
	tests := []struct{ in, want string }{
		{"weekly-desk", "Weekly Desk"},
		{"desk", "Desk"},
		{"a--b", "A  B"},
	}
	for _, tt := range tests {
		if got := toTitle(tt.in); got != tt.want {
			t.Errorf("toTitle(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
