package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/coxyhq/coxy/internal/core/domain"
)

func TestLoadBasicFlags(t *testing.T) {
	cfg, err := Load([]string{
		"--server", "http://127.0.0.1:11434=local",
		"--server", "http://10.0.0.5:11434=rack",
		"--timeout", "60",
		"--bind", "0.0.0.0:8080",
	})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(cfg.Upstreams) != 2 {
		t.Fatalf("expected 2 upstreams, got %d", len(cfg.Upstreams))
	}
	if cfg.Upstreams[0].URL != "http://127.0.0.1:11434" || cfg.Upstreams[0].Name != "local" {
		t.Errorf("unexpected first upstream: %+v", cfg.Upstreams[0])
	}
	if cfg.Bind != "0.0.0.0:8080" {
		t.Errorf("bind %s", cfg.Bind)
	}
	if cfg.IdleTimeout() != 60*time.Second {
		t.Errorf("idle timeout %v", cfg.IdleTimeout())
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load([]string{"--server", "http://localhost:11434=only"})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Bind != DefaultBind {
		t.Errorf("bind %s, want %s", cfg.Bind, DefaultBind)
	}
	if cfg.TimeoutSeconds != DefaultTimeoutSeconds {
		t.Errorf("timeout %d, want %d", cfg.TimeoutSeconds, DefaultTimeoutSeconds)
	}
}

func TestLoadZeroTimeoutDisablesIdleClock(t *testing.T) {
	cfg, err := Load([]string{"--server", "http://localhost:11434=only", "--timeout", "0"})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.IdleTimeout() != 0 {
		t.Errorf("idle timeout %v, want 0", cfg.IdleTimeout())
	}
}

func TestLoadRequiresAnUpstream(t *testing.T) {
	if _, err := Load(nil); err == nil {
		t.Fatal("expected an error with no upstreams")
	}
}

func TestLoadVersionSkipsValidation(t *testing.T) {
	cfg, err := Load([]string{"--version"})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !cfg.ShowVersion {
		t.Error("ShowVersion not set")
	}
}

func TestLoadServerWithoutName(t *testing.T) {
	cfg, err := Load([]string{"--server", "http://127.0.0.1:11434"})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	upstreams, err := cfg.BuildUpstreams()
	if err != nil {
		t.Fatalf("BuildUpstreams failed: %v", err)
	}
	if upstreams[0].Name != "127.0.0.1:11434" {
		t.Errorf("expected host fallback name, got %s", upstreams[0].Name)
	}
}

func TestLoadYAMLConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coxy.yaml")
	content := []byte(`bind: "127.0.0.1:9999"
timeout: 45
upstreams:
  - url: http://gpu-1:11434
    name: big
  - url: http://gpu-2:11434
    name: bigger
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load([]string{"--config", path, "--server", "http://127.0.0.1:11434=cli"})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Bind != "127.0.0.1:9999" {
		t.Errorf("bind %s", cfg.Bind)
	}
	if cfg.TimeoutSeconds != 45 {
		t.Errorf("timeout %d", cfg.TimeoutSeconds)
	}
	// file upstreams first, then CLI flags
	if len(cfg.Upstreams) != 3 || cfg.Upstreams[2].Name != "cli" {
		t.Errorf("unexpected upstream merge: %+v", cfg.Upstreams)
	}
}

func TestLoadFlagOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coxy.yaml")
	if err := os.WriteFile(path, []byte("bind: \"127.0.0.1:9999\"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load([]string{"--config", path, "--bind", "127.0.0.1:7777", "--server", "http://h:1=x"})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Bind != "127.0.0.1:7777" {
		t.Errorf("flag should beat file, got %s", cfg.Bind)
	}
}

func TestCanonicalKey(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{"http://127.0.0.1:11434", "http://127.0.0.1:11434", false},
		{"http://Example.COM:8080", "http://example.com:8080", false},
		{"http://host", "http://host:80", false},
		{"https://host", "https://host:443", false},
		{"http://host/", "http://host:80", false},
		{"ftp://host:21", "", true},
		{"http://", "", true},
		{"http://host/api", "", true},
		{"http://host?x=1", "", true},
		{"not a url", "", true},
	}

	for _, tt := range tests {
		key, _, err := CanonicalKey(tt.raw)
		if tt.wantErr {
			if err == nil {
				t.Errorf("CanonicalKey(%q): expected error, got %q", tt.raw, key)
			}
			continue
		}
		if err != nil {
			t.Errorf("CanonicalKey(%q): %v", tt.raw, err)
			continue
		}
		if key != tt.want {
			t.Errorf("CanonicalKey(%q) = %q, want %q", tt.raw, key, tt.want)
		}
	}
}

func TestBuildUpstreamsRejectsDuplicates(t *testing.T) {
	cfg := &Config{Upstreams: []UpstreamConfig{
		{URL: "http://host:80", Name: "a"},
		{URL: "http://HOST", Name: "b"},
	}}
	_, err := cfg.BuildUpstreams()
	if err == nil {
		t.Fatal("expected duplicate detection across equivalent URLs")
	}
	if _, ok := err.(*domain.ConfigValidationError); !ok {
		t.Errorf("expected ConfigValidationError, got %T", err)
	}
}

func TestLoadRejectsBadBind(t *testing.T) {
	if _, e := Load([]string{"--server", "http://h:1=x", "--bind", "nonsense"}); e == nil {
		t.Fatal("expected bind validation error")
	}
}
