package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())

	v, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := v.GetInt("server.port"); got != 8188 {
		t.Errorf("server.port = %d, want 8188", got)
	}
	if got := v.GetString("node.base_url"); got != "https://api.groq.com" {
		t.Errorf("node.base_url = %q", got)
	}
	if v.GetString("node.api_key") != "" {
		t.Error("node.api_key should have no default")
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")
	body := "node:\n  api_key: gsk-file\n  timeout: 30s\nlogging:\n  level: debug\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	v, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := v.GetString("node.api_key"); got != "gsk-file" {
		t.Errorf("node.api_key = %q", got)
	}
	if got := v.GetDuration("node.timeout"); got != 30*time.Second {
		t.Errorf("node.timeout = %v", got)
	}
	if got := v.GetString("logging.level"); got != "debug" {
		t.Errorf("logging.level = %q", got)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for explicit missing config file")
	}
}

func TestLoad_EnvOverridesAPIKey(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("GROQNODE_NODE_API_KEY", "gsk-env")
	t.Setenv("GROQNODE_NODE_TIMEOUT", "5s")

	v, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := v.GetString("node.api_key"); got != "gsk-env" {
		t.Errorf("node.api_key = %q, want gsk-env", got)
	}
	if got := v.GetDuration("node.timeout"); got != 5*time.Second {
		t.Errorf("node.timeout = %v, want 5s", got)
	}
}

func TestViperConfig_Sub(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("GROQNODE_NODE_API_KEY", "gsk-env")

	v, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := New(v).Sub("node")

	if got := sub.GetString("api_key"); got != "gsk-env" {
		t.Errorf("api_key = %q, want gsk-env", got)
	}
	if got := sub.GetDuration("retry_delay"); got != time.Second {
		t.Errorf("retry_delay = %v, want 1s", got)
	}
	if sub.GetBool("persistence.enabled") {
		t.Error("persistence.enabled should default to false")
	}

	var target struct {
		BaseURL string `mapstructure:"base_url"`
	}
	if err := sub.Unmarshal(&target); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if target.BaseURL != "https://api.groq.com" {
		t.Errorf("BaseURL = %q", target.BaseURL)
	}
}

func TestViperConfig_SubMissing(t *testing.T) {
	sub := New(nil).Sub("absent")
	if sub == nil {
		t.Fatal("Sub must never return nil")
	}
	if sub.IsSet("anything") {
		t.Error("empty sub config should have no keys")
	}
}
