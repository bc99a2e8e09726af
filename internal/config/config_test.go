package config

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
)

func TestLoadWithDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := LoadWith(context.Background(), envconfig.MapLookuper(map[string]string{
		"NG_TOKEN":    "token",
		"NG_DOT_PATH": "/tmp/ngwarden",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Moderation.AdminCacheTTL != 30*time.Minute {
		t.Fatalf("unexpected admin cache ttl: %v", cfg.Moderation.AdminCacheTTL)
	}
	if cfg.Moderation.ReloadCooldown != 10*time.Minute {
		t.Fatalf("unexpected reload cooldown: %v", cfg.Moderation.ReloadCooldown)
	}
	if cfg.Moderation.KickRejoinAfter != 45*time.Second {
		t.Fatalf("unexpected kick rejoin window: %v", cfg.Moderation.KickRejoinAfter)
	}
	if cfg.Moderation.DefaultWarnLimit != 3 || cfg.Moderation.DefaultWarnMode != "mute" {
		t.Fatalf("unexpected warn defaults: %d %s", cfg.Moderation.DefaultWarnLimit, cfg.Moderation.DefaultWarnMode)
	}
	if cfg.Store.Driver != "sqlite" {
		t.Fatalf("unexpected store driver: %s", cfg.Store.Driver)
	}
	if want := []string{"guard", "admin"}; !reflect.DeepEqual(cfg.EnabledHandlers, want) {
		t.Fatalf("handlers = %v, want %v", cfg.EnabledHandlers, want)
	}
}

func TestLoadWithRequiresToken(t *testing.T) {
	t.Parallel()

	if _, err := LoadWith(context.Background(), envconfig.MapLookuper(map[string]string{})); err == nil {
		t.Fatalf("expected error without token")
	}
}

func TestOperatorsMergedFromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "operators.yml")
	content := "operators:\n  - id: 42\n    name: alice\n  - id: 7\n    name: bob\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write operators file: %v", err)
	}

	cfg, err := LoadWith(context.Background(), envconfig.MapLookuper(map[string]string{
		"NG_TOKEN":          "token",
		"NG_DOT_PATH":       "/tmp/ngwarden",
		"NG_OPERATORS":      "7,9",
		"NG_OPERATORS_FILE": path,
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if want := []int64{7, 9, 42}; !reflect.DeepEqual(cfg.Operators, want) {
		t.Fatalf("unexpected operators: got %v want %v", cfg.Operators, want)
	}
	if !cfg.IsOperator(42) || cfg.IsOperator(1) {
		t.Fatalf("unexpected operator check result")
	}
}

func TestOperatorsFileRejectsMissingID(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "operators.yml")
	if err := os.WriteFile(path, []byte("operators:\n  - name: nobody\n"), 0o600); err != nil {
		t.Fatalf("write operators file: %v", err)
	}
	if _, err := LoadOperatorsFile(path); err == nil {
		t.Fatalf("expected error for operator without id")
	}
}
