package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"os"
	"testing"
	"time"
)

func setKey(t *testing.T) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	t.Setenv("SESSION_PRIVATE_KEY", base64.StdEncoding.EncodeToString(priv))
}

func chdirTemp(t *testing.T) {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoadConfigDefaults(t *testing.T) {
	chdirTemp(t)
	setKey(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/otp")

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.RedisPrefix != "otp" || cfg.SMTPPort != 587 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.PrimaryDeadline != 15*time.Second {
		t.Fatalf("expected 15s primary deadline, got %s", cfg.PrimaryDeadline)
	}

	engineCfg, err := cfg.engineConfig()
	if err != nil {
		t.Fatalf("engine config: %v", err)
	}
	if len(engineCfg.Session.PrivateKey) != ed25519.PrivateKeySize {
		t.Fatalf("expected decoded ed25519 key, got %d bytes", len(engineCfg.Session.PrivateKey))
	}
}

func TestLoadConfigReadsDotEnv(t *testing.T) {
	chdirTemp(t)
	setKey(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/otp")
	if err := os.WriteFile(".env", []byte("HTTP_ADDR=:9090\nDELIVERY_PRIMARY_DEADLINE=5s\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Cleanup(func() {
		os.Unsetenv("HTTP_ADDR")
		os.Unsetenv("DELIVERY_PRIMARY_DEADLINE")
	})

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":9090" || cfg.PrimaryDeadline != 5*time.Second {
		t.Fatalf(".env not applied: %+v", cfg)
	}
}

func TestLoadConfigRequiredFields(t *testing.T) {
	chdirTemp(t)

	t.Setenv("DATABASE_URL", "")
	setKey(t)
	if _, err := loadConfig(); err == nil {
		t.Fatal("expected missing DATABASE_URL to fail")
	}

	t.Setenv("DATABASE_URL", "postgres://localhost/otp")
	t.Setenv("APP_ENV", "production")
	t.Setenv("SEVEN_API_KEY", "")
	if _, err := loadConfig(); err == nil {
		t.Fatal("expected production without an SMS key to fail")
	}
}

func TestEngineConfigRejectsBadKey(t *testing.T) {
	cfg := &serverConfig{SessionPrivateKey: "not base64!", SessionSigningMethod: "ed25519"}
	if _, err := cfg.engineConfig(); err == nil {
		t.Fatal("expected bad key to fail")
	}
}
