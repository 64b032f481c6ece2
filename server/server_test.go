package server

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/BjornHgn/securechat/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Addr:           "127.0.0.1:0",
			AllowedOrigins: []string{"*"},
			MaxBodyBytes:   1 << 20,
		},
		Auth: config.AuthConfig{
			Provider:   "builtin",
			JWTSecret:  "test-secret-0123456789abcdef0123456789abcdef",
			JWTExpiry:  config.Duration{Duration: time.Hour},
			SessionTTL: config.Duration{Duration: time.Hour},
		},
		Storage:   config.StorageConfig{Driver: "sqlite", DSN: ":memory:"},
		RateLimit: config.RateLimitConfig{RequestsPerSecond: 100, Burst: 200},
	}
}

func TestNew_WiresComponents(t *testing.T) {
	s, err := New(testConfig(), slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	if s.store == nil || s.relay == nil || s.api == nil || s.sessions == nil {
		t.Error("component left unwired")
	}
	_ = s.store.Close()
}

func TestNew_UnknownStorageDriver(t *testing.T) {
	cfg := testConfig()
	cfg.Storage.Driver = "oracle"
	if _, err := New(cfg, slog.Default()); err == nil {
		t.Fatal("expected error for unknown storage driver")
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	s, err := New(testConfig(), slog.Default())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
