package redis_client

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/leeforge/workforce/errors"
	"github.com/leeforge/workforce/logging"
)

func miniredisConfig(t *testing.T) Config {
	t.Helper()
	mr := miniredis.RunT(t)
	return Config{Host: mr.Host(), Port: mr.Port(), DialTimeout: time.Second}
}

func TestRedisConfigLogFields_RedactsPassword(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logging.FromZap(zap.New(core)).Info("x", redisConfigLogFields(Config{
		Host:     "127.0.0.1",
		Port:     "6379",
		Password: "super-secret",
		DB:       2,
	})...)

	fields := logs.All()[0].ContextMap()
	if fields["password"] != "[REDACTED]" {
		t.Fatalf("password should be redacted, got %v", fields["password"])
	}
	if fields["addr"] != "127.0.0.1:6379" {
		t.Fatalf("unexpected addr %v", fields["addr"])
	}
}

func TestRedactedPassword_Empty(t *testing.T) {
	if got := redactedPassword(""); got != "<empty>" {
		t.Fatalf("redactedPassword(\"\") = %q", got)
	}
}

func TestNewRedis_ConnectionSuccess(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	config := miniredisConfig(t)

	client, err := NewRedis(context.Background(), config, logging.FromZap(zap.New(core)))
	if err != nil {
		t.Fatalf("NewRedis() failed: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Set(ctx, "kit:1", "out", 0).Err(); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	val, err := client.Get(ctx, "kit:1").Result()
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if val != "out" {
		t.Errorf("Get() returned %v, want out", val)
	}
	if logs.FilterMessage("redis connected").Len() != 1 {
		t.Error("connection should be logged once")
	}
}

func TestNewRedis_ConnectionFailure_UnreachablePort(t *testing.T) {
	config := Config{Host: "127.0.0.1", Port: "1", DialTimeout: 200 * time.Millisecond}

	_, err := NewRedis(context.Background(), config, nil)
	if err == nil {
		t.Fatal("NewRedis() should fail when port is unreachable")
	}
	if !errors.FromError(err).Is(errors.New(errors.ErrorTypeBackend, "")) {
		t.Fatalf("expected backend error, got %v", err)
	}
}

func TestNewRedis_ContextCancelled(t *testing.T) {
	config := miniredisConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewRedis(ctx, config, nil); err == nil {
		t.Fatal("NewRedis() should fail with a cancelled context")
	}
}
