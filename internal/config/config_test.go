package config

import (
	"strings"
	"testing"
	"time"
)

var allKeys = []string{
	"APP_ENV", "HTTP_PORT", "LOG_LEVEL", "POSTGRES_DSN",
	"REDIS_URL", "REDIS_ADDR", "REDIS_USERNAME", "REDIS_PASSWORD",
	"LOCK_TTL", "LOCK_RETRIES", "LOCK_RETRY_DELAY", "BOOKING_MAX_ATTEMPTS",
	"CLINIC_TIMEZONE", "JWT_SECRET", "JWT_ISSUER", "JWT_TTL",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"SHUTDOWN_TIMEOUT", "WORKER_INTERVAL", "NO_SHOW_GRACE",
}

// clearEnv blanks every key Load reads so the host environment cannot leak
// into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("POSTGRES_DSN", "postgres://localhost/clinic")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Env != "dev" || cfg.HTTPPort != "8080" || cfg.LogLevel != "info" {
		t.Errorf("basics = %q %q %q", cfg.Env, cfg.HTTPPort, cfg.LogLevel)
	}
	if cfg.RedisAddr != "" {
		t.Errorf("redis should be disabled by default, got %q", cfg.RedisAddr)
	}
	if cfg.LockTTL != 5*time.Second || cfg.LockRetries != 3 || cfg.BookingMaxAttempts != 3 {
		t.Errorf("lock defaults = %s %d %d", cfg.LockTTL, cfg.LockRetries, cfg.BookingMaxAttempts)
	}
	if cfg.ClinicLocation != time.UTC {
		t.Errorf("location = %s", cfg.ClinicLocation)
	}
	if cfg.JWTSecret != devJWTSecret {
		t.Errorf("dev secret not applied")
	}
	if cfg.NoShowGrace != 30*time.Minute || cfg.WorkerInterval != time.Minute {
		t.Errorf("worker defaults = %s %s", cfg.NoShowGrace, cfg.WorkerInterval)
	}
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("POSTGRES_DSN", "postgres://db/clinic")
	t.Setenv("APP_ENV", "prod")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("REDIS_URL", "redis://app:pw@cache:6380")
	t.Setenv("LOCK_TTL", "2")
	t.Setenv("LOCK_RETRY_DELAY", "25ms")
	t.Setenv("CLINIC_TIMEZONE", "Europe/Berlin")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("BOOKING_MAX_ATTEMPTS", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RedisAddr != "cache:6380" || cfg.RedisUsername != "app" || cfg.RedisPassword != "pw" {
		t.Errorf("redis = %q %q %q", cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	}
	if cfg.LockTTL != 2*time.Second || cfg.LockRetryDelay != 25*time.Millisecond {
		t.Errorf("durations = %s %s", cfg.LockTTL, cfg.LockRetryDelay)
	}
	if cfg.ClinicLocation.String() != "Europe/Berlin" {
		t.Errorf("location = %s", cfg.ClinicLocation)
	}
	if cfg.RateLimitRPS != 2.5 || cfg.BookingMaxAttempts != 5 {
		t.Errorf("limits = %v %d", cfg.RateLimitRPS, cfg.BookingMaxAttempts)
	}
}

func TestLoad_Errors(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"missing dsn", map[string]string{}, "POSTGRES_DSN"},
		{"prod without secret", map[string]string{"APP_ENV": "prod"}, "JWT_SECRET"},
		{"bad timezone", map[string]string{"CLINIC_TIMEZONE": "Mars/Olympus"}, "CLINIC_TIMEZONE"},
		{"bad retries", map[string]string{"LOCK_RETRIES": "many"}, "LOCK_RETRIES"},
		{"zero attempts", map[string]string{"BOOKING_MAX_ATTEMPTS": "0"}, "BOOKING_MAX_ATTEMPTS"},
		{"bad rps", map[string]string{"RATE_LIMIT_RPS": "fast"}, "RATE_LIMIT_RPS"},
		{"redis url without host", map[string]string{"REDIS_URL": "redis://"}, "REDIS_URL"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			if tc.name != "missing dsn" {
				t.Setenv("POSTGRES_DSN", "postgres://db/clinic")
			}
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want mention of %s", err, tc.want)
			}
		})
	}
}

func TestParseRedisURL(t *testing.T) {
	addr, user, pw, err := parseRedisURL("redis://localhost:6379")
	if err != nil || addr != "localhost:6379" || user != "" || pw != "" {
		t.Fatalf("got %q %q %q %v", addr, user, pw, err)
	}
}
