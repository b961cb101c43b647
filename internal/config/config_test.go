package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slotkeeper/internal/availability"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", "redis:\n  address: \"\"\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "data/slotkeeper.db", cfg.Database.Path)
	assert.Equal(t, 10*time.Minute, cfg.HoldTTL())
	assert.Equal(t, 2*time.Minute, cfg.RecordGrace())
	assert.Equal(t, 1, cfg.DefaultCapacity())
	customer, guest := cfg.HoldLimits()
	assert.Equal(t, 3, customer)
	assert.Equal(t, 1, guest)
	assert.Equal(t, availability.DefaultSettings(), cfg.AvailabilitySettings())
	assert.Equal(t, 30*time.Second, cfg.SweepInterval())
	assert.Equal(t, "console", cfg.Log.Format)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}

func TestLoad_ExpandsEnv(t *testing.T) {
	t.Setenv("SLOTKEEPER_REDIS_PASSWORD", "s3cret")
	path := writeFile(t, t.TempDir(), "config.yaml", `
redis:
  address: localhost:6379
  password: ${SLOTKEEPER_REDIS_PASSWORD}
holds:
  ttl_minutes: 15
  max_per_guest: 2
availability:
  slot_duration_minutes: 30
  buffer_minutes: 0
  minimum_notice_hours: 0
  timezone: Europe/Berlin
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.Redis.Password)
	assert.Equal(t, 15*time.Minute, cfg.HoldTTL())
	_, guest := cfg.HoldLimits()
	assert.Equal(t, 2, guest)
	assert.Equal(t, availability.Settings{SlotDurationMinutes: 30}, cfg.AvailabilitySettings(), "explicit zeros are kept")

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", loc.String())
}

func TestLoad_Invalid(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, dir, "bad.yaml", "holds: [oops"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, dir, "neg.yaml", "holds:\n  ttl_minutes: -1\n"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, dir, "tz.yaml", "availability:\n  timezone: Mars/Olympus\n"))
	assert.Error(t, err)
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := writeFile(t, dir, ".env", "SLOTKEEPER_TEST_FROM_DOTENV=yes\n")
	t.Setenv("SLOTKEEPER_TEST_FROM_DOTENV", "")
	require.NoError(t, os.Unsetenv("SLOTKEEPER_TEST_FROM_DOTENV"))

	require.NoError(t, LoadEnv(filepath.Join(dir, "absent.env"), envPath))
	assert.Equal(t, "yes", os.Getenv("SLOTKEEPER_TEST_FROM_DOTENV"))
}

func TestWatchAvailability(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", "availability:\n  buffer_minutes: 5\n")

	var mu sync.Mutex
	var seen []availability.Settings
	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(seen)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := WatchAvailability(ctx, path, 10*time.Millisecond, nil, func(s availability.Settings) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s)
	})
	require.NoError(t, err)
	require.Equal(t, 1, count())

	// Hold settings are not hot-reloadable.
	require.NoError(t, os.WriteFile(path, []byte("availability:\n  buffer_minutes: 5\nholds:\n  ttl_minutes: 9\n"), 0o600))
	// An invalid file keeps the previous settings.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("availability: [\n"), 0o600))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, count())

	require.NoError(t, os.WriteFile(path, []byte("availability:\n  buffer_minutes: 20\n"), 0o600))
	require.Eventually(t, func() bool { return count() == 2 }, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 5, seen[0].BufferMinutes)
	assert.Equal(t, 20, seen[1].BufferMinutes)
	assert.Equal(t, seen[0].SlotDurationMinutes, seen[1].SlotDurationMinutes)
}

func TestWatchAvailability_MissingFile(t *testing.T) {
	err := WatchAvailability(context.Background(), filepath.Join(t.TempDir(), "absent.yaml"), time.Second, nil,
		func(availability.Settings) { t.Fatal("apply called without a config") })
	require.Error(t, err)
}
