package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GabrielNunesIT/logindex/internal/testutil"
)

func TestConfigWatcher_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("loglevel: info\n"), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := NewConfigWatcher(path, testutil.NewTestLogger(), WithDebounce(20*time.Millisecond))
	require.NoError(t, w.Start(ctx))

	require.NoError(t, os.WriteFile(path, []byte("loglevel: debug\n"), 0644))

	select {
	case cfg := <-w.Changes():
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Same(t, cfg, w.LastConfig())
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for config reload")
	}
}

func TestConfigWatcher_IgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("loglevel: info\n"), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := NewConfigWatcher(path, testutil.NewTestLogger(), WithDebounce(20*time.Millisecond))
	require.NoError(t, w.Start(ctx))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0644))

	select {
	case cfg := <-w.Changes():
		t.Fatalf("unexpected reload: %+v", cfg)
	case <-time.After(200 * time.Millisecond):
	}
	assert.Nil(t, w.LastConfig())
}

func TestConfigWatcher_ReportsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("loglevel: info\n"), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := NewConfigWatcher(path, testutil.NewTestLogger(), WithDebounce(20*time.Millisecond))
	require.NoError(t, w.Start(ctx))

	require.NoError(t, os.WriteFile(path, []byte("loglevel: info\n  bad: indent\n"), 0644))

	select {
	case err := <-w.Errors():
		assert.Error(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for reload error")
	}
}

func TestConfigWatcher_ValidatorRejects(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("loglevel: info\n"), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	check := func(cfg *Config) error {
		if cfg.Search.Timezone == "Mars/Olympus" {
			return errors.New("unknown timezone")
		}
		return nil
	}
	w := NewConfigWatcher(path, testutil.NewTestLogger(),
		WithDebounce(20*time.Millisecond), WithValidator(check))
	require.NoError(t, w.Start(ctx))

	require.NoError(t, os.WriteFile(path, []byte("search:\n  timezone: Mars/Olympus\n"), 0644))

	select {
	case err := <-w.Errors():
		assert.ErrorContains(t, err, "unknown timezone")
	case cfg := <-w.Changes():
		t.Fatalf("invalid config was delivered: %+v", cfg)
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for validation error")
	}
	assert.Nil(t, w.LastConfig())
}
