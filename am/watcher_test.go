package am

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte("[pulse]\nworkers = 2\n"), 0644))

	cw, err := NewConfigWatcher(path)
	require.NoError(t, err)
	cw.debouncePeriod = 10 * time.Millisecond

	var workers atomic.Int64
	cw.OnReload(func(cfg *Config) error {
		workers.Store(int64(cfg.Pulse.Workers))
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cw.Run(ctx) }()

	require.NoError(t, os.WriteFile(path, []byte("[pulse]\nworkers = 7\n"), 0644))

	assert.Eventually(t, func() bool { return workers.Load() == 7 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestConfigWatcher_InvalidConfigKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte("[pulse]\nworkers = 0\n"), 0644))

	cw, err := NewConfigWatcher(path)
	require.NoError(t, err)
	defer cw.Stop()

	called := false
	cw.OnReload(func(*Config) error {
		called = true
		return nil
	})

	assert.Error(t, cw.reload())
	assert.False(t, called)
}
