package tailer

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iff-guardian/siem-gateway/internal/alert"
	"github.com/iff-guardian/siem-gateway/pkg/logger"
)

type collector struct {
	mu   sync.Mutex
	seen []alert.RawAlert
}

func (c *collector) sink(a alert.RawAlert) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, a)
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

func TestTailer_CreatesMissingFileAndParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "alerts.json")

	require.NoError(t, ensureFile(path))

	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestTailer_FollowsAppendedLinesAndSkipsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.json")
	require.NoError(t, ensureFile(path))

	c := &collector{}
	tl := New(path, c.sink, logger.NewNoop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tl.Run(ctx)

	// Give the tailer a moment to open and seek to end before writing.
	time.Sleep(50 * time.Millisecond)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)

	_, err = f.WriteString("not valid json\n")
	require.NoError(t, err)
	_, err = f.WriteString(`{"rule":{"level":3,"groups":["syslog"]},"full_log":"ok"}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.Eventually(t, func() bool {
		return c.count() == 1
	}, 2*time.Second, 20*time.Millisecond, "only the valid JSON line should reach the sink")

	assert.False(t, tl.LastReadAt().IsZero())
}

func TestTailer_EmptyFileNeverEmits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.json")
	require.NoError(t, ensureFile(path))

	c := &collector{}
	tl := New(path, c.sink, logger.NewNoop())

	ctx, cancel := context.WithCancel(context.Background())
	go tl.Run(ctx)
	time.Sleep(100 * time.Millisecond)
	cancel()

	assert.Equal(t, 0, c.count())
	assert.True(t, tl.LastReadAt().IsZero())
}

func TestTailer_DetectsRotationByInodeChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.json")
	require.NoError(t, ensureFile(path))

	c := &collector{}
	tl := New(path, c.sink, logger.NewNoop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tl.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Simulate log rotation: rename the old file away, create a fresh one at
	// the same path, then write to the new file.
	require.NoError(t, os.Rename(path, path+".1"))
	require.NoError(t, ensureFile(path))

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"full_log":"after rotation"}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.Eventually(t, func() bool {
		return c.count() == 1
	}, 3*time.Second, 50*time.Millisecond, "tailer should reopen the rotated file and pick up new writes")
}
