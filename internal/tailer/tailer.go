// Package tailer follows an append-only JSON-lines log file, decoding each
// line into a RawAlert and feeding it to the pipeline. It reopens the file
// when rotation changes its inode, using fsnotify to notice the rename.
package tailer

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/iff-guardian/siem-gateway/internal/alert"
	"github.com/iff-guardian/siem-gateway/pkg/logger"
)

// pollInterval is the sleep-on-empty-read delay between read attempts.
const pollInterval = 500 * time.Millisecond

// Sink receives each successfully decoded raw alert.
type Sink func(alert.RawAlert)

// Tailer follows a single file path, surviving truncation and rotation.
type Tailer struct {
	path string
	sink Sink
	log  logger.Logger

	lastRead atomic.Int64 // unix seconds of the last successful decode
}

// New constructs a Tailer for the given path. The sink is invoked from the
// tailer's own goroutine; callers that need serialization (the Orchestrator)
// must provide a sink that is safe to call repeatedly from one goroutine.
func New(path string, sink Sink, log logger.Logger) *Tailer {
	return &Tailer{
		path: path,
		sink: sink,
		log:  log.With("component", "tailer"),
	}
}

// LastReadAt returns the time of the last successful line decode, used by
// the health checker to detect staleness. Zero if nothing has been read yet.
func (t *Tailer) LastReadAt() time.Time {
	secs := t.lastRead.Load()
	if secs == 0 {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}

// Run follows the file until ctx is cancelled. It creates the file (and any
// missing parent directories) if it does not exist, per spec.
func (t *Tailer) Run(ctx context.Context) error {
	if err := ensureFile(t.path); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		t.log.Warn("fsnotify unavailable, falling back to poll-only tailing", "error", err)
	} else {
		defer watcher.Close()
		if err := watcher.Add(filepath.Dir(t.path)); err != nil {
			t.log.Warn("failed to watch log directory", "error", err)
		}
	}

	f, reader, err := t.openAtEnd()
	if err != nil {
		return err
	}
	defer f.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line, readErr := reader.ReadString('\n')
		if line != "" {
			t.decodeAndEmit(strings.TrimRight(line, "\r\n"))
		}

		if readErr != nil {
			if readErr != io.EOF {
				t.log.Warn("error reading log line", "error", readErr)
			}

			if rotated, rerr := t.rotated(f); rerr == nil && rotated {
				// The path now names a new (or truncated) file: read it from
				// its start, and keep the old handle until the reopen works.
				newF, openErr := os.Open(t.path)
				if openErr != nil {
					t.log.Warn("failed to reopen rotated log", "error", openErr)
				} else {
					t.log.Info("log file rotated, reopening")
					f.Close()
					f, reader = newF, bufio.NewReader(newF)
					continue
				}
			}

			t.waitForMore(ctx, watcher)
		}
	}
}

// waitForMore pauses between read attempts, waking early on an fsnotify
// event in the log's directory (a rotation is likely) or the poll interval,
// whichever comes first.
func (t *Tailer) waitForMore(ctx context.Context, watcher *fsnotify.Watcher) {
	timer := time.NewTimer(pollInterval)
	defer timer.Stop()

	var events chan fsnotify.Event
	var errs chan error
	if watcher != nil {
		events = watcher.Events
		errs = watcher.Errors
	}

	select {
	case <-ctx.Done():
	case <-timer.C:
	case <-events:
	case err := <-errs:
		t.log.Warn("fsnotify watcher error", "error", err)
	}
}

func (t *Tailer) openAtEnd() (*os.File, *bufio.Reader, error) {
	f, err := os.Open(t.path)
	if err != nil {
		return nil, nil, err
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, nil, err
	}
	return f, bufio.NewReader(f), nil
}

// rotated reports whether the path now refers to a different inode/size than
// the currently open handle, the minimal signal available portably.
func (t *Tailer) rotated(open *os.File) (bool, error) {
	openInfo, err := open.Stat()
	if err != nil {
		return false, err
	}
	pathInfo, err := os.Stat(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, err
	}
	if !os.SameFile(openInfo, pathInfo) {
		return true, nil
	}
	pos, err := open.Seek(0, io.SeekCurrent)
	if err != nil {
		return false, err
	}
	return pathInfo.Size() < pos, nil
}

func (t *Tailer) decodeAndEmit(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}

	var raw alert.RawAlert
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		// Partial lines written during rotation are expected; discard silently.
		return
	}

	t.lastRead.Store(time.Now().UTC().Unix())
	t.sink(raw)
}

func ensureFile(path string) error {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		return f.Close()
	}
	return nil
}
