// Package watcher detects completed screen recordings in a directory.
//
// Recorders write large video files incrementally, so a file is only treated
// as a recording once its size and modification time have held still for a
// configured number of consecutive scans. Detection is polling-based; it
// works on network mounts and directories where inotify delivery is
// unreliable.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gobwas/glob"

	"github.com/recallhq/recall/pkg/config"
	"github.com/recallhq/recall/pkg/logging"
)

// Recording is a fully written video file ready for annotation.
type Recording struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// fileState tracks one candidate file across scans.
type fileState struct {
	size    int64
	modTime time.Time
	stable  int
}

// Watcher polls a directory and emits recordings once they stop growing.
type Watcher struct {
	dir         string
	patterns    []glob.Glob
	interval    time.Duration
	stablePolls int
	logger      *logging.Logger

	pending map[string]*fileState
	done    map[string]struct{}
}

// New compiles the configured patterns and returns a watcher. It fails fast
// on an unreadable directory or a malformed pattern.
func New(cfg config.WatchConfig, logger *logging.Logger) (*Watcher, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("watcher: no directory configured")
	}
	if _, err := os.Stat(cfg.Dir); err != nil {
		return nil, fmt.Errorf("watcher: stat %s: %w", cfg.Dir, err)
	}

	patterns := make([]glob.Glob, 0, len(cfg.Patterns))
	for _, p := range cfg.Patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("watcher: compile pattern %q: %w", p, err)
		}
		patterns = append(patterns, g)
	}

	return &Watcher{
		dir:         cfg.Dir,
		patterns:    patterns,
		interval:    cfg.PollInterval,
		stablePolls: cfg.StablePolls,
		logger:      logger,
		pending:     make(map[string]*fileState),
		done:        make(map[string]struct{}),
	}, nil
}

// Watch scans the directory until the context is cancelled, sending each
// completed recording exactly once. The channel is closed on return.
func (w *Watcher) Watch(ctx context.Context, recordings chan<- Recording) error {
	defer close(recordings)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Infof("watching %s (%d patterns, %s interval)", w.dir, len(w.patterns), w.interval)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, rec := range w.scan() {
				select {
				case recordings <- rec:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

// scan walks the directory once and returns files that just became stable.
func (w *Watcher) scan() []Recording {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Errorf("scan %s: %v", w.dir, err)
		return nil
	}

	seen := make(map[string]struct{}, len(entries))
	var ready []Recording

	for _, entry := range entries {
		if entry.IsDir() || !w.matches(entry.Name()) {
			continue
		}

		path := filepath.Join(w.dir, entry.Name())
		seen[path] = struct{}{}
		if _, ok := w.done[path]; ok {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue // file vanished between readdir and stat
		}

		state, ok := w.pending[path]
		if !ok {
			w.pending[path] = &fileState{size: info.Size(), modTime: info.ModTime()}
			continue
		}

		if info.Size() != state.size || !info.ModTime().Equal(state.modTime) {
			state.size = info.Size()
			state.modTime = info.ModTime()
			state.stable = 0
			continue
		}

		state.stable++
		if state.stable >= w.stablePolls {
			delete(w.pending, path)
			w.done[path] = struct{}{}
			w.logger.Infof("recording complete: %s (%d bytes)", path, info.Size())
			ready = append(ready, Recording{Path: path, Size: info.Size(), ModTime: info.ModTime()})
		}
	}

	// Forget deleted files so a re-created recording is processed again.
	for path := range w.pending {
		if _, ok := seen[path]; !ok {
			delete(w.pending, path)
		}
	}
	for path := range w.done {
		if _, ok := seen[path]; !ok {
			delete(w.done, path)
		}
	}

	return ready
}

func (w *Watcher) matches(name string) bool {
	for _, g := range w.patterns {
		if g.Match(name) {
			return true
		}
	}
	return false
}
