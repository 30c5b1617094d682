// Package watcher reports envelope files whose content has settled after a change.
package watcher

import (
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/crypto/sha3"
)

// DefaultSettle is how long a file must stay untouched before it is reported.
const DefaultSettle = 500 * time.Millisecond

// ErrNoPaths is returned by New when nothing is to be watched.
var ErrNoPaths = errors.New("watcher: no paths")

// Event describes a settled file.
type Event struct {
	Path      string
	Digest    string // SHA3-512 hex of the content
	Size      int64
	Timestamp time.Time
}

// Options tune a Watcher.
type Options struct {
	// Settle is the quiet period before a changed file is reported.
	Settle time.Duration

	// Extensions restricts directory scans and events to these suffixes
	// (for example ".json"). Explicitly named files are always watched.
	Extensions []string

	// Initial reports the files present at Start.
	Initial bool
}

// Watcher monitors envelope files and directories for changes.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	paths     []string
	opts      Options

	files    map[string]bool // explicitly named files
	mu       sync.Mutex
	pending  map[string]time.Time
	lastSeen map[string]string // path -> digest of the last reported content

	events chan Event
	errors chan error

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a watcher for the given files and directories.
func New(paths []string, opts Options) (*Watcher, error) {
	if len(paths) == 0 {
		return nil, ErrNoPaths
	}
	if opts.Settle <= 0 {
		opts.Settle = DefaultSettle
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		fsWatcher: fsWatcher,
		paths:     paths,
		opts:      opts,
		files:     make(map[string]bool),
		pending:   make(map[string]time.Time),
		lastSeen:  make(map[string]string),
		events:    make(chan Event, 64),
		errors:    make(chan error, 8),
		done:      make(chan struct{}),
	}, nil
}

// Events returns the channel of settled files.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Errors returns the channel of watch and read errors.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Start begins watching all configured paths.
func (w *Watcher) Start() error {
	for _, path := range w.paths {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return err
		}

		info, err := os.Stat(absPath)
		if err != nil {
			return err
		}

		if info.IsDir() {
			if err := w.fsWatcher.Add(absPath); err != nil {
				return err
			}
			entries, err := os.ReadDir(absPath)
			if err != nil {
				return err
			}
			for _, entry := range entries {
				if !entry.IsDir() && w.matches(entry.Name()) {
					w.seed(filepath.Join(absPath, entry.Name()))
				}
			}
			continue
		}

		// Watch the parent so that editors replacing the file are seen.
		if err := w.fsWatcher.Add(filepath.Dir(absPath)); err != nil {
			return err
		}
		w.files[absPath] = true
		w.seed(absPath)
	}

	w.wg.Add(2)
	go w.eventLoop()
	go w.settleLoop()

	return nil
}

// Stop shuts the watcher down and closes both channels.
func (w *Watcher) Stop() error {
	close(w.done)
	w.wg.Wait()
	close(w.events)
	close(w.errors)
	return w.fsWatcher.Close()
}

// seed records an existing file at Start. Without Initial its current
// content becomes the baseline and is not reported.
func (w *Watcher) seed(path string) {
	if w.opts.Initial {
		w.mu.Lock()
		w.pending[path] = time.Time{}
		w.mu.Unlock()
		return
	}
	digest, _, err := DigestFile(path)
	if err != nil {
		return
	}
	w.mu.Lock()
	w.lastSeen[path] = digest
	w.mu.Unlock()
}

func (w *Watcher) matches(name string) bool {
	if len(w.opts.Extensions) == 0 {
		return true
	}
	for _, ext := range w.opts.Extensions {
		if strings.EqualFold(filepath.Ext(name), ext) {
			return true
		}
	}
	return false
}

// relevant reports whether an fsnotify path belongs to the watch set.
func (w *Watcher) relevant(path string) bool {
	if w.files[path] {
		return true
	}
	for _, p := range w.paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			continue
		}
		if filepath.Dir(path) == abs && w.matches(path) {
			return true
		}
	}
	return false
}

func (w *Watcher) eventLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if !w.relevant(event.Name) {
				continue
			}
			info, err := os.Stat(event.Name)
			if err != nil || info.IsDir() {
				continue
			}

			w.mu.Lock()
			w.pending[event.Name] = time.Now()
			w.mu.Unlock()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.report(err)
		}
	}
}

func (w *Watcher) report(err error) {
	select {
	case w.errors <- err:
	default:
	}
}

func (w *Watcher) settleLoop() {
	defer w.wg.Done()

	tick := w.opts.Settle / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case now := <-ticker.C:
			w.flush(now)
		}
	}
}

// flush hashes files that have been quiet for the settle period. The lock
// is released while reading so eventLoop is never blocked on I/O.
func (w *Watcher) flush(now time.Time) {
	threshold := now.Add(-w.opts.Settle)

	type candidate struct {
		path    string
		touched time.Time
	}
	var ready []candidate
	w.mu.Lock()
	for path, touched := range w.pending {
		if touched.Before(threshold) {
			ready = append(ready, candidate{path, touched})
		}
	}
	w.mu.Unlock()

	for _, c := range ready {
		digest, size, err := DigestFile(c.path)

		w.mu.Lock()
		if w.pending[c.path] != c.touched {
			// Touched again while hashing.
			w.mu.Unlock()
			continue
		}
		if err != nil {
			delete(w.pending, c.path)
			w.mu.Unlock()
			w.report(err)
			continue
		}
		if w.lastSeen[c.path] == digest {
			delete(w.pending, c.path)
			w.mu.Unlock()
			continue
		}

		select {
		case w.events <- Event{Path: c.path, Digest: digest, Size: size, Timestamp: now}:
			delete(w.pending, c.path)
			w.lastSeen[c.path] = digest
		default:
			// Channel full; retry on the next tick.
		}
		w.mu.Unlock()
	}
}

// DigestFile streams a file through SHA3-512.
func DigestFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha3.New512()
	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}

// WatchedPaths returns the configured paths.
func (w *Watcher) WatchedPaths() []string {
	return w.paths
}

// Pending returns the number of files waiting to settle.
func (w *Watcher) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}
