// Package changebus derives a single typed event stream from filesystem
// changes under the vault, grounded on the config-watcher's fsnotify
// watch-loop/debounce-timer structure: a single watch goroutine classifies
// and coalesces events, generalized here from "reload one config file" to
// "classify any vault path change into a typed event."
package changebus

import (
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/agenthq/relay/errors"
	"github.com/agenthq/relay/logger"
)

// Event is a single change-bus event.
type Event struct {
	Kind      string
	Path      string
	Data      map[string]string
	Timestamp time.Time
}

// Bus watches a vault root and classifies fsnotify events into typed
// events, coalescing rapid bursts on the same path and fanning out to
// in-process subscribers in source order.
type Bus struct {
	watcher  *fsnotify.Watcher
	root     string
	debounce time.Duration

	mu          sync.Mutex
	subscribers map[string][]chan Event // keyed by subscribed pattern
	pending     map[string]*time.Timer  // keyed by path, for debounce
	pendingOp   map[string]fsnotify.Op  // keyed by path: ops seen in the current burst
	lastEvent   map[string]Event

	done chan struct{}
}

// New creates a Bus rooted at vaultRoot. Call Start to begin watching.
func New(vaultRoot string, debounce time.Duration) (*Bus, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create filesystem watcher")
	}
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}
	b := &Bus{
		watcher:     w,
		root:        vaultRoot,
		debounce:    debounce,
		subscribers: map[string][]chan Event{},
		pending:     map[string]*time.Timer{},
		pendingOp:   map[string]fsnotify.Op{},
		lastEvent:   map[string]Event{},
		done:        make(chan struct{}),
	}
	if err := b.addTree(vaultRoot); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Bus) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // best-effort: skip unreadable subtrees
		}
		if d.IsDir() {
			_ = b.watcher.Add(path)
		}
		return nil
	})
}

// Start begins the watch loop in a background goroutine.
func (b *Bus) Start() {
	go b.watchLoop()
}

// Stop halts the watch loop and closes the underlying watcher.
func (b *Bus) Stop() error {
	close(b.done)
	return b.watcher.Close()
}

func (b *Bus) watchLoop() {
	for {
		select {
		case ev, ok := <-b.watcher.Events:
			if !ok {
				return
			}
			b.scheduleClassify(ev)
		case err, ok := <-b.watcher.Errors:
			if !ok {
				return
			}
			logger.BusDebugw("change bus watcher error", "error", err)
		case <-b.done:
			return
		}
	}
}

// scheduleClassify debounces bursts on the same path within b.debounce,
// coalescing them into one event whose Op is the union of the burst's ops,
// so a Create followed by a Write still classifies as a creation.
func (b *Bus) scheduleClassify(ev fsnotify.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t, ok := b.pending[ev.Name]; ok && t.Stop() {
		ev.Op |= b.pendingOp[ev.Name]
	}
	b.pendingOp[ev.Name] = ev.Op
	b.pending[ev.Name] = time.AfterFunc(b.debounce, func() {
		b.mu.Lock()
		delete(b.pending, ev.Name)
		delete(b.pendingOp, ev.Name)
		b.mu.Unlock()
		b.classifyAndPublish(ev)
	})
}

func (b *Bus) classifyAndPublish(ev fsnotify.Event) {
	kind, data := classify(b.root, ev)
	if kind == "" {
		return
	}
	b.Publish(kind, data, ev.Name)
}

// Publish injects an event directly onto the bus (used by in-process
// producers such as the upstream chat bridge's trace.progress passthrough)
// without a filesystem round trip.
func (b *Bus) Publish(kind string, data map[string]string, path string) {
	event := Event{Kind: kind, Path: path, Data: data, Timestamp: time.Now()}

	b.mu.Lock()
	b.lastEvent[path] = event
	var targets []chan Event
	for pattern, chans := range b.subscribers {
		if matches(pattern, kind) {
			targets = append(targets, chans...)
		}
	}
	b.mu.Unlock()

	for _, ch := range targets {
		ch <- event // in-process subscribers are called synchronously in source order
	}
}

// Subscribe returns a channel that receives every published event whose
// kind matches pattern ("*" global wildcard, "prefix:*" prefix wildcard,
// or an exact kind).
func (b *Bus) Subscribe(pattern string) <-chan Event {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subscribers[pattern] = append(b.subscribers[pattern], ch)
	b.mu.Unlock()
	return ch
}

func matches(pattern, kind string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, ":*") {
		return strings.HasPrefix(kind, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == kind
}
