package sessions

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Event announces a session transition. Appeared is true for absent→live,
// false for live→absent.
type Event struct {
	SessionID string
	Appeared  bool
}

// Watcher maintains the set of live sessions by watching the socket
// directory. A session is live only when its socket file exists and a
// connect probe succeeds; stale socket files do not count.
type Watcher struct {
	dir          string
	pollInterval time.Duration
	probeTimeout time.Duration

	mu   sync.Mutex
	live map[string]bool

	events chan Event
}

func NewWatcher(dir string, pollInterval time.Duration) *Watcher {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &Watcher{
		dir:          dir,
		pollInterval: pollInterval,
		probeTimeout: time.Second,
		live:         make(map[string]bool),
		events:       make(chan Event, 16),
	}
}

func (w *Watcher) Events() <-chan Event {
	return w.events
}

func (w *Watcher) IsLive(sessionID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.live[sessionID]
}

func (w *Watcher) LiveSet() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	set := make([]string, 0, len(w.live))
	for id := range w.live {
		set = append(set, id)
	}
	sort.Strings(set)
	return set
}

// Run blocks until ctx is done. Directory change notifications trigger a
// rescan; a periodic tick catches liveness changes that leave the file
// in place (a session can die without unlinking its socket).
func (w *Watcher) Run(ctx context.Context) {
	os.MkdirAll(w.dir, 0755)
	w.Scan()

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if addErr := watcher.Add(w.dir); addErr != nil {
			log.Warn().Err(addErr).Str("dir", w.dir).Msg("socket dir watch failed, polling instead")
			watcher.Close()
			watcher = nil
		}
	} else {
		log.Warn().Err(err).Msg("fsnotify unavailable, polling instead")
		watcher = nil
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	defer close(w.events)

	if watcher == nil {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.Scan()
			}
		}
	}
	defer watcher.Close()

	// Debounce bursts of directory events into one rescan.
	var debounce *time.Timer
	var debounceC <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(ev.Name, ".sock") {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.NewTimer(100 * time.Millisecond)
			debounceC = debounce.C
		case <-debounceC:
			debounceC = nil
			w.Scan()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("socket dir watch error")
		case <-ticker.C:
			w.Scan()
		}
	}
}

// Scan probes the directory once and emits transitions.
func (w *Watcher) Scan() {
	current := make(map[string]bool)

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		log.Debug().Err(err).Str("dir", w.dir).Msg("socket dir read failed")
	} else {
		for _, entry := range entries {
			name := entry.Name()
			if !strings.HasSuffix(name, ".sock") {
				continue
			}
			sessionID := strings.TrimSuffix(name, ".sock")
			if w.probe(filepath.Join(w.dir, name)) {
				current[sessionID] = true
			}
		}
	}

	w.mu.Lock()
	var transitions []Event
	for id := range current {
		if !w.live[id] {
			transitions = append(transitions, Event{SessionID: id, Appeared: true})
		}
	}
	for id := range w.live {
		if !current[id] {
			transitions = append(transitions, Event{SessionID: id, Appeared: false})
		}
	}
	w.live = current
	w.mu.Unlock()

	for _, t := range transitions {
		if t.Appeared {
			log.Info().Str("session_id", t.SessionID).Msg("session appeared")
		} else {
			log.Info().Str("session_id", t.SessionID).Msg("session disappeared")
		}
		select {
		case w.events <- t:
		default:
			log.Warn().Str("session_id", t.SessionID).Msg("session event dropped, consumer lagging")
		}
	}
}

func (w *Watcher) probe(path string) bool {
	conn, err := net.DialTimeout("unix", path, w.probeTimeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
