package httpapi

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/calvinalkan/sheetfs/internal/sheets"
)

// quietWindow is how close a file change must be to one of our own events
// to count as ours.
const quietWindow = 500 * time.Millisecond

// Watcher reports data files changed by other processes as
// [sheets.EventExternal] on a hub.
//
// The service's own saves also produce filesystem events, so a change is
// held for a quiet window and dropped when the hub saw an event for the same
// file around the same time.
type Watcher struct {
	fsw *fsnotify.Watcher
	hub *sheets.Hub
	log *log.Logger
}

// NewWatcher watches dir. Call Run to start delivering events.
func NewWatcher(dir string, hub *sheets.Hub, logger *log.Logger) (*Watcher, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	err = fsw.Add(dir)
	if err != nil {
		_ = fsw.Close()

		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	return &Watcher{fsw: fsw, hub: hub, log: logger}, nil
}

// Run processes events until ctx is done, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() { _ = w.fsw.Close() }()

	own, cancel := w.hub.Subscribe(256)
	defer cancel()

	// file -> time of the last event the service published for it
	recent := make(map[string]time.Time)
	// file -> time the filesystem change was first seen
	pending := make(map[string]time.Time)

	tick := time.NewTicker(quietWindow / 4)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-own:
			if !ok {
				return nil
			}

			if ev.Kind != sheets.EventExternal && ev.File != "" {
				recent[ev.File] = time.Now()
			}

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}

			name, relevant := dataFile(ev)
			if !relevant {
				continue
			}

			if _, seen := pending[name]; !seen {
				pending[name] = time.Now()
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}

			w.log.Printf("watcher: %v", err)

		case now := <-tick.C:
			for name, seen := range pending {
				if now.Sub(seen) < quietWindow {
					continue
				}

				delete(pending, name)

				if last, ok := recent[name]; ok && absDuration(seen.Sub(last)) < quietWindow {
					continue
				}

				w.log.Printf("external change: %s", name)
				w.hub.Publish(sheets.Event{Kind: sheets.EventExternal, File: name})
			}

			for name, last := range recent {
				if now.Sub(last) > 2*quietWindow {
					delete(recent, name)
				}
			}
		}
	}
}

func dataFile(ev fsnotify.Event) (string, bool) {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return "", false
	}

	name := filepath.Base(ev.Name)
	if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".csv") {
		return "", false
	}

	return name, true
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}

	return d
}
