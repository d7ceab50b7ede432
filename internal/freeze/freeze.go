// Package freeze drives a data store's frozen mode from a marker file.
//
// Maintenance tooling freezes every store of a node by creating
// frozen.marker in the node's data directory and thaws them by removing it.
// A Watcher applies the marker's presence to its targets as it changes.
package freeze

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// MarkerFile is the name of the marker inside the watched directory.
const MarkerFile = "frozen.marker"

// Target is something with a frozen mode, typically a *datastore.DataStore.
type Target interface {
	Freeze()
	Unfreeze()
}

// MarkerPath returns the marker location for dir.
func MarkerPath(dir string) string {
	return filepath.Join(dir, MarkerFile)
}

// IsMarked reports whether dir holds a marker.
func IsMarked(dir string) bool {
	_, err := os.Stat(MarkerPath(dir))
	return err == nil
}

// WriteMarker creates the marker in dir, recording reason and the time.
func WriteMarker(dir, reason string) error {
	content := fmt.Sprintf("%s\n%s\n", time.Now().UTC().Format(time.RFC3339), reason)
	if err := os.WriteFile(MarkerPath(dir), []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write freeze marker: %w", err)
	}
	return nil
}

// RemoveMarker deletes the marker in dir. A missing marker is not an error.
func RemoveMarker(dir string) error {
	err := os.Remove(MarkerPath(dir))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove freeze marker: %w", err)
	}
	return nil
}

// Watcher keeps its targets frozen while the marker exists.
//
// Thread Safety: Close may be called from any goroutine and is idempotent.
type Watcher struct {
	dir     string
	targets []Target
	log     zerolog.Logger
	fsw     *fsnotify.Watcher
	done    chan struct{}
	once    sync.Once
}

// Watch starts watching dir. The targets are synchronized with the marker
// before Watch returns.
func Watch(dir string, log zerolog.Logger, targets ...Target) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create freeze watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	w := &Watcher{
		dir:     dir,
		targets: targets,
		log:     log.With().Str("component", "freeze").Str("dir", dir).Logger(),
		fsw:     fsw,
		done:    make(chan struct{}),
	}
	// The watch is in place first so a change racing with this read is
	// still delivered.
	w.apply()
	go w.loop()
	return w, nil
}

// Close stops watching. Targets keep their current state.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		err = w.fsw.Close()
		<-w.done
	})
	return err
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != MarkerFile {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				w.apply()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("freeze watcher error")
		}
	}
}

// apply sets every target from the marker's current presence.
func (w *Watcher) apply() {
	frozen := IsMarked(w.dir)
	for _, t := range w.targets {
		if frozen {
			t.Freeze()
		} else {
			t.Unfreeze()
		}
	}
	w.log.Debug().Bool("frozen", frozen).Msg("freeze marker applied")
}
