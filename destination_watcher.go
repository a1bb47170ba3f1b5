package main

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// DestinationWatcher keeps a ResumeFilter current while a batch runs, so an
// artifact that lands in the synced folder mid-run is not exported twice.
type DestinationWatcher struct {
	dir     string
	filter  *ResumeFilter
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
	mu      sync.Mutex

	// onArtifact is called after an artifact was added to the filter
	onArtifact func(chat string)
}

// NewDestinationWatcher binds a directory to a filter
func NewDestinationWatcher(dir string, filter *ResumeFilter) *DestinationWatcher {
	return &DestinationWatcher{dir: dir, filter: filter}
}

// Start begins watching
func (w *DestinationWatcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(w.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.watcher = watcher
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	LogInfo("destination_watcher").Str("path", w.dir).Msg("Started watching destination directory")
	go w.watch(watcher, w.stopCh, w.doneCh)
	return nil
}

// Stop stops watching and waits for the loop to exit
func (w *DestinationWatcher) Stop() {
	w.mu.Lock()
	if w.watcher == nil {
		w.mu.Unlock()
		return
	}
	close(w.stopCh)
	w.watcher.Close()
	done := w.doneCh
	w.watcher = nil
	w.mu.Unlock()

	<-done
	LogInfo("destination_watcher").Msg("Stopped watching destination directory")
}

func (w *DestinationWatcher) watch(watcher *fsnotify.Watcher, stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	for {
		select {
		case <-stopCh:
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			// renames land as Create on the new name
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			name := filepath.Base(event.Name)
			chat, ok := w.filter.ChatNameFromArtifact(name)
			if !ok {
				continue
			}
			if w.filter.AddArtifacts([]string{name}) > 0 {
				LogDebug("destination_watcher").Str("chat", chat).Msg("artifact appeared")
				if w.onArtifact != nil {
					w.onArtifact(chat)
				}
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			LogError("destination_watcher").Err(err).Msg("Watcher error")
		}
	}
}
