package server

import (
	"fmt"
	"log"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/mockagent/mockagent/scenario"
)

// ScenarioHolder provides lock-free access to the current scenario
// document. Existing sessions keep their cursor; a reload only changes the
// timeline they read from.
type ScenarioHolder struct {
	path string
	doc  atomic.Pointer[scenario.Document]
}

// NewScenarioHolder loads the scenario and wraps it for hot reload.
func NewScenarioHolder(path string) (*ScenarioHolder, error) {
	doc, err := scenario.Load(path)
	if err != nil {
		return nil, err
	}
	h := &ScenarioHolder{path: path}
	h.doc.Store(doc)
	return h, nil
}

// Doc returns the current document.
func (h *ScenarioHolder) Doc() *scenario.Document {
	return h.doc.Load()
}

// Path returns the scenario file path.
func (h *ScenarioHolder) Path() string {
	return h.path
}

// Watch reloads the scenario whenever its file changes. A parse failure on
// reload keeps the previous document; only the initial load is fatal. The
// watcher runs until the returned closer is called.
func (h *ScenarioHolder) Watch() (func() error, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("scenario watcher: %w", err)
	}
	// Watch the directory: editors often replace the file, which drops a
	// watch registered on the file itself.
	if err := watcher.Add(filepath.Dir(h.path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("scenario watcher: %w", err)
	}

	go func() {
		base := filepath.Base(h.path)
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != base {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				doc, err := scenario.Load(h.path)
				if err != nil {
					log.Printf("WARN: scenario reload failed, keeping previous document: %v", err)
					continue
				}
				h.doc.Store(doc)
				scenarioReloads.Inc()
				log.Printf("scenario reloaded from %s (%d steps)", h.path, len(doc.Timeline))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("WARN: scenario watcher: %v", err)
			}
		}
	}()

	return watcher.Close, nil
}
