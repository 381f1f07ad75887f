package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"quikbot/internal/models"
)

type Operation int

const (
	Created Operation = iota
	Modified
	Removed
)

func (o Operation) String() string {
	switch o {
	case Created:
		return "created"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

type Event struct {
	Path      string
	Operation Operation
}

// Watcher reports changes to PDF files anywhere below a directory.
type Watcher struct {
	watcher *fsnotify.Watcher
}

func New() (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	return &Watcher{watcher: w}, nil
}

// Watch adds dir and all of its subdirectories and streams PDF events until ctx
// is done or Stop is called.
func (w *Watcher) Watch(ctx context.Context, dir string) (<-chan Event, error) {
	if err := w.addTree(dir); err != nil {
		return nil, err
	}

	events := make(chan Event, 100)
	go func() {
		defer close(events)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Create) {
					if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
						if err := w.addTree(event.Name); err != nil {
							log.Warn().Err(err).Str("dir", event.Name).Msg("failed to watch new directory")
						}
						continue
					}
				}
				if !strings.HasSuffix(event.Name, models.PDFExtension) {
					continue
				}

				var op Operation
				switch {
				case event.Has(fsnotify.Create):
					op = Created
				case event.Has(fsnotify.Write):
					op = Modified
				case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
					op = Removed
				default:
					continue
				}

				select {
				case events <- Event{Path: event.Name, Operation: op}:
				case <-ctx.Done():
					return
				}
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				log.Error().Err(err).Msg("watcher error")
			}
		}
	}()
	return events, nil
}

func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}
