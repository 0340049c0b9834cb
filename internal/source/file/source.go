// Package file reads trigger definitions from a YAML file.
//
// The file holds a single list:
//
//	triggers:
//	  - id: nightly-load
//	    cron: "30 2 * * *"
//	    projectId: sales
//	    pipelineId: load-orders
//	  - id: weekly-report
//	    cron: "0 9 * * 1"
//	    projectId: sales
//	    pipelineId: report
//	    disabled: true
package file

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/domain"
	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/logging"
)

// DefaultDebounce is how long the watcher waits after the last change before
// reporting it.
const DefaultDebounce = 250 * time.Millisecond

type document struct {
	Triggers []domain.TriggerDefinition `yaml:"triggers"`
}

type Source struct {
	path     string
	debounce time.Duration
	logger   *zap.Logger
}

func New(path string) *Source {
	return &Source{path: path, debounce: DefaultDebounce, logger: zap.NewNop()}
}

func (s *Source) WithLogger(logger *zap.Logger) *Source {
	s.logger = logging.OrNop(logger).Named("source.file")
	return s
}

// WithDebounce sets the quiet period before a change is reported.
func (s *Source) WithDebounce(d time.Duration) *Source {
	s.debounce = d
	return s
}

func (s *Source) Path() string { return s.path }

// ListTriggerDefinitions reads and decodes the whole file. An empty file
// yields no definitions.
func (s *Source) ListTriggerDefinitions(_ context.Context) ([]domain.TriggerDefinition, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read trigger file: %w", err)
	}
	return Decode(data)
}

// Decode parses a trigger document. Unknown keys are rejected.
func Decode(data []byte) ([]domain.TriggerDefinition, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc document
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode trigger file: %w", err)
	}
	return doc.Triggers, nil
}

// Watch calls onChange after the file is written, created, renamed or
// removed, until ctx is cancelled. The parent directory is watched so that
// editors which replace the file are handled.
func (s *Source) Watch(ctx context.Context, onChange func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	dir := filepath.Dir(s.path)
	name := filepath.Base(s.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	s.logger.Info("watching trigger file", zap.String("path", s.path))

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	changed := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(s.debounce, onChange)
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	const relevant = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("watcher closed")
			}
			if !strings.EqualFold(filepath.Base(ev.Name), name) || ev.Op&relevant == 0 {
				continue
			}
			s.logger.Debug("trigger file changed", zap.Stringer("op", ev.Op))
			changed()
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("watcher closed")
			}
			// Events may have been lost, so reload anyway.
			s.logger.Warn("watch error", zap.Error(err))
			changed()
		}
	}
}
