// Copyright 2026 Semblance AI
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the config file when it changes on disk and publishes the
// parsed result on a channel. Edits are debounced so editors that write in
// several syscalls trigger a single reload.
type Watcher struct {
	path    string
	logger  *slog.Logger
	updates chan *Config
}

// NewWatcher creates a watcher for the config file at path.
func NewWatcher(path string, logger *slog.Logger) *Watcher {
	return &Watcher{
		path:    path,
		logger:  logger,
		updates: make(chan *Config, 1),
	}
}

// Updates returns the channel on which reloaded configs are delivered.
func (w *Watcher) Updates() <-chan *Config {
	return w.updates
}

// Run watches until ctx is cancelled. Parse failures are logged and the
// previous config stays in effect.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer fw.Close()

	// Watch the directory, not the file: most editors replace the file,
	// which drops a direct watch.
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watching config directory: %w", err)
	}

	var debounce *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(250*time.Millisecond, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case <-fire:
			cfg, err := Load(w.path)
			if err != nil {
				w.logger.Warn("config reload failed, keeping previous config",
					"path", w.path, "error", err)
				continue
			}
			w.logger.Info("config reloaded", "path", w.path)
			select {
			case w.updates <- cfg:
			default:
				// Receiver is behind; drop the stale pending update.
				select {
				case <-w.updates:
				default:
				}
				w.updates <- cfg
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}
