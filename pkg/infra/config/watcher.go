// Package config provides configuration hot reload on top of viper.
package config

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/kart-io/logger"
	"github.com/spf13/viper"
)

// ChangeHandler is invoked with the re-read viper instance after the
// configuration file changes.
type ChangeHandler func(v *viper.Viper) error

// Watcher fans configuration file changes out to subscribers.
// Handlers run sequentially in id order; a failing handler does not stop the others.
type Watcher struct {
	viper    *viper.Viper
	mu       sync.RWMutex
	handlers map[string]ChangeHandler
	watching bool
}

// NewWatcher creates a watcher over a viper instance that already has a config file.
func NewWatcher(v *viper.Viper) *Watcher {
	return &Watcher{
		viper:    v,
		handlers: make(map[string]ChangeHandler),
	}
}

// Subscribe registers handler under id, replacing any previous handler with that id.
func (w *Watcher) Subscribe(id string, handler ChangeHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[id] = handler
	logger.Debugw("config watcher: handler subscribed", "id", id)
}

// Unsubscribe removes a handler by id.
func (w *Watcher) Unsubscribe(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.handlers, id)
}

// Start begins watching. Calling it more than once has no effect.
// A viper instance without a config file is not watched.
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.watching || w.viper.ConfigFileUsed() == "" {
		w.mu.Unlock()
		return
	}
	w.watching = true
	w.mu.Unlock()

	w.viper.OnConfigChange(func(e fsnotify.Event) {
		logger.Infow("config file changed", "file", e.Name, "op", e.Op.String())
		w.Notify()
	})
	w.viper.WatchConfig()
	logger.Infow("config watcher started", "file", w.viper.ConfigFileUsed())
}

// Notify runs every handler against the current configuration and returns
// the joined handler errors.
func (w *Watcher) Notify() error {
	w.mu.RLock()
	ids := make([]string, 0, len(w.handlers))
	for id := range w.handlers {
		ids = append(ids, id)
	}
	handlers := make(map[string]ChangeHandler, len(w.handlers))
	for id, h := range w.handlers {
		handlers[id] = h
	}
	w.mu.RUnlock()
	sort.Strings(ids)

	var errs []error
	for _, id := range ids {
		if err := handlers[id](w.viper); err != nil {
			logger.Errorw("config watcher: handler failed", "id", id, "error", err.Error())
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// Stop marks the watcher inactive. viper offers no way to stop the
// underlying fsnotify watch, so handlers are removed instead.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.watching = false
	w.handlers = make(map[string]ChangeHandler)
}

// IsWatching returns whether the watcher is currently active.
func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.watching
}

// UnmarshalSection returns a handler that decodes key into a fresh T and passes it to apply.
func UnmarshalSection[T any](key string, apply func(*T) error) ChangeHandler {
	return func(v *viper.Viper) error {
		var section T
		if err := v.UnmarshalKey(key, &section); err != nil {
			return fmt.Errorf("failed to unmarshal config key '%s': %w", key, err)
		}
		return apply(&section)
	}
}
