// Package logger re-initialises the global logger when the log section of
// the configuration file changes.
package logger

import (
	"fmt"
	"sync"

	"github.com/kart-io/logger"
	"github.com/kart-io/logger/option"
	"github.com/spf13/viper"

	configpkg "github.com/kart-io/sentinel-rag/pkg/infra/config"
	logopts "github.com/kart-io/sentinel-rag/pkg/options/logger"
)

// ReloadableLogger applies level, format and output changes at runtime.
// A configuration that fails validation or initialisation is rolled back.
type ReloadableLogger struct {
	mu   sync.Mutex
	opts option.LogOption
	init func(*logopts.Options) error
}

// NewReloadableLogger starts from the options the global logger was
// initialised with.
func NewReloadableLogger(opts *logopts.Options) *ReloadableLogger {
	return &ReloadableLogger{
		opts: *opts.LogOption,
		init: func(o *logopts.Options) error { return o.Init() },
	}
}

// Options returns a copy of the active options.
func (rl *ReloadableLogger) Options() option.LogOption {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	out := rl.opts
	out.OutputPaths = append([]string(nil), rl.opts.OutputPaths...)
	return out
}

// Apply validates next and re-initialises the global logger with it.
func (rl *ReloadableLogger) Apply(next option.LogOption) error {
	candidate := &logopts.Options{LogOption: &next}
	if err := candidate.Validate(); err != nil {
		return fmt.Errorf("invalid logger configuration: %w", err)
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if err := rl.init(candidate); err != nil {
		// 初始化失败时恢复原配置
		prev := rl.opts
		_ = rl.init(&logopts.Options{LogOption: &prev})
		return fmt.Errorf("failed to apply logger config: %w", err)
	}
	rl.opts = next

	logger.Infow("logger configuration reloaded",
		"level", next.Level, "format", next.Format, "development", next.Development)
	return nil
}

// Handler decodes the key section over the active options, so keys missing
// from the file keep their current value.
func (rl *ReloadableLogger) Handler(key string) configpkg.ChangeHandler {
	return func(v *viper.Viper) error {
		next := rl.Options()
		if err := v.UnmarshalKey(key, &next); err != nil {
			return fmt.Errorf("failed to unmarshal config key '%s': %w", key, err)
		}
		return rl.Apply(next)
	}
}

// RegisterWithWatcher subscribes the logger to changes of key.
func (rl *ReloadableLogger) RegisterWithWatcher(w *configpkg.Watcher, key string) {
	w.Subscribe("logger", rl.Handler(key))
}
