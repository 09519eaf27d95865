package logger

import (
	"errors"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logopts "github.com/kart-io/sentinel-rag/pkg/options/logger"
)

func newTestLogger(t *testing.T) (*ReloadableLogger, *[]string) {
	t.Helper()
	opts := logopts.NewOptions()
	opts.Level = "INFO"
	rl := NewReloadableLogger(opts)
	var levels []string
	rl.init = func(o *logopts.Options) error {
		levels = append(levels, o.Level)
		return nil
	}
	return rl, &levels
}

func TestReloadableLogger_Handler(t *testing.T) {
	rl, levels := newTestLogger(t)
	format := rl.Options().Format

	v := viper.New()
	v.Set("log.level", "DEBUG")
	require.NoError(t, rl.Handler("log")(v))

	assert.Equal(t, "DEBUG", rl.Options().Level)
	assert.Equal(t, format, rl.Options().Format, "keys absent from the file are kept")
	assert.Equal(t, []string{"DEBUG"}, *levels)
}

func TestReloadableLogger_InvalidLevelRejected(t *testing.T) {
	rl, levels := newTestLogger(t)

	next := rl.Options()
	next.Level = "LOUD"
	assert.Error(t, rl.Apply(next))
	assert.Equal(t, "INFO", rl.Options().Level)
	assert.Empty(t, *levels, "validation failures never reach init")
}

func TestReloadableLogger_InitFailureRollsBack(t *testing.T) {
	rl, levels := newTestLogger(t)

	next := rl.Options()
	next.Level = "ERROR"
	rl.init = func(o *logopts.Options) error {
		*levels = append(*levels, o.Level)
		if o.Level == "ERROR" {
			return errors.New("cannot open output")
		}
		return nil
	}

	assert.Error(t, rl.Apply(next))
	assert.Equal(t, "INFO", rl.Options().Level)
	assert.Equal(t, []string{"ERROR", "INFO"}, *levels)
}
