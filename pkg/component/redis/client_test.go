package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	options "github.com/kart-io/sentinel-rag/pkg/options/redis"
)

func TestNew_NilOptions(t *testing.T) {
	_, err := New(context.Background(), nil)
	require.Error(t, err)
}

func TestNew_Unreachable(t *testing.T) {
	opts := options.NewOptions()
	opts.Port = 1
	opts.DialTimeout = 200 * time.Millisecond

	_, err := New(context.Background(), opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to ping redis")
}

func TestNew_Local(t *testing.T) {
	c, err := New(context.Background(), options.NewOptions())
	if err != nil {
		t.Skipf("redis not available: %v", err)
	}
	defer func() { _ = c.Close() }()

	assert.Equal(t, "redis", c.Name())
	assert.NoError(t, c.Ping(context.Background()))
}
