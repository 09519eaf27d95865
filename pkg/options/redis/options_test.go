package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sentinel-rag/pkg/utils/json"
)

func TestOptionsJSONMarshal_PasswordRedacted(t *testing.T) {
	opts := NewOptions()
	opts.Password = "supersecret"

	data, err := json.Marshal(opts)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "supersecret")
	assert.Contains(t, string(data), redactedPassword)
	assert.NotContains(t, opts.String(), "supersecret")
}

func TestOptionsJSONMarshal_EmptyPassword(t *testing.T) {
	data, err := json.Marshal(NewOptions())
	require.NoError(t, err)
	assert.NotContains(t, string(data), redactedPassword)
	assert.Contains(t, string(data), `"host":"127.0.0.1"`)
}

func TestValidate(t *testing.T) {
	opts := NewOptions()
	opts.Host = ""
	assert.Empty(t, opts.Validate(), "disabled redis is not validated")

	opts.Enabled = true
	opts.Port = 0
	assert.Len(t, opts.Validate(), 2)
	assert.Equal(t, "127.0.0.1:6379", NewOptions().Addr())
}
