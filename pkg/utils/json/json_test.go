package json

import (
	"bytes"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Text   string `json:"text"`
	Source string `json:"source"`
	Page   int    `json:"page"`
}

func TestPayloadRoundTrip(t *testing.T) {
	in := payload{Text: "FastAPI is great", Source: "a.pdf", Page: 1}

	s, err := MarshalString(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"text":"FastAPI is great","source":"a.pdf","page":1}`, s)

	var out payload
	require.NoError(t, Unmarshal([]byte(s), &out))
	assert.Equal(t, in, out)
}

func TestEncoderDecoder(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewEncoder(&buf).Encode(map[string]string{"role": "user"}))

	var out map[string]string
	require.NoError(t, NewDecoder(&buf).Decode(&out))
	assert.Equal(t, "user", out["role"])
}

func TestIsUsingSonic(t *testing.T) {
	want := runtime.GOARCH == "amd64" || runtime.GOARCH == "arm64"
	assert.Equal(t, want, IsUsingSonic())
}
