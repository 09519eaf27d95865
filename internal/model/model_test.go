package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSourceFromPayload(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]any
		want    ChunkSource
	}{
		{
			name:    "page document",
			payload: map[string]any{KeySource: "a.pdf", KeyPage: int64(3), KeyChunkID: "a.pdf_p3_c0", KeyType: ChunkTypeDocument},
			want:    ChunkSource{Source: "a.pdf", Page: "3", ChunkID: "a.pdf_p3_c0", Type: ChunkTypeDocument, Score: 0.5},
		},
		{
			name:    "json number page",
			payload: map[string]any{KeySource: "a.pdf", KeyPage: float64(2)},
			want:    ChunkSource{Source: "a.pdf", Page: "2", Score: 0.5},
		},
		{
			name:    "selector location",
			payload: map[string]any{KeySource: "https://x.test", KeySelector: "h1"},
			want:    ChunkSource{Source: "https://x.test", Page: "h1", Score: 0.5},
		},
		{
			name:    "missing fields",
			payload: map[string]any{KeyText: "orphan"},
			want:    ChunkSource{Source: Unknown, Page: Unknown, Score: 0.5},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SourceFromPayload(tt.payload, 0.5))
		})
	}
}

func TestChunkPayload(t *testing.T) {
	doc := Chunk{Text: "t", Source: "s", Page: 1, ChunkID: "s_p1_c0", Type: ChunkTypeDocument}
	p := doc.Payload()
	assert.Equal(t, 1, p[KeyPage])
	assert.NotContains(t, p, KeySelector)

	web := Chunk{Text: "t", Source: "u", Selector: "p", ChunkID: "u_p_0", Type: ChunkTypeWebContent}
	p = web.Payload()
	assert.Equal(t, "p", p[KeySelector])
	assert.NotContains(t, p, KeyPage)
}

func TestUnitLocation(t *testing.T) {
	assert.Equal(t, "p3", Unit{Page: 3, Text: "x"}.Location())
	assert.Equal(t, "h1", Unit{Selector: "h1", Text: "x"}.Location())
}

func TestFormatHistory(t *testing.T) {
	got := FormatHistory([]Message{
		{Role: RoleUser, Content: "hi"},
		{Role: RoleBot, Content: "hello"},
	})
	assert.Equal(t, "User: hi\nBot: hello", got)
}
