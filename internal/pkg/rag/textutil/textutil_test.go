package textutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "héllo", TruncateString("héllo", 10))
	assert.Equal(t, "hé", TruncateString("héllo", 2))
	assert.Equal(t, "", TruncateString("héllo", 0))
	assert.Equal(t, "你好", TruncateString("你好世界", 2))
}

func TestCleanListItem(t *testing.T) {
	tests := map[string]string{
		"1. What is RAG?":          "What is RAG?",
		"  2) How does it work?  ": "How does it work?",
		"- Are there limits?":      "Are there limits?",
		"* **Which formats?**":     "Which formats?",
		"• \"Who maintains it?\"":  "Who maintains it?",
		"Q3: Where is it stored?":  "Where is it stored?",
		"Plain question?":          "Plain question?",
		"   ":                      "",
		"-":                        "",
	}
	for in, want := range tests {
		assert.Equal(t, want, CleanListItem(in), in)
	}
}

func TestSplitQuestions(t *testing.T) {
	text := "Here are some questions:\n\n1. What is RAG?\n2. How are documents chunked?\n2. How are documents chunked?\n3. Which stores are supported?\n"

	assert.Equal(t, []string{
		"What is RAG?",
		"How are documents chunked?",
		"Which stores are supported?",
	}, SplitQuestions(text, 0))

	assert.Equal(t, []string{"What is RAG?", "How are documents chunked?"}, SplitQuestions(text, 2))
	assert.Empty(t, SplitQuestions("\n \n", 5))
}
