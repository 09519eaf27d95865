// Package model provides data models shared by the RAG service layers.
package model

import (
	"fmt"
	"strconv"
)

// Chunk types stored in the payload "type" field.
const (
	ChunkTypeDocument   = "document"
	ChunkTypeWebContent = "web_content"
	ChunkTypeMetadata   = "metadata"
)

// Payload keys written for every stored chunk.
const (
	KeyText      = "text"
	KeySource    = "source"
	KeyPage      = "page"
	KeySelector  = "selector"
	KeyChunkID   = "chunk_id"
	KeyType      = "type"
	KeyTimestamp = "timestamp"
)

// Unknown is reported for provenance fields missing from a payload.
const Unknown = "Unknown"

// Unit is one (location, text) pair produced by a parser.
// Exactly one of Page and Selector identifies the location.
type Unit struct {
	// Page is the 1-based page or section number.
	Page int `json:"page,omitempty"`
	// Selector is the CSS selector the text was scraped with.
	Selector string `json:"selector,omitempty"`
	Text     string `json:"text"`
}

// Location returns the selector of a scraped unit, or "p<page>" otherwise.
func (u Unit) Location() string {
	if u.Selector != "" {
		return u.Selector
	}
	return "p" + strconv.Itoa(u.Page)
}

// Chunk is the atomic retrievable unit.
type Chunk struct {
	Text     string `json:"text"`
	Source   string `json:"source"`
	Page     int    `json:"page,omitempty"`
	Selector string `json:"selector,omitempty"`
	ChunkID  string `json:"chunk_id"`
	Type     string `json:"type"`
}

// Payload converts the chunk into the map stored next to its vector.
func (c Chunk) Payload() map[string]any {
	p := map[string]any{
		KeyText:    c.Text,
		KeySource:  c.Source,
		KeyChunkID: c.ChunkID,
		KeyType:    c.Type,
	}
	if c.Selector != "" {
		p[KeySelector] = c.Selector
	} else {
		p[KeyPage] = c.Page
	}
	return p
}

// ChunkSource is the provenance of one retrieved chunk.
type ChunkSource struct {
	Source  string  `json:"source"`
	Page    string  `json:"page"`
	ChunkID string  `json:"chunk_id,omitempty"`
	Type    string  `json:"type,omitempty"`
	Score   float32 `json:"score"`
}

// SourceFromPayload reads provenance from a stored payload.
// Missing source or location fields become Unknown.
func SourceFromPayload(payload map[string]any, score float32) ChunkSource {
	src := ChunkSource{
		Source: stringField(payload, KeySource),
		Page:   stringField(payload, KeyPage),
		Score:  score,
	}
	if src.Page == "" {
		src.Page = stringField(payload, KeySelector)
	}
	if src.Source == "" {
		src.Source = Unknown
	}
	if src.Page == "" {
		src.Page = Unknown
	}
	src.ChunkID = stringField(payload, KeyChunkID)
	src.Type = stringField(payload, KeyType)
	return src
}

// TextFromPayload returns the chunk text of a payload, or "".
func TextFromPayload(payload map[string]any) string {
	return stringField(payload, KeyText)
}

func stringField(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		// JSON 数字解码后为 float64
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// QueryResult is the retrieval outcome of one query, with context texts and
// metadata in matching order.
type QueryResult struct {
	Contexts []string      `json:"contexts"`
	Sources  []ChunkSource `json:"sources"`
}

// Empty reports whether nothing relevant was found.
func (r *QueryResult) Empty() bool {
	return r == nil || len(r.Contexts) == 0
}

// Answer is a generated response with the sources it was grounded on.
type Answer struct {
	Answer  string        `json:"answer"`
	Sources []ChunkSource `json:"sources"`
}
