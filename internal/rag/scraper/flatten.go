package scraper

import (
	"fmt"

	"github.com/kart-io/sentinel-rag/internal/model"
)

// MetadataSelector is the pseudo-location of the page metadata chunk.
const MetadataSelector = "metadata"

// Flatten turns a page into chunks: one per extracted element text, in
// selector order, plus a metadata chunk when the page has a title or
// description.
func Flatten(page *Page) []model.Chunk {
	if page == nil {
		return nil
	}
	var chunks []model.Chunk
	for _, sel := range page.Selectors {
		for i, text := range page.Content[sel] {
			if text == "" {
				continue
			}
			chunks = append(chunks, model.Chunk{
				Text:     text,
				Source:   page.URL,
				Selector: sel,
				ChunkID:  fmt.Sprintf("%s_%s_%d", page.URL, sel, i),
				Type:     model.ChunkTypeWebContent,
			})
		}
	}

	title, desc := page.Title, page.Description()
	if title != "" || desc != "" {
		if title == "" {
			title = "No title"
		}
		if desc == "" {
			desc = "No description"
		}
		chunks = append(chunks, model.Chunk{
			Text:     fmt.Sprintf("Page Metadata: %s - %s", title, desc),
			Source:   page.URL,
			Selector: MetadataSelector,
			ChunkID:  page.URL + "_metadata",
			Type:     model.ChunkTypeMetadata,
		})
	}
	return chunks
}
