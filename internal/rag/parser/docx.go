package parser

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"image"
	"io"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kart-io/logger"

	"github.com/kart-io/sentinel-rag/internal/model"
	"github.com/kart-io/sentinel-rag/pkg/utils/errors"
)

const (
	docxDocument = "word/document.xml"
	docxMedia    = "word/media/"
)

// DOCX extracts numbered sections from an OOXML document: body paragraphs
// first, then tables (cells joined with " | ", one row per line), then the
// OCR text of embedded images. Empty blocks are skipped.
type DOCX struct {
	OCR OCR
}

// Parse implements Parser.
func (p DOCX) Parse(ctx context.Context, filePath string) ([]model.Unit, error) {
	zr, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, errors.ErrParseFailure.WithCause(fmt.Errorf("%s is not an OOXML document: %w", filepath.Base(filePath), err))
	}
	defer zr.Close()

	var blocks []string
	var mediaFiles []*zip.File
	found := false
	for _, f := range zr.File {
		switch {
		case f.Name == docxDocument:
			found = true
			paras, tables, err := readDocumentXML(f)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", docxDocument, err)
			}
			blocks = append(blocks, paras...)
			blocks = append(blocks, tables...)
		case strings.HasPrefix(f.Name, docxMedia):
			mediaFiles = append(mediaFiles, f)
		}
	}
	if !found {
		return nil, errors.ErrParseFailure.WithMessagef("%s has no %s", filepath.Base(filePath), docxDocument)
	}

	if p.OCR != nil {
		sort.Slice(mediaFiles, func(i, j int) bool { return mediaFiles[i].Name < mediaFiles[j].Name })
		for _, f := range mediaFiles {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if text := p.ocrMedia(ctx, f, filePath); text != "" {
				blocks = append(blocks, text)
			}
		}
	}

	units := make([]model.Unit, 0, len(blocks))
	for _, b := range blocks {
		if b = strings.TrimSpace(b); b != "" {
			units = append(units, model.Unit{Page: len(units) + 1, Text: b})
		}
	}
	return units, nil
}

func (p DOCX) ocrMedia(ctx context.Context, f *zip.File, source string) string {
	switch strings.ToLower(path.Ext(f.Name)) {
	case ".png", ".jpg", ".jpeg":
	default:
		logger.Debugw("skipping embedded media", "source", source, "media", f.Name)
		return ""
	}

	rc, err := f.Open()
	if err != nil {
		logger.Warnw("cannot open embedded image", "source", source, "media", f.Name, "error", err.Error())
		return ""
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		logger.Warnw("cannot read embedded image", "source", source, "media", f.Name, "error", err.Error())
		return ""
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		logger.Warnw("cannot decode embedded image", "source", source, "media", f.Name, "error", err.Error())
		return ""
	}
	text, err := p.OCR.Read(ctx, img)
	if err != nil {
		logger.Warnw("ocr failed on embedded image", "source", source, "media", f.Name, "error", err.Error())
		return ""
	}
	return text
}

// readDocumentXML returns the text of top-level paragraphs and tables.
func readDocumentXML(f *zip.File) (paras, tables []string, err error) {
	rc, err := f.Open()
	if err != nil {
		return nil, nil, err
	}
	defer rc.Close()

	d := xml.NewDecoder(rc)
	var stack []string
	for {
		tok, err := d.Token()
		if err == io.EOF {
			return paras, tables, nil
		}
		if err != nil {
			return nil, nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			parent := ""
			if len(stack) > 0 {
				parent = stack[len(stack)-1]
			}
			if parent == "body" && t.Name.Local == "p" {
				text, err := elementText(d)
				if err != nil {
					return nil, nil, err
				}
				paras = append(paras, text)
				continue
			}
			if parent == "body" && t.Name.Local == "tbl" {
				text, err := tableText(d)
				if err != nil {
					return nil, nil, err
				}
				tables = append(tables, text)
				continue
			}
			stack = append(stack, t.Name.Local)
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
}

// elementText consumes the current element and returns its run text.
// Paragraphs nested inside it are separated by newlines.
func elementText(d *xml.Decoder) (string, error) {
	var (
		b     strings.Builder
		depth = 1
		inT   bool
	)
	for depth > 0 {
		tok, err := d.Token()
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			switch t.Name.Local {
			case "t":
				inT = true
			case "tab":
				b.WriteByte('\t')
			case "br", "cr":
				b.WriteByte('\n')
			}
		case xml.EndElement:
			depth--
			switch t.Name.Local {
			case "t":
				inT = false
			case "p":
				if depth > 0 {
					b.WriteByte('\n')
				}
			}
		case xml.CharData:
			if inT {
				b.Write(t)
			}
		}
	}
	return b.String(), nil
}

// tableText consumes a w:tbl element.
func tableText(d *xml.Decoder) (string, error) {
	var (
		rows  []string
		cells []string
		depth = 1
	)
	for depth > 0 {
		tok, err := d.Token()
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "tc" {
				text, err := elementText(d)
				if err != nil {
					return "", err
				}
				if text = strings.TrimSpace(text); text != "" {
					cells = append(cells, text)
				}
				continue
			}
			depth++
			if t.Name.Local == "tr" {
				cells = nil
			}
		case xml.EndElement:
			depth--
			if t.Name.Local == "tr" && len(cells) > 0 {
				rows = append(rows, strings.Join(cells, " | "))
			}
		}
	}
	return strings.Join(rows, "\n"), nil
}
