package parser

import (
	"archive/zip"
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sentinel-rag/internal/model"
	"github.com/kart-io/sentinel-rag/pkg/utils/errors"
)

type fakeOCR struct {
	text  string
	err   error
	calls int
}

func (f *fakeOCR) Read(context.Context, image.Image) (string, error) {
	f.calls++
	return f.text, f.err
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.Black)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

const documentXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
<w:body>
<w:p><w:r><w:t>Admissions open</w:t></w:r><w:r><w:t xml:space="preserve"> in May.</w:t></w:r></w:p>
<w:p><w:r><w:t>   </w:t></w:r></w:p>
<w:tbl>
<w:tr><w:tc><w:p><w:r><w:t>Course</w:t></w:r></w:p></w:tc><w:tc><w:p><w:r><w:t>Fee</w:t></w:r></w:p></w:tc></w:tr>
<w:tr><w:tc><w:p><w:r><w:t>CS</w:t></w:r></w:p></w:tc><w:tc><w:p/></w:tc><w:tc><w:p><w:r><w:t>100</w:t></w:r></w:p></w:tc></w:tr>
</w:tbl>
<w:p><w:r><w:t>Contact</w:t></w:r><w:r><w:tab/><w:t>office</w:t></w:r></w:p>
<w:sectPr/>
</w:body>
</w:document>`

func docxBytes(t *testing.T, files map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestRegistry_Dispatch(t *testing.T) {
	r := NewDefault(nil, nil)
	assert.Equal(t, []string{".doc", ".docx", ".jpeg", ".jpg", ".pdf", ".png", ".txt"}, r.SupportedExtensions())

	path := writeFile(t, "NOTES.TXT", []byte("hello world"))
	units, err := r.Parse(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []model.Unit{{Page: 1, Text: "hello world"}}, units)

	_, err = r.Parse(context.Background(), writeFile(t, "a.xlsx", []byte("x")))
	assert.True(t, stderrors.Is(err, errors.ErrUnsupportedFormat))

	_, err = r.Parse(context.Background(), filepath.Join(t.TempDir(), "missing.txt"))
	assert.True(t, stderrors.Is(err, errors.ErrParseFailure))
}

func TestRegistry_RegisterUnregister(t *testing.T) {
	r := NewRegistry()
	r.Register("md", Func(func(_ context.Context, path string) ([]model.Unit, error) {
		return []model.Unit{{Page: 1, Text: "# title"}}, nil
	}))
	assert.Equal(t, []string{".md"}, r.SupportedExtensions())
	assert.True(t, r.Supports("README.MD"))

	units, err := r.Parse(context.Background(), writeFile(t, "a.md", []byte("x")))
	require.NoError(t, err)
	assert.Len(t, units, 1)

	r.Unregister(".MD")
	assert.Empty(t, r.SupportedExtensions())
	assert.False(t, r.Supports("a.md"))
}

func TestRegistry_NoTextIsParseFailure(t *testing.T) {
	r := NewRegistry()
	r.Register(".txt", Text{})
	_, err := r.Parse(context.Background(), writeFile(t, "blank.txt", []byte(" \n\t ")))
	assert.True(t, stderrors.Is(err, errors.ErrParseFailure))
}

func TestRegistry_WrapsPlainErrors(t *testing.T) {
	r := NewRegistry()
	r.Register(".bin", Func(func(context.Context, string) ([]model.Unit, error) {
		return nil, fmt.Errorf("boom")
	}))
	_, err := r.Parse(context.Background(), writeFile(t, "a.bin", []byte("x")))
	assert.True(t, stderrors.Is(err, errors.ErrParseFailure))
	assert.Contains(t, err.Error(), "boom")
}

func TestText_Latin1Fallback(t *testing.T) {
	path := writeFile(t, "legacy.txt", []byte{'c', 'a', 'f', 0xe9})
	units, err := Text{}.Parse(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "café", units[0].Text)
}

func TestDOCX_Sections(t *testing.T) {
	ocr := &fakeOCR{text: "scanned timetable"}
	path := writeFile(t, "guide.docx", docxBytes(t, map[string][]byte{
		"word/document.xml":     []byte(documentXML),
		"word/media/image1.png": pngBytes(t),
		"word/media/chart.emf":  []byte("emf"),
	}))

	units, err := DOCX{OCR: ocr}.Parse(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []model.Unit{
		{Page: 1, Text: "Admissions open in May."},
		{Page: 2, Text: "Contact\toffice"},
		{Page: 3, Text: "Course | Fee\nCS | 100"},
		{Page: 4, Text: "scanned timetable"},
	}, units)
	assert.Equal(t, 1, ocr.calls)
}

func TestDOCX_WithoutOCR(t *testing.T) {
	path := writeFile(t, "guide.docx", docxBytes(t, map[string][]byte{
		"word/document.xml":     []byte(documentXML),
		"word/media/image1.png": pngBytes(t),
	}))
	units, err := DOCX{}.Parse(context.Background(), path)
	require.NoError(t, err)
	assert.Len(t, units, 3)
}

func TestDOCX_NotOOXML(t *testing.T) {
	path := writeFile(t, "old.doc", []byte{0xd0, 0xcf, 0x11, 0xe0})
	_, err := NewDefault(nil, nil).Parse(context.Background(), path)
	assert.True(t, stderrors.Is(err, errors.ErrParseFailure))

	path = writeFile(t, "empty.docx", docxBytes(t, map[string][]byte{"other.xml": []byte("<a/>")}))
	_, err = DOCX{}.Parse(context.Background(), path)
	assert.True(t, stderrors.Is(err, errors.ErrParseFailure))
}

func TestImage(t *testing.T) {
	path := writeFile(t, "poster.png", pngBytes(t))

	units, err := Image{OCR: &fakeOCR{text: "Open Day"}}.Parse(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []model.Unit{{Page: 1, Text: "Open Day"}}, units)

	_, err = Image{}.Parse(context.Background(), path)
	assert.True(t, stderrors.Is(err, errors.ErrParseFailure))

	_, err = Image{OCR: &fakeOCR{}}.Parse(context.Background(), writeFile(t, "bad.png", []byte("nope")))
	assert.Error(t, err)
}

type fakeRenderer struct {
	rendered []int
	failOn   int
	closed   bool
}

func (f *fakeRenderer) RenderPage(index int) (image.Image, error) {
	if index == f.failOn {
		return nil, fmt.Errorf("render failed")
	}
	f.rendered = append(f.rendered, index)
	return image.NewGray(image.Rect(0, 0, 1, 1)), nil
}

func (f *fakeRenderer) Close() error {
	f.closed = true
	return nil
}

func TestPDF_OCRFallback(t *testing.T) {
	renderer := &fakeRenderer{failOn: 3}
	opens := 0
	p := PDF{
		Render: func(string) (PageRenderer, error) {
			opens++
			return renderer, nil
		},
		OCR: &fakeOCR{text: "scanned text"},
		pageTexts: func(string) ([]string, error) {
			return []string{"  native page  ", "", "\n", "", "last"}, nil
		},
	}

	units, err := p.Parse(context.Background(), "doc.pdf")
	require.NoError(t, err)
	assert.Equal(t, []model.Unit{
		{Page: 1, Text: "native page"},
		{Page: 2, Text: "scanned text"},
		{Page: 3, Text: "scanned text"},
		{Page: 4, Text: ""},
		{Page: 5, Text: "last"},
	}, units)
	assert.Equal(t, 1, opens)
	assert.Equal(t, []int{1, 2}, renderer.rendered)
	assert.True(t, renderer.closed)
}

func TestPDF_NoOCR(t *testing.T) {
	p := PDF{pageTexts: func(string) ([]string, error) { return []string{"a", ""}, nil }}
	units, err := p.Parse(context.Background(), "doc.pdf")
	require.NoError(t, err)
	assert.Equal(t, []model.Unit{{Page: 1, Text: "a"}, {Page: 2, Text: ""}}, units)
}

func TestPDF_RenderOpenFails(t *testing.T) {
	opens := 0
	p := PDF{
		Render: func(string) (PageRenderer, error) {
			opens++
			return nil, fmt.Errorf("mupdf unavailable")
		},
		OCR:       &fakeOCR{text: "x"},
		pageTexts: func(string) ([]string, error) { return []string{"", "", "ok"}, nil },
	}
	units, err := p.Parse(context.Background(), "doc.pdf")
	require.NoError(t, err)
	assert.Len(t, units, 3)
	assert.Equal(t, 1, opens)
}

func TestPDF_Corrupted(t *testing.T) {
	path := writeFile(t, "broken.pdf", []byte("this is not a pdf"))
	_, err := NewDefault(nil, nil).Parse(context.Background(), path)
	assert.True(t, stderrors.Is(err, errors.ErrParseFailure))
}

// malformedXrefPDF points startxref at an object position that holds the
// xref keyword, which the pdf reader rejects with a panic.
const malformedXrefPDF = "%PDF-1.4\nxref\n0 2\n0000000000 65535 f \n0000000009 00000 n \ntrailer\n<< /Size 2 /Root 1 0 R >>\nstartxref\n9\n%%EOF\n"

func TestPDF_MalformedXref(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"xref keyword as object", malformedXrefPDF},
		{"startxref past end", "%PDF-1.4\n1 0 obj\n<< >>\nendobj\ntrailer\n<< /Size 2 /Root 1 0 R >>\nstartxref\n999999\n%%EOF\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "malformed.pdf", []byte(tt.data))
			var err error
			assert.NotPanics(t, func() {
				_, err = NewDefault(nil, nil).Parse(context.Background(), path)
			})
			assert.True(t, stderrors.Is(err, errors.ErrParseFailure))
		})
	}
}

func TestRegistry_ParserPanicBecomesParseFailure(t *testing.T) {
	r := NewRegistry()
	r.Register(".boom", Func(func(context.Context, string) ([]model.Unit, error) {
		panic("decoder exploded")
	}))
	path := writeFile(t, "doc.boom", []byte("x"))

	var err error
	assert.NotPanics(t, func() {
		_, err = r.Parse(context.Background(), path)
	})
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrParseFailure))
	assert.Contains(t, err.Error(), "decoder exploded")
}
