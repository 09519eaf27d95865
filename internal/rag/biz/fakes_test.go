package biz

import (
	"context"
	stderrors "errors"
	"hash/fnv"
	"iter"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode"

	"github.com/stretchr/testify/require"

	"github.com/kart-io/sentinel-rag/internal/rag/chunker"
	"github.com/kart-io/sentinel-rag/internal/rag/embedder"
	"github.com/kart-io/sentinel-rag/internal/rag/metrics"
	"github.com/kart-io/sentinel-rag/internal/rag/parser"
	"github.com/kart-io/sentinel-rag/internal/rag/scraper"
	"github.com/kart-io/sentinel-rag/internal/rag/store"
	"github.com/kart-io/sentinel-rag/pkg/llm"
	"github.com/kart-io/sentinel-rag/pkg/utils/errors"
)

const hashDim = 64

// hashEmbedder is a deterministic bag-of-words embedding.
type hashEmbedder struct {
	mu    sync.Mutex
	fail  bool
	calls int
}

func (h *hashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	if h.fail {
		return nil, stderrors.New("embedding backend down")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = hashVector(t)
	}
	return out, nil
}

func (h *hashEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	v, err := h.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func (h *hashEmbedder) Name() string { return "hash" }

func (h *hashEmbedder) setFail(fail bool) {
	h.mu.Lock()
	h.fail = fail
	h.mu.Unlock()
}

func hashVector(text string) []float32 {
	v := make([]float32, hashDim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		f := fnv.New32a()
		_, _ = f.Write([]byte(w))
		v[f.Sum32()%hashDim]++
	}
	var norm float64
	for _, x := range v {
		norm += float64(x * x)
	}
	if norm == 0 {
		v[0] = 1
		return v
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v
}

// fakeChat records prompts and answers with a canned reply.
type fakeChat struct {
	mu        sync.Mutex
	prompts   []string
	systems   []string
	reply     string
	fragments []string
	err       error
}

var _ llm.StreamingChatProvider = (*fakeChat)(nil)

func (f *fakeChat) Chat(context.Context, []llm.Message) (string, error) {
	return f.reply, f.err
}

func (f *fakeChat) Generate(_ context.Context, prompt, systemPrompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	f.systems = append(f.systems, systemPrompt)
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeChat) GenerateStream(_ context.Context, prompt, _ string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		f.mu.Lock()
		f.prompts = append(f.prompts, prompt)
		frags, err := f.fragments, f.err
		f.mu.Unlock()
		for _, s := range frags {
			if !yield(s, nil) {
				return
			}
		}
		if err != nil {
			yield("", err)
		}
	}
}

func (f *fakeChat) Name() string { return "fake" }

func (f *fakeChat) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

// fakeScraper serves pages from a map; unknown urls fail.
type fakeScraper struct {
	pages map[string]*scraper.Page
}

func (f *fakeScraper) Scrape(_ context.Context, url string, _ []string) (*scraper.Page, error) {
	if p, ok := f.pages[url]; ok {
		return p, nil
	}
	return nil, errors.ErrScrapeFailed.WithMessagef("HTTP 404 for %s", url)
}

func (f *fakeScraper) ScrapeMany(ctx context.Context, urls []string, selectors []string) []scraper.Result {
	out := make([]scraper.Result, len(urls))
	for i, u := range urls {
		p, err := f.Scrape(ctx, u, selectors)
		out[i] = scraper.Result{URL: u, Page: p, Err: err}
	}
	return out
}

type fixture struct {
	svc     *Service
	embed   *hashEmbedder
	chat    *fakeChat
	backend *store.MemoryBackend
	metrics *metrics.RAGMetrics
	dir     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		embed:   &hashEmbedder{},
		chat:    &fakeChat{reply: "FastAPI is used for building APIs."},
		backend: store.NewMemoryBackend(),
		metrics: metrics.New(),
		dir:     t.TempDir(),
	}

	ck, err := chunker.New(chunker.DefaultConfig())
	require.NoError(t, err)

	vs := store.New(f.backend, &store.Config{
		BatchSize:  10,
		MaxRetries: 1,
		Sleep:      func(context.Context, time.Duration) error { return nil },
	})

	f.svc, err = NewService(Deps{
		Parser:   parser.NewDefault(nil, nil),
		Chunker:  ck,
		Embedder: embedder.Static(f.embed),
		Store:    vs,
		Scraper: &fakeScraper{pages: map[string]*scraper.Page{
			"https://docs.test/go": {
				URL:       "https://docs.test/go",
				Title:     "Go",
				Metadata:  map[string]string{"description": "The Go programming language"},
				Selectors: []string{"p", "h1"},
				Content: map[string][]string{
					"p":  {"Go is an open source programming language.", ""},
					"h1": {"Why Go"},
				},
			},
		}},
		Chat:    f.chat,
		Metrics: f.metrics,
	}, Config{TopK: 3})
	require.NoError(t, err)
	return f
}

func (f *fixture) writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}
