// Package scraper fetches web pages and extracts selector-scoped text,
// page metadata, links and images for indexing.
package scraper

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/kart-io/logger"
	"golang.org/x/time/rate"

	"github.com/kart-io/sentinel-rag/pkg/infra/pool"
	scraperopts "github.com/kart-io/sentinel-rag/pkg/options/scraper"
	"github.com/kart-io/sentinel-rag/pkg/utils/errors"
	"github.com/kart-io/sentinel-rag/pkg/utils/httpclient"
)

// Config holds scraper settings.
type Config struct {
	Timeout          time.Duration
	MaxRetries       int
	UserAgent        string
	MaxConcurrency   int
	RequestsPerSec   float64
	DefaultSelectors []string
	MaxBodyBytes     int64
}

// ConfigFromOptions converts command line options.
func ConfigFromOptions(o *scraperopts.Options) *Config {
	return &Config{
		Timeout:          o.Timeout,
		MaxRetries:       o.MaxRetries,
		UserAgent:        o.UserAgent,
		MaxConcurrency:   o.MaxConcurrency,
		RequestsPerSec:   o.RequestsPerSec,
		DefaultSelectors: append([]string(nil), o.DefaultSelectors...),
		MaxBodyBytes:     o.MaxBodyBytes,
	}
}

// Link is an anchor found on a page.
type Link struct {
	Text  string `json:"text"`
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// Image is an img element found on a page.
type Image struct {
	Src    string `json:"src"`
	Alt    string `json:"alt,omitempty"`
	Title  string `json:"title,omitempty"`
	Width  string `json:"width,omitempty"`
	Height string `json:"height,omitempty"`
}

// Page is the extracted content of one URL.
type Page struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	// Metadata holds description, keywords and og_* values that were present.
	Metadata map[string]string `json:"metadata"`
	// Selectors lists the selectors in request order; Content is keyed by them.
	Selectors []string            `json:"selectors"`
	Content   map[string][]string `json:"content"`
	Links     []Link              `json:"links,omitempty"`
	Images    []Image             `json:"images,omitempty"`
}

// Description returns the page description, or "".
func (p *Page) Description() string {
	return p.Metadata["description"]
}

// Elements returns the number of extracted element texts.
func (p *Page) Elements() int {
	n := 0
	for _, texts := range p.Content {
		n += len(texts)
	}
	return n
}

// Result is the outcome for one URL of ScrapeMany.
type Result struct {
	URL  string
	Page *Page
	Err  error
}

// Scraper is safe for concurrent use.
type Scraper struct {
	cfg    *Config
	client *httpclient.Client
	pool   *pool.Pool
	owned  bool

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// Option configures a Scraper.
type Option func(*Scraper)

// WithClient replaces the HTTP client built from the config.
func WithClient(c *httpclient.Client) Option {
	return func(s *Scraper) { s.client = c }
}

// WithPool runs ScrapeMany on p instead of a private pool.
func WithPool(p *pool.Pool) Option {
	return func(s *Scraper) { s.pool = p }
}

// New creates a Scraper. Without WithPool a private pool of
// cfg.MaxConcurrency workers is created and released by Close.
func New(cfg *Config, opts ...Option) (*Scraper, error) {
	if cfg == nil {
		cfg = ConfigFromOptions(scraperopts.NewOptions())
	}
	s := &Scraper{cfg: cfg, limiters: make(map[string]*rate.Limiter)}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = httpclient.NewClient(cfg.Timeout, cfg.MaxRetries,
			httpclient.WithUserAgent(cfg.UserAgent),
			httpclient.WithMaxBodyBytes(cfg.MaxBodyBytes),
		)
	}
	if s.pool == nil {
		p, err := pool.NewPool("scraper", pool.ScrapePool, pool.ScrapePoolConfig(max(cfg.MaxConcurrency, 1)))
		if err != nil {
			return nil, fmt.Errorf("create scrape pool: %w", err)
		}
		s.pool, s.owned = p, true
	}
	return s, nil
}

// Close releases the private pool.
func (s *Scraper) Close() {
	if s.owned {
		s.pool.Release()
	}
}

// Scrape fetches rawURL and extracts the text of every element matching
// selectors. An empty selector list means the configured defaults.
func (s *Scraper) Scrape(ctx context.Context, rawURL string, selectors []string) (*Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errors.ErrScrapeFailed.WithMessagef("invalid url %q", rawURL)
	}
	if len(selectors) == 0 {
		selectors = s.cfg.DefaultSelectors
	}

	if err := s.wait(ctx, u.Host); err != nil {
		return nil, err
	}
	resp, err := s.client.Get(ctx, rawURL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.ErrScrapeFailed.WithCause(err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, errors.ErrScrapeFailed.WithCause(fmt.Errorf("parse html of %s: %w", rawURL, err))
	}

	page := &Page{
		URL:       rawURL,
		Title:     cleanText(doc.Find("title").First().Text()),
		Metadata:  extractMetadata(doc),
		Selectors: make([]string, 0, len(selectors)),
		Content:   make(map[string][]string, len(selectors)),
		Links:     extractLinks(doc, u),
		Images:    extractImages(doc, u),
	}
	for _, sel := range selectors {
		sel = strings.TrimSpace(sel)
		if sel == "" {
			continue
		}
		if _, dup := page.Content[sel]; dup {
			continue
		}
		page.Selectors = append(page.Selectors, sel)
		page.Content[sel] = selectText(doc, sel)
	}

	logger.Infow("page scraped", "url", rawURL, "elements", page.Elements(),
		"links", len(page.Links), "images", len(page.Images))
	return page, nil
}

// ScrapeMany scrapes urls with at most MaxConcurrency fetches in flight.
// Results keep the order of urls; a failed URL only sets its own Err.
func (s *Scraper) ScrapeMany(ctx context.Context, urls []string, selectors []string) []Result {
	results := make([]Result, len(urls))
	err := s.pool.Each(ctx, len(urls), func(ctx context.Context, i int) {
		page, err := s.Scrape(ctx, urls[i], selectors)
		if err != nil {
			logger.Warnw("failed to scrape url", "url", urls[i], "error", err.Error())
		}
		results[i] = Result{URL: urls[i], Page: page, Err: err}
	})
	if err != nil {
		// 池已关闭时未执行的任务保留为失败结果
		for i := range results {
			if results[i].URL == "" {
				results[i] = Result{URL: urls[i], Err: errors.ErrScrapeFailed.WithCause(err)}
			}
		}
	}
	return results
}

func (s *Scraper) wait(ctx context.Context, host string) error {
	if s.cfg.RequestsPerSec <= 0 {
		return nil
	}
	s.mu.Lock()
	lim, ok := s.limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(s.cfg.RequestsPerSec), 1)
		s.limiters[host] = lim
	}
	s.mu.Unlock()
	return lim.Wait(ctx)
}

func selectText(doc *goquery.Document, selector string) []string {
	// 非法选择器匹配不到任何元素
	texts := []string{}
	doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
		if t := cleanText(sel.Text()); t != "" {
			texts = append(texts, t)
		}
	})
	return texts
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

var metadataNames = map[string]string{
	"description":    "description",
	"keywords":       "keywords",
	"og:title":       "og_title",
	"og:description": "og_description",
	"og:image":       "og_image",
	"og:url":         "og_url",
	"og:type":        "og_type",
}

func extractMetadata(doc *goquery.Document) map[string]string {
	meta := make(map[string]string)
	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		content, ok := s.Attr("content")
		if !ok {
			return
		}
		key := s.AttrOr("name", "")
		if key == "" {
			key = s.AttrOr("property", "")
		}
		name, ok := metadataNames[strings.ToLower(key)]
		if !ok {
			return
		}
		if _, seen := meta[name]; !seen {
			meta[name] = strings.TrimSpace(content)
		}
	})
	return meta
}

func resolve(base *url.URL, ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "#") || strings.HasPrefix(strings.ToLower(ref), "javascript:") {
		return "", false
	}
	r, err := base.Parse(ref)
	if err != nil {
		return "", false
	}
	return r.String(), true
}

func extractLinks(doc *goquery.Document, base *url.URL) []Link {
	var links []Link
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, ok := resolve(base, s.AttrOr("href", ""))
		if !ok {
			return
		}
		links = append(links, Link{
			Text:  cleanText(s.Text()),
			URL:   href,
			Title: s.AttrOr("title", ""),
		})
	})
	return links
}

func extractImages(doc *goquery.Document, base *url.URL) []Image {
	var images []Image
	doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		src, ok := resolve(base, s.AttrOr("src", ""))
		if !ok {
			return
		}
		images = append(images, Image{
			Src:    src,
			Alt:    s.AttrOr("alt", ""),
			Title:  s.AttrOr("title", ""),
			Width:  s.AttrOr("width", ""),
			Height: s.AttrOr("height", ""),
		})
	})
	return images
}
