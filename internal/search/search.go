// Package search implements the news-search service feeding the analysis
// prompts. It federates several web-search engines with per-engine API-key
// rotation, falls back to the Google News RSS feed when no engine is
// configured or all fail, and enriches bare results with page snippets.
package search

import (
	"context"
	"fmt"
	"net/http"
	neturl "net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog/log"

	"github.com/seenimoa/stockwatch/internal/infra"
)

// NewsItem is one search/news result handed to the analyzer.
type NewsItem struct {
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Snippet     string    `json:"snippet"`
	PublishedAt time.Time `json:"published_at,omitempty"`
}

// Engine is one web-search backend.
type Engine interface {
	Name() string
	Search(ctx context.Context, query string, limit int) ([]NewsItem, error)
}

// keyRing rotates through a set of API keys round-robin, so a batch spreads
// its calls across every configured credential.
type keyRing struct {
	keys []string
	next atomic.Uint64
}

func newKeyRing(csv string) *keyRing {
	var keys []string
	for _, k := range strings.Split(csv, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return &keyRing{keys: keys}
}

func (r *keyRing) empty() bool { return len(r.keys) == 0 }

func (r *keyRing) get() string {
	if len(r.keys) == 0 {
		return ""
	}
	n := r.next.Add(1)
	return r.keys[(n-1)%uint64(len(r.keys))]
}

// Service runs the engines in order and returns the first non-empty result
// set, falling back to Google News RSS.
type Service struct {
	engines []Engine
	client  *http.Client
	cache   *infra.Cache
	parser  *gofeed.Parser
	enrich  bool
}

// NewService builds the service. Engines are tried in the given order.
func NewService(client *http.Client, enrichSnippets bool, engines ...Engine) *Service {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Service{
		engines: engines,
		client:  client,
		cache:   infra.NewCache(10 * time.Minute),
		parser:  gofeed.NewParser(),
		enrich:  enrichSnippets,
	}
}

// Search returns up to limit news items for the query. Results are cached
// for 10 minutes; an empty result is not an error.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]NewsItem, error) {
	if limit <= 0 {
		limit = 5
	}
	cacheKey := fmt.Sprintf("search:%s:%d", query, limit)
	if v, ok := s.cache.Get(cacheKey); ok {
		items, _ := v.([]NewsItem)
		return items, nil
	}

	var items []NewsItem
	for _, eng := range s.engines {
		got, err := eng.Search(ctx, query, limit)
		if err != nil {
			log.Debug().Err(err).Str("engine", eng.Name()).Str("query", query).Msg("search engine failed")
			continue
		}
		if len(got) > 0 {
			items = got
			break
		}
	}
	if len(items) == 0 {
		items = s.googleNewsRSS(ctx, query, limit)
	}
	if len(items) > limit {
		items = items[:limit]
	}
	if s.enrich {
		s.enrichSnippets(ctx, items)
	}

	s.cache.Set(cacheKey, items)
	return items, nil
}

// googleNewsRSS is the credential-free fallback.
func (s *Service) googleNewsRSS(ctx context.Context, query string, limit int) []NewsItem {
	url := "https://news.google.com/rss/search?q=" + neturl.QueryEscape(query) + "&hl=zh-CN&gl=CN&ceid=CN:zh-Hans"
	feed, err := s.parser.ParseURLWithContext(url, ctx)
	if err != nil {
		log.Debug().Err(err).Str("query", query).Msg("google news rss failed")
		return nil
	}
	var items []NewsItem
	for _, it := range feed.Items {
		n := NewsItem{Title: it.Title, URL: it.Link, Snippet: stripTags(it.Description)}
		if it.PublishedParsed != nil {
			n.PublishedAt = *it.PublishedParsed
		}
		items = append(items, n)
		if len(items) >= limit {
			break
		}
	}
	return items
}

// enrichSnippets fills missing snippets by scraping the page's meta
// description or first paragraph. Failures leave the item as is.
func (s *Service) enrichSnippets(ctx context.Context, items []NewsItem) {
	for i := range items {
		if items[i].Snippet != "" || items[i].URL == "" {
			continue
		}
		snippet, err := s.pageSnippet(ctx, items[i].URL)
		if err != nil {
			continue
		}
		items[i].Snippet = snippet
	}
}

func (s *Service) pageSnippet(ctx context.Context, url string) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 8*time.Second)
	defer cancel()
	body, err := infra.DoGet(reqCtx, s.client, url, nil)
	if err != nil {
		return "", err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return "", err
	}
	if desc, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok && desc != "" {
		return truncateRunes(desc, 200), nil
	}
	if p := strings.TrimSpace(doc.Find("p").First().Text()); p != "" {
		return truncateRunes(p, 200), nil
	}
	return "", fmt.Errorf("no snippet in page")
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

// stripTags removes HTML markup from RSS descriptions.
func stripTags(s string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	return strings.TrimSpace(doc.Text())
}
