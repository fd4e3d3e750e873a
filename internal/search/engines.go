package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/seenimoa/stockwatch/internal/infra"
)

// EngineConfig carries the per-engine key lists (comma-separated rotations)
// from configuration.
type EngineConfig struct {
	TavilyKeys  string
	BochaKeys   string
	BraveKeys   string
	SerpAPIKeys string
}

// BuildEngines constructs the configured engines in the fixed preference
// order tavily, bocha, brave, serpapi. Engines without keys are omitted.
func BuildEngines(cfg EngineConfig, client *http.Client) []Engine {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	var engines []Engine
	if r := newKeyRing(cfg.TavilyKeys); !r.empty() {
		engines = append(engines, &tavilyEngine{keys: r, client: client, baseURL: "https://api.tavily.com"})
	}
	if r := newKeyRing(cfg.BochaKeys); !r.empty() {
		engines = append(engines, &bochaEngine{keys: r, client: client, baseURL: "https://api.bochaai.com"})
	}
	if r := newKeyRing(cfg.BraveKeys); !r.empty() {
		engines = append(engines, &braveEngine{keys: r, client: client, baseURL: "https://api.search.brave.com"})
	}
	if r := newKeyRing(cfg.SerpAPIKeys); !r.empty() {
		engines = append(engines, &serpapiEngine{keys: r, client: client, baseURL: "https://serpapi.com"})
	}
	return engines
}

// --- Tavily ---

type tavilyEngine struct {
	keys    *keyRing
	client  *http.Client
	baseURL string
}

func (e *tavilyEngine) Name() string { return "tavily" }

func (e *tavilyEngine) Search(ctx context.Context, query string, limit int) ([]NewsItem, error) {
	payload := map[string]any{
		"api_key":     e.keys.get(),
		"query":       query,
		"max_results": limit,
		"topic":       "news",
	}
	body, err := infra.DoPostJSON(ctx, e.client, e.baseURL+"/search", payload, nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Results []struct {
			Title         string `json:"title"`
			URL           string `json:"url"`
			Content       string `json:"content"`
			PublishedDate string `json:"published_date"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("tavily: parse: %w", err)
	}
	var items []NewsItem
	for _, r := range resp.Results {
		it := NewsItem{Title: r.Title, URL: r.URL, Snippet: r.Content}
		if t, err := time.Parse(time.RFC3339, r.PublishedDate); err == nil {
			it.PublishedAt = t
		}
		items = append(items, it)
	}
	return items, nil
}

// --- Bocha ---

type bochaEngine struct {
	keys    *keyRing
	client  *http.Client
	baseURL string
}

func (e *bochaEngine) Name() string { return "bocha" }

func (e *bochaEngine) Search(ctx context.Context, query string, limit int) ([]NewsItem, error) {
	payload := map[string]any{
		"query":     query,
		"count":     limit,
		"freshness": "oneWeek",
		"summary":   true,
	}
	headers := map[string]string{"Authorization": "Bearer " + e.keys.get()}
	body, err := infra.DoPostJSON(ctx, e.client, e.baseURL+"/v1/web-search", payload, headers)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Data struct {
			WebPages struct {
				Value []struct {
					Name          string `json:"name"`
					URL           string `json:"url"`
					Summary       string `json:"summary"`
					Snippet       string `json:"snippet"`
					DatePublished string `json:"datePublished"`
				} `json:"value"`
			} `json:"webPages"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("bocha: parse: %w", err)
	}
	var items []NewsItem
	for _, r := range resp.Data.WebPages.Value {
		snippet := r.Summary
		if snippet == "" {
			snippet = r.Snippet
		}
		it := NewsItem{Title: r.Name, URL: r.URL, Snippet: snippet}
		if t, err := time.Parse(time.RFC3339, r.DatePublished); err == nil {
			it.PublishedAt = t
		}
		items = append(items, it)
	}
	return items, nil
}

// --- Brave ---

type braveEngine struct {
	keys    *keyRing
	client  *http.Client
	baseURL string
}

func (e *braveEngine) Name() string { return "brave" }

func (e *braveEngine) Search(ctx context.Context, query string, limit int) ([]NewsItem, error) {
	u := fmt.Sprintf("%s/res/v1/news/search?q=%s&count=%d", e.baseURL, url.QueryEscape(query), limit)
	headers := map[string]string{
		"X-Subscription-Token": e.keys.get(),
		"Accept":               "application/json",
	}
	body, err := infra.DoGet(ctx, e.client, u, headers)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
			Age         string `json:"age"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("brave: parse: %w", err)
	}
	var items []NewsItem
	for _, r := range resp.Results {
		items = append(items, NewsItem{Title: r.Title, URL: r.URL, Snippet: r.Description})
	}
	return items, nil
}

// --- SerpAPI ---

type serpapiEngine struct {
	keys    *keyRing
	client  *http.Client
	baseURL string
}

func (e *serpapiEngine) Name() string { return "serpapi" }

func (e *serpapiEngine) Search(ctx context.Context, query string, limit int) ([]NewsItem, error) {
	u := fmt.Sprintf("%s/search.json?engine=google_news&q=%s&num=%d&api_key=%s",
		e.baseURL, url.QueryEscape(query), limit, e.keys.get())
	body, err := infra.DoGet(ctx, e.client, u, nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		NewsResults []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
			Date    string `json:"date"`
		} `json:"news_results"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("serpapi: parse: %w", err)
	}
	var items []NewsItem
	for _, r := range resp.NewsResults {
		items = append(items, NewsItem{Title: r.Title, URL: r.Link, Snippet: r.Snippet})
	}
	return items, nil
}
