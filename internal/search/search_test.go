package search

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestKeyRingRotation(t *testing.T) {
	r := newKeyRing(" k1, k2 ,k3,")
	if r.empty() {
		t.Fatal("ring reported empty")
	}
	got := []string{r.get(), r.get(), r.get(), r.get()}
	want := []string{"k1", "k2", "k3", "k1"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("rotation = %v, want %v", got, want)
		}
	}
}

func TestKeyRingEmpty(t *testing.T) {
	r := newKeyRing("  ,  ")
	if !r.empty() || r.get() != "" {
		t.Error("blank csv should yield an empty ring")
	}
}

func TestBuildEnginesOrder(t *testing.T) {
	engines := BuildEngines(EngineConfig{
		TavilyKeys:  "t1",
		BraveKeys:   "b1,b2",
		SerpAPIKeys: "s1",
	}, nil)
	if len(engines) != 3 {
		t.Fatalf("engines = %d, want 3", len(engines))
	}
	want := []string{"tavily", "brave", "serpapi"}
	for i, e := range engines {
		if e.Name() != want[i] {
			t.Errorf("engine[%d] = %s, want %s", i, e.Name(), want[i])
		}
	}
}

func TestTavilySearch(t *testing.T) {
	var lastKey atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatal(err)
		}
		lastKey.Store(payload["api_key"].(string))
		w.Write([]byte(`{"results":[
		 {"title":"茅台三季报","url":"https://example.com/1","content":"营收增长","published_date":"2025-08-20T08:00:00Z"},
		 {"title":"白酒行业","url":"https://example.com/2","content":"景气度回升"}
		]}`))
	}))
	defer srv.Close()

	e := &tavilyEngine{keys: newKeyRing("ka,kb"), client: srv.Client(), baseURL: srv.URL}
	items, err := e.Search(context.Background(), "贵州茅台", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(items) != 2 || items[0].Title != "茅台三季报" {
		t.Fatalf("items = %+v", items)
	}
	if items[0].PublishedAt.IsZero() {
		t.Error("published date not parsed")
	}
	if lastKey.Load() != "ka" {
		t.Errorf("first key = %v", lastKey.Load())
	}

	// Second call rotates to the next key.
	if _, err := e.Search(context.Background(), "贵州茅台", 5); err != nil {
		t.Fatal(err)
	}
	if lastKey.Load() != "kb" {
		t.Errorf("second key = %v", lastKey.Load())
	}
}

// stubEngine scripts an engine for service tests.
type stubEngine struct {
	name  string
	items []NewsItem
	err   error
	calls int
}

func (s *stubEngine) Name() string { return s.name }
func (s *stubEngine) Search(context.Context, string, int) ([]NewsItem, error) {
	s.calls++
	return s.items, s.err
}

func TestServiceFailsOverBetweenEngines(t *testing.T) {
	broken := &stubEngine{name: "tavily", err: errors.New("quota exceeded")}
	working := &stubEngine{name: "brave", items: []NewsItem{{Title: "n1", URL: "u1", Snippet: "s1"}}}

	svc := NewService(nil, false, broken, working)
	items, err := svc.Search(context.Background(), "600519 贵州茅台", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(items) != 1 || items[0].Title != "n1" {
		t.Fatalf("items = %+v", items)
	}
	if broken.calls != 1 || working.calls != 1 {
		t.Errorf("calls = %d/%d", broken.calls, working.calls)
	}
}

func TestServiceCachesResults(t *testing.T) {
	eng := &stubEngine{name: "tavily", items: []NewsItem{{Title: "n1"}}}
	svc := NewService(nil, false, eng)

	for i := 0; i < 3; i++ {
		if _, err := svc.Search(context.Background(), "q", 5); err != nil {
			t.Fatal(err)
		}
	}
	if eng.calls != 1 {
		t.Errorf("engine called %d times, want 1 (cached)", eng.calls)
	}
}

func TestServiceLimitsResults(t *testing.T) {
	eng := &stubEngine{name: "tavily", items: []NewsItem{
		{Title: "1"}, {Title: "2"}, {Title: "3"}, {Title: "4"},
	}}
	svc := NewService(nil, false, eng)
	items, err := svc.Search(context.Background(), "q", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Errorf("len = %d, want 2", len(items))
	}
}

func TestStripTags(t *testing.T) {
	got := stripTags(`<a href="x">茅台</a>&nbsp;<b>大涨</b>`)
	if got != "茅台 大涨" && got != "茅台 大涨" {
		t.Errorf("stripTags = %q", got)
	}
}
