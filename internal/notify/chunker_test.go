package notify

import (
	"fmt"
	"regexp"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestChunkShortBodyUntouched(t *testing.T) {
	body := "## 标题\n\n一段内容"
	chunks := Chunk(body, 4096)
	if len(chunks) != 1 || chunks[0] != body {
		t.Fatalf("chunks = %q", chunks)
	}
}

func TestChunkPrefersStockSeparators(t *testing.T) {
	var parts []string
	for i := 0; i < 6; i++ {
		parts = append(parts, fmt.Sprintf("## 股票%d\n\n%s", i, strings.Repeat("分析内容。", 30)))
	}
	body := strings.Join(parts, "\n---\n")

	chunks := Chunk(body, 1024)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > 1024 {
			t.Errorf("chunk %d is %d bytes, over budget", i, len(c))
		}
		if !utf8.ValidString(c) {
			t.Errorf("chunk %d is not valid UTF-8", i)
		}
	}
	// No stock section should be torn in half mid-heading.
	for _, c := range chunks {
		if strings.Contains(c, "---") {
			t.Errorf("separator leaked into chunk: %q", c[:40])
		}
	}
}

func TestChunkMarkers(t *testing.T) {
	body := strings.Repeat("很长的一行内容。", 200)
	chunks := Chunk(body, 512)
	if len(chunks) < 2 {
		t.Fatalf("chunks = %d", len(chunks))
	}
	markerRe := regexp.MustCompile(`\(\d+/\d+\)$`)
	for i, c := range chunks {
		if !markerRe.MatchString(c) {
			t.Errorf("chunk %d missing (i/N) marker: %q", i, c[len(c)-20:])
		}
	}
	if !strings.HasSuffix(chunks[0], fmt.Sprintf("(1/%d)", len(chunks))) {
		t.Errorf("first marker wrong: %q", chunks[0][len(chunks[0])-12:])
	}
}

func TestChunkContentSurvives(t *testing.T) {
	// Every section must reappear in some chunk.
	sections := []string{"### 第一节\n甲", "### 第二节\n乙", "### 第三节\n丙"}
	body := strings.Join(sections, "\n\n") + "\n\n" + strings.Repeat("填充内容。", 100)
	joined := strings.Join(Chunk(body, 512), "\n")
	for _, want := range []string{"第一节", "第二节", "第三节", "甲", "乙", "丙"} {
		if !strings.Contains(joined, want) {
			t.Errorf("content %q lost in chunking", want)
		}
	}
}

func TestTruncateUTF8(t *testing.T) {
	s := "涨停板涨停板涨停板" // 3 bytes per rune
	got := TruncateUTF8(s, 10)
	if !utf8.ValidString(got) {
		t.Fatalf("truncation broke encoding: %q", got)
	}
	if len(got) > 10 {
		t.Errorf("len = %d, want <= 10", len(got))
	}
	if !strings.HasSuffix(got, "…") {
		t.Errorf("missing ellipsis: %q", got)
	}
	if TruncateUTF8("short", 100) != "short" {
		t.Error("short string should pass through")
	}
}

func TestChunkOversizeSingleLine(t *testing.T) {
	body := strings.Repeat("字", 2000)
	for _, c := range Chunk(body, 512) {
		if len(c) > 512 {
			t.Errorf("chunk over budget: %d bytes", len(c))
		}
		if !utf8.ValidString(c) {
			t.Error("invalid UTF-8 after hard split")
		}
	}
}
