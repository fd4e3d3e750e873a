// Package notify delivers markdown reports over the configured channels,
// chunking each message to the channel's byte budget and translating
// markdown into whatever dialect the channel speaks.
package notify

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// reserve is held back from every budget for the pagination marker and the
// channel's own envelope overhead.
const reserve = 100

// sectionSplitters in preference order: stock separators first, then
// headings, then bold title lines. A section still over budget after all of
// them falls back to hard line splits.
var sectionSplitters = []string{"\n---\n", "\n### ", "\n## "}

// Chunk splits a markdown body into pieces of at most budget bytes,
// preferring semantic boundaries. When more than one chunk comes out, each
// gets a trailing "(i/N)" marker.
func Chunk(body string, budget int) []string {
	if budget <= reserve {
		budget = reserve + 1
	}
	limit := budget - reserve
	if len(body) <= limit {
		return []string{body}
	}

	sections := splitSections(body, limit, 0)
	chunks := packSections(sections, limit)

	if len(chunks) > 1 {
		for i := range chunks {
			chunks[i] = fmt.Sprintf("%s\n(%d/%d)", chunks[i], i+1, len(chunks))
		}
	}
	return chunks
}

// splitSections breaks body into pieces no larger than limit, trying each
// splitter in turn and recursing on oversize pieces.
func splitSections(body string, limit, depth int) []string {
	if len(body) <= limit {
		return []string{body}
	}
	if depth < len(sectionSplitters) {
		sep := sectionSplitters[depth]
		parts := strings.Split(body, sep)
		if len(parts) == 1 {
			return splitSections(body, limit, depth+1)
		}
		var out []string
		for i, p := range parts {
			if i > 0 && strings.HasPrefix(sep, "\n#") {
				// Heading splits consume the marker; put it back.
				p = strings.TrimPrefix(sep, "\n") + p
			}
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			out = append(out, splitSections(p, limit, depth+1)...)
		}
		return out
	}
	if parts := splitBoldTitles(body); len(parts) > 1 {
		var out []string
		for _, p := range parts {
			out = append(out, splitSections(p, limit, depth+1)...)
		}
		return out
	}
	return splitLines(body, limit)
}

// splitBoldTitles cuts before lines that look like "**title**" headers.
func splitBoldTitles(body string) []string {
	lines := strings.Split(body, "\n")
	var parts []string
	var cur []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "**") && strings.HasSuffix(trimmed, "**") && len(cur) > 0 {
			parts = append(parts, strings.Join(cur, "\n"))
			cur = cur[:0]
		}
		cur = append(cur, line)
	}
	if len(cur) > 0 {
		parts = append(parts, strings.Join(cur, "\n"))
	}
	return parts
}

// splitLines is the hard fallback: accumulate whole lines, carving any
// single line that alone exceeds the limit into codepoint-aligned pieces.
func splitLines(body string, limit int) []string {
	var out []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	for _, line := range strings.Split(body, "\n") {
		for _, piece := range splitLongLine(line, limit) {
			if cur.Len() > 0 && cur.Len()+1+len(piece) > limit {
				flush()
			}
			if cur.Len() > 0 {
				cur.WriteByte('\n')
			}
			cur.WriteString(piece)
		}
	}
	flush()
	return out
}

// splitLongLine cuts one line into pieces of at most limit bytes without
// splitting a codepoint.
func splitLongLine(line string, limit int) []string {
	if len(line) <= limit {
		return []string{line}
	}
	var pieces []string
	for len(line) > limit {
		cut := limit
		for cut > 0 && !utf8.RuneStart(line[cut]) {
			cut--
		}
		pieces = append(pieces, line[:cut])
		line = line[cut:]
	}
	if line != "" {
		pieces = append(pieces, line)
	}
	return pieces
}

// packSections greedily merges adjacent sections back together while they
// fit the limit.
func packSections(sections []string, limit int) []string {
	var chunks []string
	var cur strings.Builder
	for _, sec := range sections {
		if len(sec) > limit {
			sec = TruncateUTF8(sec, limit)
		}
		need := len(sec)
		if cur.Len() > 0 {
			need += 2
		}
		if cur.Len() > 0 && cur.Len()+need > limit {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(sec)
	}
	if cur.Len() > 0 {
		chunks = append(chunks, cur.String())
	}
	return chunks
}

// TruncateUTF8 cuts s to at most n bytes without splitting a codepoint,
// appending an ellipsis marker. The cut point walks back byte by byte until
// it lands on a rune start.
func TruncateUTF8(s string, n int) string {
	const marker = "…"
	if len(s) <= n {
		return s
	}
	cut := n - len(marker)
	if cut <= 0 {
		return marker
	}
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + marker
}
