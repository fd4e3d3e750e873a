package notify

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	headingRe = regexp.MustCompile(`(?m)^#{1,6}\s*`)
	boldRe    = regexp.MustCompile(`\*\*(.+?)\*\*`)
	linkRe    = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	hruleRe   = regexp.MustCompile(`(?m)^-{3,}\s*$`)
)

// ToTelegram rewrites generic markdown into Telegram's legacy Markdown
// dialect: headings become bold lines, ** collapses to *, and bare
// brackets are escaped so the parser does not choke.
func ToTelegram(md string) string {
	out := headingRe.ReplaceAllString(md, "")
	out = boldRe.ReplaceAllString(out, "*$1*")
	out = hruleRe.ReplaceAllString(out, "")

	// Escape brackets that are not part of a link.
	var b strings.Builder
	links := linkRe.FindAllStringIndex(out, -1)
	inLink := func(i int) bool {
		for _, span := range links {
			if i >= span[0] && i < span[1] {
				return true
			}
		}
		return false
	}
	for i := 0; i < len(out); i++ {
		c := out[i]
		if (c == '[' || c == ']') && !inLink(i) {
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}
	return b.String()
}

// ToPlain strips markdown down to plain text.
func ToPlain(md string) string {
	out := headingRe.ReplaceAllString(md, "")
	out = boldRe.ReplaceAllString(out, "$1")
	out = linkRe.ReplaceAllString(out, "$1")
	out = hruleRe.ReplaceAllString(out, "")
	out = strings.ReplaceAll(out, "`", "")
	return strings.TrimSpace(out)
}

const htmlStyle = `body{font-family:-apple-system,"Segoe UI","PingFang SC","Microsoft YaHei",sans-serif;
line-height:1.6;color:#24292f;max-width:760px;margin:0 auto;padding:16px}
h2{border-bottom:1px solid #d8dee4;padding-bottom:4px}
h3{margin-top:20px}
strong{color:#b91c1c}
hr{border:none;border-top:1px solid #d8dee4;margin:24px 0}
table{border-collapse:collapse}td,th{border:1px solid #d8dee4;padding:4px 8px}`

// ToHTML renders markdown as a minimal standalone HTML document for email
// bodies. It handles the subset the report builders emit: headings, bold,
// links, horizontal rules and paragraphs.
func ToHTML(md string) string {
	var body strings.Builder
	for _, block := range strings.Split(md, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		switch {
		case hruleRe.MatchString(block):
			body.WriteString("<hr>\n")
		case strings.HasPrefix(block, "### "):
			fmt.Fprintf(&body, "<h3>%s</h3>\n", inlineHTML(strings.TrimPrefix(block, "### ")))
		case strings.HasPrefix(block, "## "):
			fmt.Fprintf(&body, "<h2>%s</h2>\n", inlineHTML(strings.TrimPrefix(block, "## ")))
		case strings.HasPrefix(block, "# "):
			fmt.Fprintf(&body, "<h1>%s</h1>\n", inlineHTML(strings.TrimPrefix(block, "# ")))
		default:
			fmt.Fprintf(&body, "<p>%s</p>\n", inlineHTML(strings.ReplaceAll(block, "\n", "<br>")))
		}
	}
	return fmt.Sprintf("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><style>%s</style></head><body>\n%s</body></html>", htmlStyle, body.String())
}

func inlineHTML(s string) string {
	s = boldRe.ReplaceAllString(s, "<strong>$1</strong>")
	s = linkRe.ReplaceAllString(s, `<a href="$2">$1</a>`)
	return s
}
