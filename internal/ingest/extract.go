package ingest

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

// contentSelectors are tried in order. They match the main-content
// containers used by common documentation themes (Sphinx, MkDocs).
var contentSelectors = []string{
	"div[role=main]",
	"main#main-content",
	"article",
}

var blankLines = regexp.MustCompile(`\n{3,}`)

// extractText pulls the readable text out of a parsed page. Known
// documentation containers are preferred; pages that match none fall
// back to readability extraction and finally to the raw body text.
func extractText(dom *goquery.Selection, pageURL *url.URL) string {
	// Navigation and scripts only add noise to embeddings.
	doc := dom.Clone()
	doc.Find("script, style, nav, header, footer").Remove()

	for _, selector := range contentSelectors {
		if sel := doc.Find(selector).First(); sel.Length() > 0 {
			if text := normalize(sel.Text()); text != "" {
				return text
			}
		}
	}

	if html, err := goquery.OuterHtml(dom); err == nil {
		if article, err := readability.FromReader(strings.NewReader(html), pageURL); err == nil {
			if text := normalize(article.TextContent); text != "" {
				return text
			}
		}
	}

	return normalize(doc.Find("body").Text())
}

// normalize trims each line and collapses runs of blank lines, keeping
// paragraph boundaries for the chunker.
func normalize(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	joined := strings.Join(lines, "\n")
	joined = blankLines.ReplaceAllString(joined, "\n\n")
	return strings.TrimSpace(joined)
}
