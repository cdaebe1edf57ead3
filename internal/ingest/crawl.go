package ingest

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/gocolly/colly/v2"
)

// page is one fetched document.
type page struct {
	URL   string
	Title string
	Text  string
}

// crawl fetches the root page and every same-host page it links to.
// Depth 2 in colly terms: the root is depth 1, its links depth 2.
func (ing *Ingestor) crawl(ctx context.Context, root *url.URL) ([]page, error) {
	c := colly.NewCollector(
		colly.AllowedDomains(root.Host, root.Hostname()),
		colly.MaxDepth(2),
		colly.Async(true),
		colly.UserAgent("engi-docs-bot/1.0"),
	)
	c.SetRequestTimeout(ing.opts.Timeout)

	if err := c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: ing.opts.Parallelism,
		Delay:       ing.opts.Delay,
	}); err != nil {
		return nil, fmt.Errorf("configuring crawl limits: %w", err)
	}

	var (
		mu    sync.Mutex
		pages []page
	)

	c.OnRequest(func(r *colly.Request) {
		select {
		case <-ctx.Done():
			r.Abort()
		default:
		}
	})

	c.OnHTML("html", func(e *colly.HTMLElement) {
		text := extractText(e.DOM, e.Request.URL)
		if strings.TrimSpace(text) == "" {
			ing.logger.Debug("page had no extractable text", "url", e.Request.URL)
			return
		}

		title := strings.TrimSpace(e.DOM.Find("title").First().Text())

		mu.Lock()
		pages = append(pages, page{
			URL:   e.Request.URL.String(),
			Title: title,
			Text:  text,
		})
		mu.Unlock()
	})

	c.OnHTML("a[href]", func(e *colly.HTMLElement) {
		link := e.Request.AbsoluteURL(e.Attr("href"))
		if link == "" {
			return
		}
		u, err := url.Parse(link)
		if err != nil {
			return
		}
		// Fragments would make the same page look like many pages.
		u.Fragment = ""
		if u.Hostname() != root.Hostname() {
			return
		}
		// Visit errors (already visited, depth exceeded) are expected.
		_ = e.Request.Visit(u.String())
	})

	c.OnError(func(r *colly.Response, err error) {
		ing.logger.Warn("crawl request failed", "url", r.Request.URL, "error", err)
	})

	if err := c.Visit(root.String()); err != nil {
		return nil, fmt.Errorf("visiting %s: %w", root, err)
	}
	c.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return pages, nil
}
