package services

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/writeflow/writeflow-backend/internal/logger"
)

// FetchedPage is one competitor page reduced to prompt-sized plain text.
type FetchedPage struct {
	URL      string
	Title    string
	Headings []string
	Text     string
}

type PageFetcher interface {
	Fetch(ctx context.Context, pageURL string) (*FetchedPage, error)
}

type pageFetcher struct {
	log    *logger.Logger
	client *http.Client

	maxTextChars int
	maxHeadings  int
}

func NewPageFetcher(baseLog *logger.Logger, client *http.Client) PageFetcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &pageFetcher{
		log:          baseLog.With("service", "PageFetcher"),
		client:       client,
		maxTextChars: 8000,
		maxHeadings:  20,
	}
}

func (f *pageFetcher) Fetch(ctx context.Context, pageURL string) (*FetchedPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "WriteFlowBot/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("page returned %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}

	doc.Find("script, style, noscript, iframe, nav, header, footer, form").Remove()

	title := strings.TrimSpace(doc.Find("title").First().Text())

	var headings []string
	doc.Find("h1, h2, h3").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		text := strings.TrimSpace(sel.Text())
		if text != "" {
			headings = append(headings, text)
		}
		return len(headings) < f.maxHeadings
	})

	body := doc.Find("body")
	text := collapseWhitespace(body.Text())
	if runes := []rune(text); len(runes) > f.maxTextChars {
		text = string(runes[:f.maxTextChars])
	}

	return &FetchedPage{
		URL:      pageURL,
		Title:    title,
		Headings: headings,
		Text:     text,
	}, nil
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
