package services

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPageFetcher_ExtractsTitleHeadingsAndText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>在庫管理ガイド</title><style>.x{}</style></head><body>
			<nav><a href="/">home</a></nav>
			<h1>在庫管理ガイド</h1>
			<h2>導入</h2>
			<p>最初の段落。</p>
			<h3>細目</h3>
			<p>二番目の段落。</p>
			<script>var hidden = 1;</script>
			<footer>フッター</footer>
		</body></html>`)
	}))
	defer srv.Close()

	fetcher := NewPageFetcher(newTestLogger(t), srv.Client())
	page, err := fetcher.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if page.Title != "在庫管理ガイド" {
		t.Fatalf("unexpected title %q", page.Title)
	}
	if len(page.Headings) != 3 {
		t.Fatalf("expected 3 headings, got %v", page.Headings)
	}
	if !strings.Contains(page.Text, "最初の段落") || !strings.Contains(page.Text, "二番目の段落") {
		t.Fatalf("body text missing paragraphs: %q", page.Text)
	}
	if strings.Contains(page.Text, "hidden") || strings.Contains(page.Text, "フッター") || strings.Contains(page.Text, "home") {
		t.Fatalf("boilerplate not stripped: %q", page.Text)
	}
}

func TestPageFetcher_NonOKStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	fetcher := NewPageFetcher(newTestLogger(t), srv.Client())
	if _, err := fetcher.Fetch(context.Background(), srv.URL); err == nil {
		t.Fatalf("expected error for non-200 response")
	}
}

func TestPageFetcher_CapsBodyText(t *testing.T) {
	long := strings.Repeat("あ", 20000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "<html><body><p>%s</p></body></html>", long)
	}))
	defer srv.Close()

	fetcher := NewPageFetcher(newTestLogger(t), srv.Client())
	page, err := fetcher.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got := len([]rune(page.Text)); got > 8000 {
		t.Fatalf("body text not capped: %d runes", got)
	}
}
