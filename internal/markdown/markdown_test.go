package markdown

import (
	"strings"
	"testing"

	"github.com/writeflow/writeflow-backend/internal/types"
)

func TestAssembleOrderAndSeparators(t *testing.T) {
	sections := []*types.ArticleSection{
		{Index: 0, Heading: "卸売とは", Body: "基本の説明。"},
		{Index: 1, Heading: "## 仕入れの流れ", Body: "手順の説明。"},
		{Index: 2, Heading: "まとめ", Body: "要点の整理。"},
	}
	got := Assemble(sections)
	want := "## 卸売とは\n\n基本の説明。\n\n" +
		"## 仕入れの流れ\n\n手順の説明。\n\n" +
		"## まとめ\n\n要点の整理。"
	if got != want {
		t.Fatalf("Assemble mismatch:\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestAssembleSkipsNilAndEmpty(t *testing.T) {
	sections := []*types.ArticleSection{
		nil,
		{Index: 0, Heading: "見出しのみ", Body: ""},
		{Index: 1, Heading: "", Body: "本文のみ。"},
	}
	got := Assemble(sections)
	if got != "## 見出しのみ\n\n本文のみ。" {
		t.Fatalf("unexpected assembly: %q", got)
	}
}

const replaceDoc = "# タイトル\n\n" +
	"導入文です。\n\n" +
	"## 卸売とは\n\n" +
	"古い本文A。\n\n" +
	"### 小見出し\n\n" +
	"古い本文B。\n\n" +
	"## まとめ\n\n" +
	"締めの文章。"

func TestReplaceSectionPrecision(t *testing.T) {
	newBody := "## 卸売とは\n\n新しい本文です。"
	out, found := ReplaceSection(replaceDoc, "卸売とは", newBody)
	if !found {
		t.Fatalf("heading not found")
	}
	if !strings.Contains(out, "新しい本文です。") {
		t.Fatalf("replacement missing:\n%s", out)
	}
	if strings.Contains(out, "古い本文A。") || strings.Contains(out, "古い本文B。") {
		t.Fatalf("old section content (incl. subtree) should be gone:\n%s", out)
	}
	if !strings.HasPrefix(out, "# タイトル\n\n導入文です。") {
		t.Fatalf("content before the heading was altered:\n%s", out)
	}
	if !strings.Contains(out, "## まとめ\n\n締めの文章。") {
		t.Fatalf("content after the next equal-level heading was altered:\n%s", out)
	}
}

func TestReplaceSectionNotFound(t *testing.T) {
	out, found := ReplaceSection(replaceDoc, "存在しない見出し", "x")
	if found {
		t.Fatalf("expected found=false")
	}
	if out != replaceDoc {
		t.Fatalf("document mutated on miss")
	}
}

func TestReplaceSectionNoConclusionHeading(t *testing.T) {
	doc := "## 卸売とは\n\n本文。"
	out, found := ReplaceSection(doc, "まとめ", "新しい内容")
	if found {
		t.Fatalf("まとめ should not match")
	}
	if out != doc {
		t.Fatalf("document mutated on miss")
	}
}

func TestReplaceSectionLastSectionRunsToEOF(t *testing.T) {
	newBody := "## まとめ\n\n差し替えた締め。"
	out, found := ReplaceSection(replaceDoc, "まとめ", newBody)
	if !found {
		t.Fatalf("heading not found")
	}
	if strings.Contains(out, "締めの文章。") {
		t.Fatalf("old tail content should be gone:\n%s", out)
	}
	if !strings.HasSuffix(out, "差し替えた締め。") {
		t.Fatalf("replacement should run to end of document:\n%s", out)
	}
}

func TestReplaceSectionIgnoresTitleHeading(t *testing.T) {
	// H1 is outside the 2–4 range; a query matching only the title must miss.
	doc := "# 独自タイトル\n\n本文。"
	if _, found := ReplaceSection(doc, "独自タイトル", "x"); found {
		t.Fatalf("H1 must not be replaceable")
	}
}

func TestReplaceSectionPartialQueryMatch(t *testing.T) {
	out, found := ReplaceSection(replaceDoc, "卸売", "## 卸売とは\n\n部分一致でも置換。")
	if !found {
		t.Fatalf("contains-match should find the heading")
	}
	if !strings.Contains(out, "部分一致でも置換。") {
		t.Fatalf("replacement missing:\n%s", out)
	}
}

func TestScanHeadingsSkipsCodeFences(t *testing.T) {
	doc := "## 本物\n\n```\n## コード内\n```\n"
	headings := scanHeadings(strings.Split(doc, "\n"))
	if len(headings) != 1 || headings[0].text != "本物" {
		t.Fatalf("fenced heading should be ignored: %+v", headings)
	}
}
