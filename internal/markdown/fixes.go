package markdown

import "strings"

// FixKind names one idempotent structural insertion.
type FixKind string

const (
	FixAddTLDR       FixKind = "add_tldr"
	FixAddFAQ        FixKind = "add_faq"
	FixAddConclusion FixKind = "add_conclusion"
	FixAddGlossary   FixKind = "add_glossary"
)

func ParseFixKind(s string) (FixKind, bool) {
	switch FixKind(strings.ToLower(strings.TrimSpace(s))) {
	case FixAddTLDR:
		return FixAddTLDR, true
	case FixAddFAQ:
		return FixAddFAQ, true
	case FixAddConclusion:
		return FixAddConclusion, true
	case FixAddGlossary:
		return FixAddGlossary, true
	default:
		return "", false
	}
}

type structuralFix struct {
	// aliases drive the scan-before-insert check; a document heading matching
	// any alias means the block already exists and the fix is a no-op.
	aliases []string
	block   string
	atTop   bool
}

var structuralFixes = map[FixKind]structuralFix{
	FixAddTLDR: {
		aliases: []string{"結論（先に）", "tl;dr", "tldr"},
		block: "## 結論（先に）\n\n" +
			"- この記事の要点を最初にまとめています。\n" +
			"- 詳細は以降の各セクションで解説します。",
		atTop: true,
	},
	FixAddFAQ: {
		aliases: []string{"よくある質問", "faq"},
		block: "## よくある質問（FAQ）\n\n" +
			"**Q. この記事の内容はどこから始めればよいですか？**\n\n" +
			"A. まずは冒頭のポイントから順にお読みください。",
	},
	FixAddConclusion: {
		aliases: []string{"まとめ", "conclusion", "おわりに"},
		block: "## まとめ\n\n" +
			"本記事のポイントを振り返り、次のアクションにつなげてください。",
	},
	FixAddGlossary: {
		aliases: []string{"用語集", "glossary"},
		block: "## 用語集\n\n" +
			"- 本文中の専門用語はこちらで確認できます。",
	},
}

// ApplyStructuralFix inserts the fix's standard block unless a matching
// heading already exists anywhere in the document. Applying the same fix
// twice never duplicates content. changed=false returns md unchanged.
func ApplyStructuralFix(md string, kind FixKind) (string, bool) {
	fix, ok := structuralFixes[kind]
	if !ok {
		return md, false
	}

	lines := strings.Split(md, "\n")
	for _, h := range scanHeadings(lines) {
		for _, alias := range fix.aliases {
			if headingMatches(h.text, alias) {
				return md, false
			}
		}
	}

	if fix.atTop {
		return insertAfterTitle(md, lines, fix.block), true
	}
	return appendBlock(md, fix.block), true
}

// insertAfterTitle puts the block immediately after the first H1, or at the
// very top when the document has no title heading.
func insertAfterTitle(md string, lines []string, block string) string {
	titleIdx := -1
	for _, h := range scanHeadings(lines) {
		if h.level == 1 {
			titleIdx = h.lineIdx
			break
		}
	}
	if titleIdx < 0 {
		if strings.TrimSpace(md) == "" {
			return block
		}
		return block + "\n\n" + md
	}
	out := make([]string, 0, len(lines)+2)
	out = append(out, lines[:titleIdx+1]...)
	out = append(out, "", block)
	rest := lines[titleIdx+1:]
	// Keep a single blank line between the block and what follows.
	for len(rest) > 0 && strings.TrimSpace(rest[0]) == "" {
		rest = rest[1:]
	}
	if len(rest) > 0 {
		out = append(out, "")
		out = append(out, rest...)
	}
	return strings.Join(out, "\n")
}

func appendBlock(md string, block string) string {
	trimmed := strings.TrimRight(md, "\n")
	if strings.TrimSpace(trimmed) == "" {
		return block
	}
	return trimmed + "\n\n" + block
}
