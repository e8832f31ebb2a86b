// Package markdown holds the pure document operations of the pipeline:
// ordered assembly, idempotent structural fixes, and heading-targeted
// section replacement. Nothing here touches storage.
package markdown

import (
	"strings"

	"github.com/writeflow/writeflow-backend/internal/types"
)

// Assemble joins sections in index order into one document. Each section
// becomes an H2 block unless its heading already carries markdown hashes.
// Blocks are separated by a single blank line; no other transformation.
func Assemble(sections []*types.ArticleSection) string {
	blocks := make([]string, 0, len(sections))
	for _, s := range sections {
		if s == nil {
			continue
		}
		heading := strings.TrimSpace(s.Heading)
		if heading != "" && !strings.HasPrefix(heading, "#") {
			heading = "## " + heading
		}
		body := strings.TrimSpace(s.Body)
		switch {
		case heading == "":
			blocks = append(blocks, body)
		case body == "":
			blocks = append(blocks, heading)
		default:
			blocks = append(blocks, heading+"\n\n"+body)
		}
	}
	return strings.Join(blocks, "\n\n")
}

type headingLine struct {
	lineIdx int
	level   int
	text    string
}

func parseHeading(line string) (level int, text string, ok bool) {
	trimmed := strings.TrimRight(line, " \t")
	i := 0
	for i < len(trimmed) && trimmed[i] == '#' {
		i++
	}
	if i == 0 || i > 6 {
		return 0, "", false
	}
	if i >= len(trimmed) || (trimmed[i] != ' ' && trimmed[i] != '\t') {
		return 0, "", false
	}
	return i, strings.TrimSpace(trimmed[i:]), true
}

func scanHeadings(lines []string) []headingLine {
	var out []headingLine
	inFence := false
	for i, line := range lines {
		stripped := strings.TrimSpace(line)
		if strings.HasPrefix(stripped, "```") || strings.HasPrefix(stripped, "~~~") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		if level, text, ok := parseHeading(line); ok {
			out = append(out, headingLine{lineIdx: i, level: level, text: text})
		}
	}
	return out
}

// normalizeHeading lowercases and drops spacing so that matching tolerates
// case, half/full-width spaces and trailing decorations.
func normalizeHeading(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	replacer := strings.NewReplacer(
		" ", "",
		"\t", "",
		"　", "",
		"*", "",
		"_", "",
		"「", "",
		"」", "",
	)
	return replacer.Replace(s)
}

func headingMatches(headingText, query string) bool {
	h := normalizeHeading(headingText)
	q := normalizeHeading(query)
	if h == "" || q == "" {
		return false
	}
	return h == q || strings.Contains(h, q) || strings.Contains(q, h)
}

// ExtractSection returns the span of the first level 2–4 heading matching
// headingQuery, including the heading line, using the same matching and span
// rules as ReplaceSection.
func ExtractSection(md string, headingQuery string) (string, bool) {
	lines := strings.Split(md, "\n")
	headings := scanHeadings(lines)

	for i := range headings {
		h := headings[i]
		if h.level < 2 || h.level > 4 {
			continue
		}
		if !headingMatches(h.text, headingQuery) {
			continue
		}
		end := len(lines)
		for _, next := range headings {
			if next.lineIdx > h.lineIdx && next.level <= h.level {
				end = next.lineIdx
				break
			}
		}
		return strings.TrimRight(strings.Join(lines[h.lineIdx:end], "\n"), "\n"), true
	}
	return "", false
}

// ReplaceSection locates the first level 2–4 heading matching headingQuery
// (equals, contains, or is contained by, case-insensitive) and replaces the
// whole span from that heading to the next heading of equal-or-lower level
// (or end of document) with newBody. found=false leaves md untouched.
func ReplaceSection(md string, headingQuery string, newBody string) (string, bool) {
	lines := strings.Split(md, "\n")
	headings := scanHeadings(lines)

	var target *headingLine
	for i := range headings {
		h := headings[i]
		if h.level < 2 || h.level > 4 {
			continue
		}
		if headingMatches(h.text, headingQuery) {
			target = &headings[i]
			break
		}
	}
	if target == nil {
		return md, false
	}

	end := len(lines)
	for _, h := range headings {
		if h.lineIdx > target.lineIdx && h.level <= target.level {
			end = h.lineIdx
			break
		}
	}

	replacement := strings.Split(strings.TrimRight(newBody, "\n"), "\n")
	out := make([]string, 0, len(lines)-(end-target.lineIdx)+len(replacement))
	out = append(out, lines[:target.lineIdx]...)
	out = append(out, replacement...)
	out = append(out, lines[end:]...)
	return strings.Join(out, "\n"), true
}
