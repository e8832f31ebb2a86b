package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/writeflow/writeflow-backend/internal/logger"
	"github.com/writeflow/writeflow-backend/internal/types"
)

// SectionSpec is one outline slot: a heading and how long its body should be.
type SectionSpec struct {
	Heading     string `json:"heading"`
	TargetChars int    `json:"target_chars"`
}

// OutlineMeta is the JSON shape persisted into ArticleJob.Meta by the init
// step. The stored outline, not the section table, is what the sections step
// iterates.
type OutlineMeta struct {
	Sections []SectionSpec `json:"sections"`
}

const (
	minOutlineSections = 3
	maxOutlineSections = 10
	// Prior-section context passed into each generation call, capped so the
	// prompt does not grow with the article.
	priorContextChars = 2000
)

// SectionGenerator turns an outline slot into one section's heading and body.
// Pure with respect to the document store; the orchestrator persists.
type SectionGenerator interface {
	GenerateOutline(ctx context.Context, article *types.Article) ([]SectionSpec, error)
	GenerateSection(ctx context.Context, article *types.Article, spec SectionSpec, priorContext string) (heading string, body string, err error)
}

type sectionGenerator struct {
	log *logger.Logger
	ai  AIClient
}

func NewSectionGenerator(baseLog *logger.Logger, ai AIClient) SectionGenerator {
	return &sectionGenerator{
		log: baseLog.With("service", "SectionGenerator"),
		ai:  ai,
	}
}

// outlineSectionCount scales the outline with the requested length, about one
// section per 700 characters, clamped to a sane range.
func outlineSectionCount(targetChars int) int {
	if targetChars <= 0 {
		targetChars = 3000
	}
	n := targetChars / 700
	if n < minOutlineSections {
		n = minOutlineSections
	}
	if n > maxOutlineSections {
		n = maxOutlineSections
	}
	return n
}

func (g *sectionGenerator) GenerateOutline(ctx context.Context, article *types.Article) ([]SectionSpec, error) {
	n := outlineSectionCount(article.TargetChars)

	system := "You are an editor planning a long-form article. " +
		"Design an outline whose sections flow logically from introduction to conclusion. " +
		"Write headings in the same language as the brief."

	var sb strings.Builder
	fmt.Fprintf(&sb, "Brief:\n%s\n\n", strings.TrimSpace(article.RequestText))
	if article.Title != "" {
		fmt.Fprintf(&sb, "Working title: %s\n", article.Title)
	}
	if article.Tone != "" {
		fmt.Fprintf(&sb, "Tone: %s\n", article.Tone)
	}
	fmt.Fprintf(&sb, "Total target length: %d characters.\n", article.TargetChars)
	fmt.Fprintf(&sb, "Produce exactly %d sections as JSON: "+
		`{"sections":[{"heading":"...","target_chars":123}]}`+"\n", n)

	var meta OutlineMeta
	if err := g.ai.GenerateJSON(ctx, system, sb.String(), &meta); err != nil {
		return nil, fmt.Errorf("generate outline: %w", err)
	}

	specs := make([]SectionSpec, 0, len(meta.Sections))
	for _, s := range meta.Sections {
		s.Heading = strings.TrimSpace(s.Heading)
		if s.Heading == "" {
			continue
		}
		if s.TargetChars <= 0 {
			s.TargetChars = article.TargetChars / n
		}
		specs = append(specs, s)
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("outline has no usable sections: %w", ErrGenerationFailed)
	}
	return specs, nil
}

type sectionOutput struct {
	Heading string `json:"heading"`
	Body    string `json:"body"`
}

func (g *sectionGenerator) GenerateSection(ctx context.Context, article *types.Article, spec SectionSpec, priorContext string) (string, string, error) {
	system := "You write one section of a long-form article at a time. " +
		"Write naturally in the language of the brief, in Markdown, without repeating earlier sections. " +
		"Use supplied reference material only as background; never copy more than short quoted spans verbatim."

	var sb strings.Builder
	fmt.Fprintf(&sb, "Brief:\n%s\n\n", strings.TrimSpace(article.RequestText))
	if article.Tone != "" {
		fmt.Fprintf(&sb, "Tone: %s\n", article.Tone)
	}
	if article.Memo != "" {
		fmt.Fprintf(&sb, "Notes from the author: %s\n", article.Memo)
	}
	if priorContext != "" {
		fmt.Fprintf(&sb, "\nWhat the article says so far (tail):\n%s\n", truncateRunes(priorContext, priorContextChars))
	}
	fmt.Fprintf(&sb, "\nNow write the section %q, about %d characters of body text.\n", spec.Heading, spec.TargetChars)
	sb.WriteString(`Reply as JSON: {"heading":"...","body":"..."} where body is Markdown without the section heading.`)

	var out sectionOutput
	if err := g.ai.GenerateJSON(ctx, system, sb.String(), &out); err != nil {
		return "", "", fmt.Errorf("generate section %q: %w", spec.Heading, err)
	}

	heading := strings.TrimSpace(out.Heading)
	if heading == "" {
		heading = spec.Heading
	}
	body := strings.TrimSpace(out.Body)
	if body == "" {
		return "", "", fmt.Errorf("section %q has empty body: %w", spec.Heading, ErrGenerationFailed)
	}
	return heading, body, nil
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[len(runes)-limit:])
}
