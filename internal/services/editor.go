package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/writeflow/writeflow-backend/internal/apierr"
	"github.com/writeflow/writeflow-backend/internal/dberr"
	"github.com/writeflow/writeflow-backend/internal/logger"
	"github.com/writeflow/writeflow-backend/internal/markdown"
	"github.com/writeflow/writeflow-backend/internal/repos"
	"github.com/writeflow/writeflow-backend/internal/types"
)

// EditorService applies structural fixes and targeted rewrites to a finished
// document. The markdown operations themselves live in internal/markdown;
// this service adds ownership, persistence and the rewrite model call.
type EditorService interface {
	ApplyStructuralFix(ctx context.Context, articleID uuid.UUID, kind markdown.FixKind) (changed bool, finalMarkdown string, err error)
	// VibeEdit rewrites one heading-delimited subtree per the instruction.
	VibeEdit(ctx context.Context, articleID uuid.UUID, sectionHeading string, instruction string) (revised string, err error)
}

type editorService struct {
	db  *gorm.DB
	log *logger.Logger

	articleRepo repos.ArticleRepo
	ai          AIClient
}

func NewEditorService(db *gorm.DB, baseLog *logger.Logger, articleRepo repos.ArticleRepo, ai AIClient) EditorService {
	return &editorService{
		db:          db,
		log:         baseLog.With("service", "EditorService"),
		articleRepo: articleRepo,
		ai:          ai,
	}
}

func (s *editorService) loadDocument(ctx context.Context, articleID uuid.UUID) (*types.Article, string, error) {
	article, err := loadOwnedArticle(ctx, s.articleRepo, nil, articleID)
	if err != nil {
		return nil, "", err
	}
	if article.FinalMarkdown == nil || strings.TrimSpace(*article.FinalMarkdown) == "" {
		return nil, "", apierr.Validation("article_not_generated", fmt.Errorf("article %s has no document yet", articleID))
	}
	return article, *article.FinalMarkdown, nil
}

func (s *editorService) saveDocument(ctx context.Context, articleID uuid.UUID, md string) error {
	err := s.articleRepo.UpdateFields(ctx, nil, articleID, map[string]interface{}{
		"final_markdown": md,
	})
	if err != nil && dberr.Classify(err) == dberr.KindRetryable {
		return apierr.StorageBusy(err)
	}
	return err
}

func (s *editorService) ApplyStructuralFix(ctx context.Context, articleID uuid.UUID, kind markdown.FixKind) (bool, string, error) {
	_, doc, err := s.loadDocument(ctx, articleID)
	if err != nil {
		return false, "", err
	}

	out, changed := markdown.ApplyStructuralFix(doc, kind)
	if !changed {
		return false, doc, nil
	}
	if err := s.saveDocument(ctx, articleID, out); err != nil {
		return false, "", err
	}
	s.log.Info("Structural fix applied", "article_id", articleID, "fix", kind)
	return true, out, nil
}

func (s *editorService) VibeEdit(ctx context.Context, articleID uuid.UUID, sectionHeading string, instruction string) (string, error) {
	sectionHeading = strings.TrimSpace(sectionHeading)
	instruction = strings.TrimSpace(instruction)
	if sectionHeading == "" {
		return "", apierr.Validation("missing_section_heading", fmt.Errorf("sectionHeading is required"))
	}
	if instruction == "" {
		return "", apierr.Validation("missing_instruction", fmt.Errorf("instruction is required"))
	}

	article, doc, err := s.loadDocument(ctx, articleID)
	if err != nil {
		return "", err
	}

	current, found := markdown.ExtractSection(doc, sectionHeading)
	if !found {
		return "", apierr.NotFound("section_not_found", fmt.Errorf("no heading matches %q", sectionHeading))
	}

	system := "You rewrite exactly one section of an article. " +
		"Keep the section heading line with its markdown level, follow the instruction, " +
		"and reply with the rewritten section only, no surrounding text."
	user := fmt.Sprintf("Article title: %s\n\nInstruction: %s\n\nCurrent section:\n%s",
		article.Title, instruction, current)

	revised, err := s.ai.GenerateText(ctx, system, user)
	if err != nil {
		return "", apierr.GenerationFailed(err)
	}
	revised = strings.TrimSpace(revised)
	if revised == "" {
		return "", apierr.GenerationFailed(fmt.Errorf("empty rewrite: %w", ErrGenerationFailed))
	}

	out, replaced := markdown.ReplaceSection(doc, sectionHeading, revised)
	if !replaced {
		// The heading matched a moment ago; treat a miss here as the same
		// user-facing error rather than writing anything.
		return "", apierr.NotFound("section_not_found", fmt.Errorf("no heading matches %q", sectionHeading))
	}
	if err := s.saveDocument(ctx, articleID, out); err != nil {
		return "", err
	}

	s.log.Info("Section rewritten", "article_id", articleID, "heading", sectionHeading)
	return revised, nil
}
