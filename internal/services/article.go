package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/writeflow/writeflow-backend/internal/apierr"
	"github.com/writeflow/writeflow-backend/internal/dberr"
	"github.com/writeflow/writeflow-backend/internal/logger"
	"github.com/writeflow/writeflow-backend/internal/repos"
	"github.com/writeflow/writeflow-backend/internal/requestdata"
	"github.com/writeflow/writeflow-backend/internal/types"
)

type CreateArticleInput struct {
	Title          string   `json:"title"`
	RequestText    string   `json:"requestText"`
	Tone           string   `json:"tone"`
	Memo           string   `json:"memo"`
	TargetChars    int      `json:"targetChars"`
	Mode           string   `json:"mode"`
	CompetitorURLs []string `json:"competitorUrls"`
}

type ArticleService interface {
	Create(ctx context.Context, input CreateArticleInput) (*types.Article, error)
	Get(ctx context.Context, articleID uuid.UUID) (*types.Article, []*types.ArticleSection, error)
}

type articleService struct {
	db  *gorm.DB
	log *logger.Logger

	articleRepo repos.ArticleRepo
	sectionRepo repos.SectionRepo
}

func NewArticleService(db *gorm.DB, baseLog *logger.Logger, articleRepo repos.ArticleRepo, sectionRepo repos.SectionRepo) ArticleService {
	return &articleService{
		db:          db,
		log:         baseLog.With("service", "ArticleService"),
		articleRepo: articleRepo,
		sectionRepo: sectionRepo,
	}
}

const (
	defaultTargetChars = 3000
	maxTargetChars     = 20000
	maxCompetitorURLs  = 5
)

func (s *articleService) Create(ctx context.Context, input CreateArticleInput) (*types.Article, error) {
	rd := requestdata.GetRequestData(ctx)
	if rd == nil {
		return nil, apierr.NotFound("article_not_found", fmt.Errorf("no caller identity"))
	}

	input.Title = strings.TrimSpace(input.Title)
	input.RequestText = strings.TrimSpace(input.RequestText)
	if input.RequestText == "" {
		return nil, apierr.Validation("missing_request_text", fmt.Errorf("requestText is required"))
	}
	if input.Title == "" {
		input.Title = firstLine(input.RequestText)
	}
	if input.TargetChars <= 0 {
		input.TargetChars = defaultTargetChars
	}
	if input.TargetChars > maxTargetChars {
		input.TargetChars = maxTargetChars
	}
	switch input.Mode {
	case "":
		input.Mode = types.ArticleModeStandard
	case types.ArticleModeStandard, types.ArticleModeComparisonResearch:
	default:
		return nil, apierr.Validation("invalid_mode", fmt.Errorf("unknown mode %q", input.Mode))
	}

	urls := make([]string, 0, len(input.CompetitorURLs))
	for _, raw := range input.CompetitorURLs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		parsed, err := url.Parse(raw)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			return nil, apierr.Validation("invalid_competitor_url", fmt.Errorf("bad url %q", raw))
		}
		urls = append(urls, raw)
		if len(urls) == maxCompetitorURLs {
			break
		}
	}
	urlsJSON, _ := json.Marshal(urls)

	now := time.Now()
	article := &types.Article{
		ID:             uuid.New(),
		Title:          input.Title,
		RequestText:    input.RequestText,
		Tone:           strings.TrimSpace(input.Tone),
		Memo:           strings.TrimSpace(input.Memo),
		TargetChars:    input.TargetChars,
		Mode:           input.Mode,
		Status:         types.ArticleStatusQueued,
		CompetitorURLs: datatypes.JSON(urlsJSON),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if rd.Authenticated() {
		userID := rd.UserID
		article.UserID = &userID
	} else {
		guestID := rd.GuestID
		article.GuestID = &guestID
	}

	if _, err := s.articleRepo.Create(ctx, nil, []*types.Article{article}); err != nil {
		if dberr.Classify(err) == dberr.KindRetryable {
			return nil, apierr.StorageBusy(err)
		}
		return nil, fmt.Errorf("create article: %w", err)
	}
	s.log.Info("Article created", "article_id", article.ID, "mode", article.Mode, "target_chars", article.TargetChars)
	return article, nil
}

func (s *articleService) Get(ctx context.Context, articleID uuid.UUID) (*types.Article, []*types.ArticleSection, error) {
	article, err := loadOwnedArticle(ctx, s.articleRepo, nil, articleID)
	if err != nil {
		return nil, nil, err
	}
	sections, err := s.sectionRepo.GetByArticleID(ctx, nil, article.ID)
	if err != nil {
		if dberr.Classify(err) == dberr.KindRetryable {
			return nil, nil, apierr.StorageBusy(err)
		}
		return nil, nil, err
	}
	return article, sections, nil
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			if runes := []rune(line); len(runes) > 80 {
				return string(runes[:80])
			}
			return line
		}
	}
	return "無題の記事"
}
