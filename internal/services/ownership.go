package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/writeflow/writeflow-backend/internal/apierr"
	"github.com/writeflow/writeflow-backend/internal/dberr"
	"github.com/writeflow/writeflow-backend/internal/repos"
	"github.com/writeflow/writeflow-backend/internal/requestdata"
	"github.com/writeflow/writeflow-backend/internal/types"
)

// loadOwnedArticle resolves an article the caller owns. A missing article and
// an ownership mismatch are deliberately the same 404; existence never leaks.
func loadOwnedArticle(ctx context.Context, articleRepo repos.ArticleRepo, tx *gorm.DB, articleID uuid.UUID) (*types.Article, error) {
	rd := requestdata.GetRequestData(ctx)
	if rd == nil {
		return nil, apierr.NotFound("article_not_found", fmt.Errorf("no caller identity"))
	}
	if articleID == uuid.Nil {
		return nil, apierr.Validation("invalid_article_id", fmt.Errorf("missing article id"))
	}
	article, err := articleRepo.GetByID(ctx, tx, articleID)
	if err != nil {
		if dberr.Classify(err) == dberr.KindRetryable {
			return nil, apierr.StorageBusy(err)
		}
		return nil, err
	}
	if article == nil || !article.OwnedBy(rd.UserID, rd.GuestID) {
		return nil, apierr.NotFound("article_not_found", fmt.Errorf("article %s not found", articleID))
	}
	return article, nil
}
