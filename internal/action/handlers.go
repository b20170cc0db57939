package action

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pressq/pressq/internal/devto"
	"github.com/pressq/pressq/internal/types"
)

// ─── Payloads ────────────────────────────────────────────────────────────────

// CreateArticlePayload is the payload for create_article.
// Title must be non-empty; content is the article body in markdown.
type CreateArticlePayload struct {
	Title     string `json:"title" validate:"required,min=1"`
	Content   string `json:"content" validate:"required"`
	Tags      string `json:"tags"`
	Published bool   `json:"published"`
}

// UpdateArticlePayload is the payload for update_article. Only the provided
// optional fields are sent to the remote, so a partial update never clobbers
// unspecified fields.
type UpdateArticlePayload struct {
	ArticleID string  `json:"article_id" validate:"required"`
	Title     *string `json:"title"`
	Content   *string `json:"content"`
	Tags      *string `json:"tags"`
	Published *bool   `json:"published"`
}

// ArticleRefPayload identifies an existing article for delete/get.
type ArticleRefPayload struct {
	ArticleID string `json:"article_id" validate:"required"`
}

// ─── Handlers ────────────────────────────────────────────────────────────────

type createArticleHandler struct{}

func (createArticleHandler) Action() types.Action { return types.ActionCreateArticle }
func (createArticleHandler) NewPayload() any      { return &CreateArticlePayload{} }

func (createArticleHandler) Invoke(ctx context.Context, client *devto.Client, payload any) (json.RawMessage, error) {
	p, ok := payload.(*CreateArticlePayload)
	if !ok {
		return nil, fmt.Errorf("create_article: unexpected payload type %T", payload)
	}
	fields := devto.ArticleFields{
		Title:        &p.Title,
		BodyMarkdown: &p.Content,
		Published:    &p.Published,
	}
	if p.Tags != "" {
		fields.Tags = &p.Tags
	}
	return client.CreateArticle(ctx, fields)
}

type updateArticleHandler struct{}

func (updateArticleHandler) Action() types.Action { return types.ActionUpdateArticle }
func (updateArticleHandler) NewPayload() any      { return &UpdateArticlePayload{} }

func (updateArticleHandler) Invoke(ctx context.Context, client *devto.Client, payload any) (json.RawMessage, error) {
	p, ok := payload.(*UpdateArticlePayload)
	if !ok {
		return nil, fmt.Errorf("update_article: unexpected payload type %T", payload)
	}
	fields := devto.ArticleFields{
		Title:        p.Title,
		BodyMarkdown: p.Content,
		Tags:         p.Tags,
		Published:    p.Published,
	}
	return client.UpdateArticle(ctx, p.ArticleID, fields)
}

type deleteArticleHandler struct{}

func (deleteArticleHandler) Action() types.Action { return types.ActionDeleteArticle }
func (deleteArticleHandler) NewPayload() any      { return &ArticleRefPayload{} }

func (deleteArticleHandler) Invoke(ctx context.Context, client *devto.Client, payload any) (json.RawMessage, error) {
	p, ok := payload.(*ArticleRefPayload)
	if !ok {
		return nil, fmt.Errorf("delete_article: unexpected payload type %T", payload)
	}
	return client.DeleteArticle(ctx, p.ArticleID)
}

type getArticleHandler struct{}

func (getArticleHandler) Action() types.Action { return types.ActionGetArticle }
func (getArticleHandler) NewPayload() any      { return &ArticleRefPayload{} }

func (getArticleHandler) Invoke(ctx context.Context, client *devto.Client, payload any) (json.RawMessage, error) {
	p, ok := payload.(*ArticleRefPayload)
	if !ok {
		return nil, fmt.Errorf("get_article: unexpected payload type %T", payload)
	}
	return client.GetArticle(ctx, p.ArticleID)
}
