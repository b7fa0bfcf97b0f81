package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wanderlustcms/api/internal/account"
	"github.com/wanderlustcms/api/internal/article"
	"github.com/wanderlustcms/api/internal/clock"
	apperrors "github.com/wanderlustcms/api/internal/errors"
	"github.com/wanderlustcms/api/internal/web/middleware"
	"github.com/wanderlustcms/api/internal/web/response"
)

// ArticleStore is the slice of the article repository the content
// endpoints need. *article.Repository satisfies it.
type ArticleStore interface {
	List(ctx context.Context, limit, offset int) ([]*article.Article, error)
	GetBySlug(ctx context.Context, slug string) (*article.Article, error)
	Create(ctx context.Context, a *article.Article) error
	Update(ctx context.Context, a *article.Article, updatedAt time.Time) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type ArticleHandler struct {
	Articles ArticleStore
	Writer   *response.Writer
	Clock    clock.Clock
	Logger   *slog.Logger
}

func NewArticleHandler(articles ArticleStore, writer *response.Writer, clk clock.Clock, logger *slog.Logger) *ArticleHandler {
	return &ArticleHandler{
		Articles: articles,
		Writer:   writer,
		Clock:    clk,
		Logger:   logger,
	}
}

func (h *ArticleHandler) RegisterRoutes(mux *http.ServeMux, requireAuth, requireAdmin middleware.Middleware) {
	mux.HandleFunc("GET /api/articles", h.handleList)
	mux.HandleFunc("GET /api/articles/{slug}", h.handleGet)
	mux.Handle("POST /api/articles", requireAuth(http.HandlerFunc(h.handleCreate)))
	mux.Handle("PUT /api/articles/{slug}", requireAuth(http.HandlerFunc(h.handleUpdate)))
	mux.Handle("DELETE /api/articles/{slug}", requireAdmin(http.HandlerFunc(h.handleDelete)))
}

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// slugify derives a URL slug from a title. Collisions surface as a
// duplicate-entity error from the unique index, not as silent renames.
func slugify(title string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		case !lastDash:
			b.WriteByte('-')
			lastDash = true
		}
	}
	return strings.Trim(b.String(), "-")
}

func (h *ArticleHandler) handleList(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 100 {
			h.Writer.ValidationError(w, r, "Invalid pagination", map[string]string{
				"limit": "must be an integer between 1 and 100",
			})
			return
		}
		limit = parsed
	}

	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			h.Writer.ValidationError(w, r, "Invalid pagination", map[string]string{
				"offset": "must be a non-negative integer",
			})
			return
		}
		offset = parsed
	}

	articles, err := h.Articles.List(r.Context(), limit, offset)
	if err != nil {
		h.Writer.Error(w, r, err)
		return
	}

	h.Writer.Success(w, r, http.StatusOK, "", map[string]any{
		"articles": articles,
		"limit":    limit,
		"offset":   offset,
	})
}

func (h *ArticleHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	found, err := h.Articles.GetBySlug(r.Context(), r.PathValue("slug"))
	if err != nil {
		h.Writer.Error(w, r, err)
		return
	}

	// Drafts are visible to their author and moderators only.
	if !found.Published {
		subject, ok := middleware.SubjectFromContext(r.Context())
		authorized := ok && (subject.ID == found.AuthorID ||
			subject.Role == account.RoleModerator.String() ||
			subject.Role == account.RoleAdmin.String())
		if !authorized {
			h.Writer.Error(w, r, article.ErrArticleNotFound)
			return
		}
	}

	h.Writer.Success(w, r, http.StatusOK, "", found)
}

type articleRequest struct {
	Title     string   `json:"title"`
	Summary   string   `json:"summary"`
	Content   string   `json:"content"`
	Tags      []string `json:"tags"`
	Published bool     `json:"published"`
}

func (req *articleRequest) validate() map[string]string {
	details := make(map[string]string)
	if l := len(strings.TrimSpace(req.Title)); l < 3 || l > 200 {
		details["title"] = "must be between 3 and 200 characters"
	}
	if strings.TrimSpace(req.Content) == "" {
		details["content"] = "must not be empty"
	}
	if len(req.Tags) > 10 {
		details["tags"] = "must be at most 10 tags"
	}
	if len(details) == 0 {
		return nil
	}
	return details
}

func (h *ArticleHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	subject, _ := middleware.SubjectFromContext(r.Context())

	var req articleRequest
	if err := decodeJSON(r, &req); err != nil {
		h.Writer.Error(w, r, err)
		return
	}
	if details := req.validate(); details != nil {
		h.Writer.ValidationError(w, r, "Article is invalid", details)
		return
	}

	slug := slugify(req.Title)
	if !slugPattern.MatchString(slug) {
		h.Writer.ValidationError(w, r, "Article is invalid", map[string]string{
			"title": "must contain at least one letter or digit",
		})
		return
	}

	if _, err := h.Articles.GetBySlug(r.Context(), slug); err == nil {
		h.Writer.Error(w, r, apperrors.DuplicateEntityError("An article with this title already exists", nil))
		return
	} else if !errors.Is(err, article.ErrArticleNotFound) {
		h.Writer.Error(w, r, err)
		return
	}

	now := h.Clock.Now()
	tags := req.Tags
	if tags == nil {
		tags = []string{}
	}
	created := &article.Article{
		ID:        uuid.New(),
		Slug:      slug,
		Title:     strings.TrimSpace(req.Title),
		Summary:   req.Summary,
		Content:   req.Content,
		AuthorID:  subject.ID,
		Tags:      tags,
		Published: req.Published,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.Articles.Create(r.Context(), created); err != nil {
		h.Writer.Error(w, r, err)
		return
	}

	h.Logger.Info("Article created",
		slog.String("article_id", created.ID.String()),
		slog.String("slug", created.Slug),
		slog.String("author_id", subject.ID.String()))

	h.Writer.Success(w, r, http.StatusCreated, "Article created", created)
}

func (h *ArticleHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	subject, _ := middleware.SubjectFromContext(r.Context())

	found, err := h.Articles.GetBySlug(r.Context(), r.PathValue("slug"))
	if err != nil {
		h.Writer.Error(w, r, err)
		return
	}

	canEdit := subject.ID == found.AuthorID ||
		subject.Role == account.RoleModerator.String() ||
		subject.Role == account.RoleAdmin.String()
	if !canEdit {
		h.Writer.Error(w, r, apperrors.ForbiddenError("You cannot edit this article", nil))
		return
	}

	var req articleRequest
	if err := decodeJSON(r, &req); err != nil {
		h.Writer.Error(w, r, err)
		return
	}
	if details := req.validate(); details != nil {
		h.Writer.ValidationError(w, r, "Article is invalid", details)
		return
	}

	found.Title = strings.TrimSpace(req.Title)
	found.Summary = req.Summary
	found.Content = req.Content
	if req.Tags != nil {
		found.Tags = req.Tags
	}
	found.Published = req.Published
	found.UpdatedAt = h.Clock.Now()

	if err := h.Articles.Update(r.Context(), found, found.UpdatedAt); err != nil {
		h.Writer.Error(w, r, err)
		return
	}

	h.Writer.Success(w, r, http.StatusOK, "Article updated", found)
}

func (h *ArticleHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	found, err := h.Articles.GetBySlug(r.Context(), r.PathValue("slug"))
	if err != nil {
		h.Writer.Error(w, r, err)
		return
	}

	if err := h.Articles.Delete(r.Context(), found.ID); err != nil {
		h.Writer.Error(w, r, err)
		return
	}

	h.Logger.Info("Article deleted", slog.String("slug", found.Slug))
	h.Writer.Success(w, r, http.StatusOK, "Article deleted", nil)
}
