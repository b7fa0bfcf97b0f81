package article

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wanderlustcms/api/internal/database"
	apperrors "github.com/wanderlustcms/api/internal/errors"
)

var ErrArticleNotFound = apperrors.NotFoundError("Article not found", nil)

type Repository struct {
	DB *database.Database
}

func NewRepository(db *database.Database) *Repository {
	return &Repository{DB: db}
}

const articleColumns = `id, slug, title, summary, content, author_id, tags, published, created_at, updated_at`

func scanArticle(row pgx.Row) (*Article, error) {
	var a Article
	err := row.Scan(
		&a.ID,
		&a.Slug,
		&a.Title,
		&a.Summary,
		&a.Content,
		&a.AuthorID,
		&a.Tags,
		&a.Published,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// List returns published articles, newest first. Unpublished drafts are
// only visible through GetBySlug to their owner, which the handler
// enforces.
func (r *Repository) List(ctx context.Context, limit, offset int) ([]*Article, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT `+articleColumns+` FROM articles
		WHERE published = TRUE
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, apperrors.DatabaseError("Failed to list articles", err)
	}
	defer rows.Close()

	articles := make([]*Article, 0)
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, apperrors.DatabaseError("Failed to read article", err)
		}
		articles = append(articles, a)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.DatabaseError("Failed to list articles", err)
	}
	return articles, nil
}

func (r *Repository) GetBySlug(ctx context.Context, slug string) (*Article, error) {
	row := r.DB.QueryRow(ctx, `SELECT `+articleColumns+` FROM articles WHERE slug = $1`, slug)
	a, err := scanArticle(row)
	if err != nil {
		if errors.Is(err, database.ErrNoRows) {
			return nil, ErrArticleNotFound
		}
		return nil, apperrors.DatabaseError("Failed to read article", err)
	}
	return a, nil
}

func (r *Repository) Create(ctx context.Context, a *Article) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO articles (id, slug, title, summary, content, author_id, tags, published, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.Slug, a.Title, a.Summary, a.Content, a.AuthorID, a.Tags, a.Published,
		a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return apperrors.DuplicateEntityError("An article with this title already exists", err)
		}
		return apperrors.DatabaseError("Failed to create article", err)
	}
	return nil
}

func (r *Repository) Update(ctx context.Context, a *Article, updatedAt time.Time) error {
	tag, err := r.DB.Exec(ctx, `
		UPDATE articles
		SET title = $2, summary = $3, content = $4, tags = $5, published = $6, updated_at = $7
		WHERE id = $1`,
		a.ID, a.Title, a.Summary, a.Content, a.Tags, a.Published, updatedAt,
	)
	if err != nil {
		return apperrors.DatabaseError("Failed to update article", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrArticleNotFound
	}
	return nil
}

func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.DB.Exec(ctx, `DELETE FROM articles WHERE id = $1`, id)
	if err != nil {
		return apperrors.DatabaseError("Failed to delete article", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrArticleNotFound
	}
	return nil
}
