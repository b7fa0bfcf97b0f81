package account

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wanderlustcms/api/internal/database"
	apperrors "github.com/wanderlustcms/api/internal/errors"
)

var (
	ErrUserNotFound = apperrors.NotFoundError("User not found", nil)
)

// Repository persists users. It also serves as the session store: the
// refresh-token/expiry pair lives on the user row, so saving a new token
// overwrites the previous one by construction.
type Repository struct {
	DB *database.Database
}

func NewRepository(db *database.Database) *Repository {
	return &Repository{DB: db}
}

const userColumns = `id, username, email, display_name, bio, avatar_url, password_hash,
	role, is_active, is_email_verified, refresh_token, refresh_token_expiry, created_at, last_login_at`

// scanUser is the single typed mapping from a user row to the model.
// Unknown role strings fall back to member rather than failing the read.
func scanUser(row pgx.Row) (*User, error) {
	var (
		user         User
		role         string
		refreshToken *string
		refreshExp   *time.Time
	)

	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.DisplayName,
		&user.Bio,
		&user.AvatarURL,
		&user.PasswordHash,
		&role,
		&user.IsActive,
		&user.IsEmailVerified,
		&refreshToken,
		&refreshExp,
		&user.CreatedAt,
		&user.LastLoginAt,
	)
	if err != nil {
		return nil, err
	}

	user.Role = ParseRole(role)
	if refreshToken != nil {
		user.RefreshToken = *refreshToken
	}
	if refreshExp != nil {
		user.RefreshTokenExpiry = *refreshExp
	}

	return &user, nil
}

func (r *Repository) Create(ctx context.Context, user *User) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO users (id, username, email, display_name, bio, avatar_url, password_hash,
			role, is_active, is_email_verified, created_at, last_login_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		user.ID, user.Username, user.Email, user.DisplayName, user.Bio, user.AvatarURL,
		user.PasswordHash, user.Role.String(), user.IsActive, user.IsEmailVerified,
		user.CreatedAt, user.LastLoginAt,
	)
	if err != nil {
		// A concurrent register can slip past the uniqueness pre-check;
		// the constraint is authoritative.
		if database.IsUniqueViolation(err) {
			return apperrors.DuplicateEntityError("Email or username is already taken", err)
		}
		return apperrors.DatabaseError("Failed to create user", err)
	}
	return nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	row := r.DB.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return r.one(row)
}

func (r *Repository) GetByEmail(ctx context.Context, email string) (*User, error) {
	row := r.DB.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return r.one(row)
}

// GetByRefreshToken resolves an opaque refresh token to its owner.
// Unknown values come back as ErrUserNotFound; expiry is checked by the
// caller against the stored timestamp.
func (r *Repository) GetByRefreshToken(ctx context.Context, token string) (*User, error) {
	row := r.DB.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE refresh_token = $1`, token)
	return r.one(row)
}

func (r *Repository) one(row pgx.Row) (*User, error) {
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, database.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, apperrors.DatabaseError("Failed to read user", err)
	}
	return user, nil
}

func (r *Repository) UpdateProfile(ctx context.Context, id uuid.UUID, displayName, bio, avatarURL string) error {
	tag, err := r.DB.Exec(ctx, `
		UPDATE users SET display_name = $2, bio = $3, avatar_url = $4 WHERE id = $1`,
		id, displayName, bio, avatarURL,
	)
	if err != nil {
		return apperrors.DatabaseError("Failed to update profile", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// UpdatePassword swaps in a freshly derived credential and revokes the
// stored refresh token in the same statement.
func (r *Repository) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	tag, err := r.DB.Exec(ctx, `
		UPDATE users SET password_hash = $2, refresh_token = NULL, refresh_token_expiry = NULL
		WHERE id = $1`,
		id, passwordHash,
	)
	if err != nil {
		return apperrors.DatabaseError("Failed to update password", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *Repository) UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.DB.Exec(ctx, `UPDATE users SET last_login_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return apperrors.DatabaseError("Failed to update last login", err)
	}
	return nil
}

// SaveRefreshToken implements auth.SessionStore. The overwrite keeps the
// one-active-token-per-account invariant.
func (r *Repository) SaveRefreshToken(ctx context.Context, accountID uuid.UUID, token string, expiresAt time.Time) error {
	tag, err := r.DB.Exec(ctx, `
		UPDATE users SET refresh_token = $2, refresh_token_expiry = $3 WHERE id = $1`,
		accountID, token, expiresAt,
	)
	if err != nil {
		return apperrors.DatabaseError("Failed to save refresh token", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// ClearRefreshToken implements auth.SessionStore.
func (r *Repository) ClearRefreshToken(ctx context.Context, accountID uuid.UUID) error {
	_, err := r.DB.Exec(ctx, `
		UPDATE users SET refresh_token = NULL, refresh_token_expiry = NULL WHERE id = $1`,
		accountID,
	)
	if err != nil {
		return apperrors.DatabaseError("Failed to clear refresh token", err)
	}
	return nil
}

// ExistsByEmailOrUsername is used by registration to give a precise
// duplicate message without racing two separate lookups.
func (r *Repository) ExistsByEmailOrUsername(ctx context.Context, email, username string) (emailTaken, usernameTaken bool, err error) {
	row := r.DB.QueryRow(ctx, `
		SELECT
			EXISTS (SELECT 1 FROM users WHERE email = $1),
			EXISTS (SELECT 1 FROM users WHERE username = $2)`,
		email, username,
	)
	if err := row.Scan(&emailTaken, &usernameTaken); err != nil {
		return false, false, apperrors.DatabaseError("Failed to check uniqueness", err)
	}
	return emailTaken, usernameTaken, nil
}
