package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wanderlustcms/api/internal/account"
	"github.com/wanderlustcms/api/internal/auth"
	"github.com/wanderlustcms/api/internal/clock"
	apperrors "github.com/wanderlustcms/api/internal/errors"
	"github.com/wanderlustcms/api/internal/web/middleware"
	"github.com/wanderlustcms/api/internal/web/response"
)

// AccountStore is the slice of the account repository the auth
// endpoints need. *account.Repository satisfies it.
type AccountStore interface {
	Create(ctx context.Context, user *account.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*account.User, error)
	GetByEmail(ctx context.Context, email string) (*account.User, error)
	GetByRefreshToken(ctx context.Context, token string) (*account.User, error)
	UpdateProfile(ctx context.Context, id uuid.UUID, displayName, bio, avatarURL string) error
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
	ExistsByEmailOrUsername(ctx context.Context, email, username string) (emailTaken, usernameTaken bool, err error)
}

type AuthHandler struct {
	Accounts AccountStore
	Hasher   auth.PasswordHasher
	Sessions *auth.SessionManager
	Writer   *response.Writer
	Clock    clock.Clock
	Logger   *slog.Logger
}

func NewAuthHandler(accounts AccountStore, hasher auth.PasswordHasher, sessions *auth.SessionManager, writer *response.Writer, clk clock.Clock, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		Accounts: accounts,
		Hasher:   hasher,
		Sessions: sessions,
		Writer:   writer,
		Clock:    clk,
		Logger:   logger,
	}
}

func (h *AuthHandler) RegisterRoutes(mux *http.ServeMux, requireAuth middleware.Middleware) {
	mux.HandleFunc("POST /api/auth/register", h.handleRegister)
	mux.HandleFunc("POST /api/auth/login", h.handleLogin)
	mux.HandleFunc("POST /api/auth/refresh-token", h.handleRefreshToken)
	mux.Handle("POST /api/auth/logout", requireAuth(http.HandlerFunc(h.handleLogout)))
	mux.Handle("POST /api/auth/change-password", requireAuth(http.HandlerFunc(h.handleChangePassword)))
	mux.Handle("GET /api/auth/me", requireAuth(http.HandlerFunc(h.handleMe)))
	mux.Handle("PUT /api/auth/profile", requireAuth(http.HandlerFunc(h.handleUpdateProfile)))
}

// userResponse is the public view of an account. The password hash and
// refresh token never leave the repository layer.
type userResponse struct {
	ID              uuid.UUID `json:"id"`
	Username        string    `json:"username"`
	Email           string    `json:"email"`
	DisplayName     string    `json:"displayName"`
	Bio             string    `json:"bio"`
	AvatarURL       string    `json:"avatarUrl"`
	Role            string    `json:"role"`
	IsEmailVerified bool      `json:"isEmailVerified"`
	CreatedAt       time.Time `json:"createdAt"`
	LastLoginAt     time.Time `json:"lastLoginAt"`
}

func toUserResponse(u *account.User) userResponse {
	return userResponse{
		ID:              u.ID,
		Username:        u.Username,
		Email:           u.Email,
		DisplayName:     u.DisplayName,
		Bio:             u.Bio,
		AvatarURL:       u.AvatarURL,
		Role:            u.Role.String(),
		IsEmailVerified: u.IsEmailVerified,
		CreatedAt:       u.CreatedAt,
		LastLoginAt:     u.LastLoginAt,
	}
}

func subjectOf(u *account.User) auth.Subject {
	return auth.Subject{
		ID:            u.ID,
		Username:      u.Username,
		Email:         u.Email,
		DisplayName:   u.DisplayName,
		Role:          u.Role.String(),
		EmailVerified: u.IsEmailVerified,
	}
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return apperrors.ValidationError("Invalid request body", err)
	}
	return nil
}

type registerRequest struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

func (req *registerRequest) validate() map[string]string {
	details := make(map[string]string)
	if l := len(strings.TrimSpace(req.Username)); l < 3 || l > 50 {
		details["username"] = "must be between 3 and 50 characters"
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		details["email"] = "must be a valid email address"
	}
	if len(req.Password) < 8 {
		details["password"] = "must be at least 8 characters"
	}
	if len(req.DisplayName) > 100 {
		details["displayName"] = "must be at most 100 characters"
	}
	if len(details) == 0 {
		return nil
	}
	return details
}

func (h *AuthHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		h.Writer.Error(w, r, err)
		return
	}
	if details := req.validate(); details != nil {
		h.Writer.ValidationError(w, r, "Registration request is invalid", details)
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	username := strings.TrimSpace(req.Username)

	emailTaken, usernameTaken, err := h.Accounts.ExistsByEmailOrUsername(r.Context(), email, username)
	if err != nil {
		h.Writer.Error(w, r, err)
		return
	}
	if emailTaken {
		h.Writer.Error(w, r, apperrors.DuplicateEntityError("Email is already registered", nil))
		return
	}
	if usernameTaken {
		h.Writer.Error(w, r, apperrors.DuplicateEntityError("Username is already taken", nil))
		return
	}

	hash, err := h.Hasher.Hash(req.Password)
	if err != nil {
		h.Writer.Error(w, r, err)
		return
	}

	displayName := strings.TrimSpace(req.DisplayName)
	if displayName == "" {
		displayName = username
	}

	now := h.Clock.Now()
	user := &account.User{
		ID:           uuid.New(),
		Username:     username,
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: hash,
		Role:         account.RoleMember,
		IsActive:     true,
		CreatedAt:    now,
		LastLoginAt:  now,
	}
	if err := h.Accounts.Create(r.Context(), user); err != nil {
		h.Writer.Error(w, r, err)
		return
	}

	session, err := h.Sessions.CreateOrRotateSession(r.Context(), subjectOf(user))
	if err != nil {
		h.Writer.Error(w, r, err)
		return
	}

	h.Logger.Info("Account registered",
		slog.String("user_id", user.ID.String()),
		slog.String("username", user.Username))

	h.Writer.Success(w, r, http.StatusCreated, "Registration successful", map[string]any{
		"user":    toUserResponse(user),
		"session": session,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// invalidCredentials is deliberately identical for unknown email and
// wrong password, so login cannot be used to enumerate accounts.
func invalidCredentials(cause error) *apperrors.AppError {
	appErr := apperrors.AuthenticationError("Invalid email or password", cause)
	appErr.Code = apperrors.CodeInvalidCredentials
	return appErr
}

func (h *AuthHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		h.Writer.Error(w, r, err)
		return
	}

	user, err := h.Accounts.GetByEmail(r.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		if errors.Is(err, account.ErrUserNotFound) {
			h.Writer.Error(w, r, invalidCredentials(nil))
			return
		}
		h.Writer.Error(w, r, err)
		return
	}

	if !h.Hasher.Verify(req.Password, user.PasswordHash) {
		h.Writer.Error(w, r, invalidCredentials(nil))
		return
	}

	if !user.IsActive {
		appErr := apperrors.ForbiddenError("Account has been deactivated", nil)
		appErr.Code = apperrors.CodeAccountDisabled
		h.Writer.Error(w, r, appErr)
		return
	}

	if err := h.Accounts.UpdateLastLogin(r.Context(), user.ID, h.Clock.Now()); err != nil {
		h.Writer.Error(w, r, err)
		return
	}

	session, err := h.Sessions.CreateOrRotateSession(r.Context(), subjectOf(user))
	if err != nil {
		h.Writer.Error(w, r, err)
		return
	}

	h.Logger.Info("Login successful", slog.String("user_id", user.ID.String()))

	h.Writer.Success(w, r, http.StatusOK, "Login successful", map[string]any{
		"user":    toUserResponse(user),
		"session": session,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (h *AuthHandler) handleRefreshToken(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		h.Writer.Error(w, r, err)
		return
	}
	if req.RefreshToken == "" {
		h.Writer.Error(w, r, apperrors.UnauthorizedError("Invalid refresh token", nil))
		return
	}

	user, err := h.Accounts.GetByRefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, account.ErrUserNotFound) {
			h.Writer.Error(w, r, apperrors.UnauthorizedError("Invalid refresh token", nil))
			return
		}
		h.Writer.Error(w, r, err)
		return
	}

	if !h.Sessions.RefreshTokenValid(user.RefreshTokenExpiry) {
		h.Writer.Error(w, r, apperrors.UnauthorizedError("Refresh token has expired", nil))
		return
	}
	if !user.IsActive {
		appErr := apperrors.ForbiddenError("Account has been deactivated", nil)
		appErr.Code = apperrors.CodeAccountDisabled
		h.Writer.Error(w, r, appErr)
		return
	}

	session, err := h.Sessions.CreateOrRotateSession(r.Context(), subjectOf(user))
	if err != nil {
		h.Writer.Error(w, r, err)
		return
	}

	h.Writer.Success(w, r, http.StatusOK, "Token refreshed", map[string]any{
		"session": session,
	})
}

func (h *AuthHandler) handleLogout(w http.ResponseWriter, r *http.Request) {
	subject, _ := middleware.SubjectFromContext(r.Context())

	if err := h.Sessions.InvalidateSession(r.Context(), subject.ID); err != nil {
		h.Writer.Error(w, r, err)
		return
	}

	h.Logger.Info("Logout", slog.String("user_id", subject.ID.String()))
	h.Writer.Success(w, r, http.StatusOK, "Logged out", nil)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (h *AuthHandler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	subject, _ := middleware.SubjectFromContext(r.Context())

	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		h.Writer.Error(w, r, err)
		return
	}
	if len(req.NewPassword) < 8 {
		h.Writer.ValidationError(w, r, "Password change request is invalid", map[string]string{
			"newPassword": "must be at least 8 characters",
		})
		return
	}

	user, err := h.Accounts.GetByID(r.Context(), subject.ID)
	if err != nil {
		h.Writer.Error(w, r, err)
		return
	}

	if !h.Hasher.Verify(req.CurrentPassword, user.PasswordHash) {
		h.Writer.Error(w, r, apperrors.AuthenticationError("Current password is incorrect", nil))
		return
	}

	hash, err := h.Hasher.Hash(req.NewPassword)
	if err != nil {
		h.Writer.Error(w, r, err)
		return
	}

	// UpdatePassword also revokes the stored refresh token, forcing a
	// fresh login everywhere else.
	if err := h.Accounts.UpdatePassword(r.Context(), user.ID, hash); err != nil {
		h.Writer.Error(w, r, err)
		return
	}

	h.Logger.Info("Password changed", slog.String("user_id", user.ID.String()))
	h.Writer.Success(w, r, http.StatusOK, "Password changed", nil)
}

func (h *AuthHandler) handleMe(w http.ResponseWriter, r *http.Request) {
	subject, _ := middleware.SubjectFromContext(r.Context())

	user, err := h.Accounts.GetByID(r.Context(), subject.ID)
	if err != nil {
		h.Writer.Error(w, r, err)
		return
	}

	h.Writer.Success(w, r, http.StatusOK, "", toUserResponse(user))
}

type updateProfileRequest struct {
	DisplayName string `json:"displayName"`
	Bio         string `json:"bio"`
	AvatarURL   string `json:"avatarUrl"`
}

func (h *AuthHandler) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	subject, _ := middleware.SubjectFromContext(r.Context())

	var req updateProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		h.Writer.Error(w, r, err)
		return
	}

	details := make(map[string]string)
	if l := len(strings.TrimSpace(req.DisplayName)); l == 0 || l > 100 {
		details["displayName"] = "must be between 1 and 100 characters"
	}
	if len(req.Bio) > 500 {
		details["bio"] = "must be at most 500 characters"
	}
	if len(details) > 0 {
		h.Writer.ValidationError(w, r, "Profile update request is invalid", details)
		return
	}

	if err := h.Accounts.UpdateProfile(r.Context(), subject.ID, strings.TrimSpace(req.DisplayName), req.Bio, req.AvatarURL); err != nil {
		h.Writer.Error(w, r, err)
		return
	}

	user, err := h.Accounts.GetByID(r.Context(), subject.ID)
	if err != nil {
		h.Writer.Error(w, r, err)
		return
	}

	h.Writer.Success(w, r, http.StatusOK, "Profile updated", toUserResponse(user))
}
