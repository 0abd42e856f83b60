package handler

import (
	"net/http"
	"time"

	"github.com/cornerstone/cornerstone-backend/internal/auth/service"
	"github.com/cornerstone/cornerstone-backend/pkg/httputil"
	"github.com/cornerstone/cornerstone-backend/pkg/logger"
	"github.com/cornerstone/cornerstone-backend/pkg/permissions"
	"github.com/go-chi/chi/v5"
)

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	service      *service.AuthService
	cookieName   string
	secureCookie bool
	logger       *logger.Logger
}

// NewAuthHandler creates a new auth handler. When cookieName is set, sign-in
// also stores the token in an HTTP-only session cookie.
func NewAuthHandler(svc *service.AuthService, cookieName string, secureCookie bool, log *logger.Logger) *AuthHandler {
	return &AuthHandler{
		service:      svc,
		cookieName:   cookieName,
		secureCookie: secureCookie,
		logger:       log,
	}
}

// Routes mounts the auth API. authenticate guards the routes that need a
// signed-in user.
func (h *AuthHandler) Routes(authenticate func(http.Handler) http.Handler) func(chi.Router) {
	return func(r chi.Router) {
		r.Post("/signup", h.Signup)
		r.Post("/verify", h.Verify)
		r.Post("/login", h.Login)
		r.Post("/logout", h.Logout)

		r.Group(func(r chi.Router) {
			r.Use(authenticate)
			r.With(httputil.RequirePermission(permissions.ProfileRead)).Get("/me", h.Me)
			r.With(httputil.RequirePermission(permissions.ProfileWrite)).Put("/password", h.ChangePassword)
			r.With(httputil.RequirePermission(permissions.ProfileWrite)).Delete("/account", h.DeleteAccount)
			r.With(httputil.RequirePermission(permissions.UsersRead)).Get("/users", h.ListUsers)
		})
	}
}

type signupRequest struct {
	Username        string `json:"username" validate:"required,min=3,max=100"`
	Email           string `json:"email" validate:"required,email,max=255"`
	FullName        string `json:"full_name" validate:"required,max=255"`
	Password        string `json:"password" validate:"required"`
	ConfirmPassword string `json:"confirm_password" validate:"required"`
	Role            string `json:"role" validate:"omitempty,oneof=admin end_user"`
}

// Signup starts a sign-up and issues a verification code
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	result, err := h.service.Signup(r.Context(), service.SignupInput{
		Username:        req.Username,
		Email:           req.Email,
		FullName:        req.FullName,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
		Role:            req.Role,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusAccepted, result)
}

// Verify completes a sign-up and signs the new user in
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email" validate:"required,email"`
		Code  string `json:"code" validate:"required"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	session, err := h.service.Verify(r.Context(), req.Email, req.Code)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	h.setSessionCookie(w, session)
	httputil.Created(w, session)
}

// Login signs a user in by username or e-mail
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Login    string `json:"login" validate:"required"`
		Password string `json:"password" validate:"required"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	session, err := h.service.Login(r.Context(), req.Login, req.Password)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	h.setSessionCookie(w, session)
	httputil.JSON(w, http.StatusOK, session)
}

// Logout clears the session cookie. Tokens are stateless and simply expire.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if h.cookieName != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     h.cookieName,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			Expires:  time.Unix(0, 0),
			HttpOnly: true,
			Secure:   h.secureCookie,
			SameSite: http.SameSiteLaxMode,
		})
	}
	httputil.NoContent(w)
}

// Me returns the signed-in account
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.Me(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, user)
}

// ChangePassword changes the signed-in user's password
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CurrentPassword string `json:"current_password" validate:"required"`
		NewPassword     string `json:"new_password" validate:"required"`
		ConfirmPassword string `json:"confirm_password" validate:"required"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	if err := h.service.ChangePassword(r.Context(), req.CurrentPassword, req.NewPassword, req.ConfirmPassword); err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.NoContent(w)
}

// DeleteAccount deletes the signed-in user's account
func (h *AuthHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password     string `json:"password"`
		Confirmation string `json:"confirmation"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	if err := h.service.DeleteAccount(r.Context(), req.Password, req.Confirmation); err != nil {
		httputil.Error(w, err)
		return
	}

	h.Logout(w, r)
}

// ListUsers lists every account (admin)
func (h *AuthHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSONWithMeta(w, http.StatusOK, users, &httputil.Meta{Total: int64(len(users))})
}

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, session *service.Session) {
	if h.cookieName == "" {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName,
		Value:    session.AccessToken,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}
