package httpapi

import (
	"errors"
	"net/http"
	"time"

	"model_registry/internal/auth"
	mw "model_registry/internal/middleware"
	"model_registry/internal/utils"

	"go.uber.org/zap"
)

type signupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string     `json:"access_token"`
	TokenType   string     `json:"token_type"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// Signup creates an account and returns a token for it.
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "Invalid request body")
		return
	}

	token, err := h.auth.Signup(r.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidSignup):
		badRequest(w, "Email and password are required")
		return
	case errors.Is(err, auth.ErrUserExists):
		utils.RespondWithErrorKind(w, http.StatusConflict, "conflict", "Email exists")
		return
	case err != nil:
		h.log.Error("signup failed", zap.Error(err))
		utils.RespondWithErrorKind(w, http.StatusInternalServerError, "internal", "Signup failed")
		return
	}

	utils.RespondWithJSON(w, http.StatusCreated, tokenResponse{AccessToken: token, TokenType: "bearer"})
}

// Login checks credentials, returns a token and sets it as the session
// cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "Invalid request body")
		return
	}

	token, expiresAt, err := h.auth.Login(r.Context(), req.Username, req.Password)
	if errors.Is(err, auth.ErrBadCredentials) {
		utils.RespondWithErrorKind(w, http.StatusUnauthorized, "unauthorized", "Incorrect username or password")
		return
	}
	if err != nil {
		h.log.Error("login failed", zap.Error(err))
		utils.RespondWithErrorKind(w, http.StatusInternalServerError, "internal", "Login failed")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     mw.CookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		MaxAge:   int(h.auth.Tokens().TTL().Seconds()),
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	utils.RespondWithJSON(w, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer", ExpiresAt: &expiresAt})
}

// Logout clears the session cookie.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     mw.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	utils.RespondWithJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

// Me returns the caller's user ID.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.UserIDFromContext(r.Context())
	utils.RespondWithJSON(w, http.StatusOK, map[string]string{"user_id": id.String()})
}
