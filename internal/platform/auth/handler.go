package auth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

var ErrInvalidCredentials = errors.New("invalid email or password")

// CredentialStore verifies a login and returns the matching principal.
type CredentialStore interface {
	Authenticate(ctx context.Context, email, password string) (*Principal, error)
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      Principal `json:"user"`
}

// Handler serves the login/logout endpoints.
type Handler struct {
	creds   CredentialStore
	issuer  *TokenIssuer
	revoked RevocationStore
	logger  zerolog.Logger
}

func NewHandler(creds CredentialStore, issuer *TokenIssuer, revoked RevocationStore, logger zerolog.Logger) *Handler {
	return &Handler{creds: creds, issuer: issuer, revoked: revoked, logger: logger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/auth")
	g.POST("/login", h.Login)
	g.POST("/logout", h.Logout)
	g.GET("/me", h.Me)
}

func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	p, err := h.creds.Authenticate(c.Request().Context(), req.Email, req.Password)
	if errors.Is(err, ErrInvalidCredentials) {
		h.logger.Warn().Str("email", req.Email).Str("remote_ip", c.RealIP()).Msg("login rejected")
		return echo.NewHTTPError(http.StatusUnauthorized, ErrInvalidCredentials.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "login failed")
	}

	token, exp, err := h.issuer.Issue(*p)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, loginResponse{Token: token, ExpiresAt: exp, User: *p})
}

// Logout revokes the presented token until it would have expired.
func (h *Handler) Logout(c echo.Context) error {
	claims := ClaimsFromContext(c.Request().Context())
	if claims == nil || claims.ID == "" || claims.ExpiresAt == nil {
		return c.NoContent(http.StatusNoContent)
	}
	if h.revoked != nil {
		if err := h.revoked.Revoke(c.Request().Context(), claims.ID, claims.ExpiresAt.Time); err != nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "could not revoke token")
		}
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Me(c echo.Context) error {
	claims := ClaimsFromContext(c.Request().Context())
	if claims == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	p := Principal{UserID: claims.Subject, Name: claims.Name, Email: claims.Email}
	if len(claims.Roles) > 0 {
		p.Role = claims.Roles[0]
	}
	return c.JSON(http.StatusOK, p)
}
