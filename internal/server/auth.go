package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/mohammad-safakhou/boardroom/internal/runtime"
	"github.com/mohammad-safakhou/boardroom/internal/store"
)

const minPasswordLength = 8

type userStore interface {
	CreateUser(ctx context.Context, email, hash, name string) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, id string) (store.User, error)
	UpdateProfile(ctx context.Context, userID string, upd store.ProfileUpdate) (store.User, error)
}

type AuthHandler struct {
	Store         userStore
	Secret        []byte
	TokenTTL      time.Duration
	SecureCookies bool
}

func (a *AuthHandler) Register(g *echo.Group, authMW echo.MiddlewareFunc) {
	g.POST("/signup", a.signup)
	g.POST("/login", a.login)
	g.POST("/logout", a.logout)
	g.GET("/me", a.me, authMW)
	g.PATCH("/profile", a.updateProfile, authMW)
}

// Signup
//
//	@Summary		User signup
//	@Tags			auth
//	@Accept			json
//	@Produce		json
//	@Param			payload	body		AuthSignupRequest	true	"Signup payload"
//	@Success		201		{object}	AuthResponse
//	@Failure		400		{object}	HTTPError
//	@Failure		409		{object}	HTTPError
//	@Router			/api/auth/signup [post]
func (a *AuthHandler) signup(c echo.Context) error {
	var req AuthSignupRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if !strings.Contains(req.Email, "@") {
		return echo.NewHTTPError(http.StatusBadRequest, "valid email required")
	}
	if len(req.Password) < minPasswordLength {
		return echo.NewHTTPError(http.StatusBadRequest, "password too short")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	user, err := a.Store.CreateUser(c.Request().Context(), req.Email, string(hash), cleanText(req.Name))
	if err != nil {
		if store.IsUniqueViolation(err) {
			return echo.NewHTTPError(http.StatusConflict, "email already exists")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return a.issue(c, http.StatusCreated, user)
}

// Login
//
//	@Summary		Login
//	@Description	Returns JWT in cookie and body; supports Bearer flows
//	@Tags			auth
//	@Accept			json
//	@Produce		json
//	@Param			payload	body		AuthLoginRequest	true	"Login payload"
//	@Success		200		{object}	AuthResponse
//	@Failure		401		{object}	HTTPError
//	@Router			/api/auth/login [post]
func (a *AuthHandler) login(c echo.Context) error {
	var req AuthLoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	user, err := a.Store.GetUserByEmail(c.Request().Context(), req.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	}
	return a.issue(c, http.StatusOK, user)
}

func (a *AuthHandler) issue(c echo.Context, status int, user store.User) error {
	ttl := a.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	signed, err := runtime.SignJWT(user.ID, a.Secret, ttl)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	c.SetCookie(&http.Cookie{
		Name:     runtime.AuthCookie,
		Value:    signed,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   a.SecureCookies,
		MaxAge:   int(ttl.Seconds()),
	})
	// also return token for Bearer flows
	c.Response().Header().Set("Authorization", "Bearer "+signed)
	return c.JSON(status, AuthResponse{Token: signed, User: user})
}

// Logout
//
//	@Summary	Logout
//	@Tags		auth
//	@Success	200	{string}	string	"OK"
//	@Router		/api/auth/logout [post]
func (a *AuthHandler) logout(c echo.Context) error {
	c.SetCookie(&http.Cookie{
		Name:   runtime.AuthCookie,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
	return c.JSON(http.StatusOK, map[string]string{"message": "logged out"})
}

func (a *AuthHandler) me(c echo.Context) error {
	user, err := a.Store.GetUserByID(c.Request().Context(), userID(c))
	if err != nil {
		return storeError(err)
	}
	return c.JSON(http.StatusOK, user)
}

// Profile update
//
//	@Summary	Update the founder profile
//	@Tags		auth
//	@Accept		json
//	@Produce	json
//	@Param		payload	body		store.ProfileUpdate	true	"Profile fields"
//	@Success	200		{object}	store.User
//	@Router		/api/auth/profile [patch]
func (a *AuthHandler) updateProfile(c echo.Context) error {
	var req store.ProfileUpdate
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	user, err := a.Store.UpdateProfile(c.Request().Context(), userID(c), cleanProfile(req))
	if err != nil {
		return storeError(err)
	}
	return c.JSON(http.StatusOK, user)
}

func userID(c echo.Context) string {
	id, _ := c.Get("user_id").(string)
	return id
}

func storeError(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
