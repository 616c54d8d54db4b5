package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/bus-seat-reservation/internal/bookingapi"
	"github.com/iliyamo/bus-seat-reservation/internal/middleware"
	"github.com/iliyamo/bus-seat-reservation/internal/service"
	"github.com/iliyamo/bus-seat-reservation/internal/utils"
)

// AuthHandler relays account calls to the Booking API, which issues the
// tokens.  The browser keeps the token pair; this server never stores it.
type AuthHandler struct {
	API service.AuthAPI
	Log logrus.FieldLogger
}

func NewAuthHandler(api service.AuthAPI, log logrus.FieldLogger) *AuthHandler {
	if api == nil {
		panic("nil api passed to NewAuthHandler")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &AuthHandler{API: api, Log: log}
}

type registerReq struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshReq struct {
	RefreshToken string `json:"refreshToken"`
}

// Register handles POST /v1/auth/register.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid_body", "invalid request body")
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Name == "" || req.Email == "" || req.Password == "" {
		return fail(c, http.StatusBadRequest, "invalid_body", "name, email and password are required")
	}
	if err := h.API.Register(c.Request().Context(), req.Name, req.Email, req.Password); err != nil {
		return upstream(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"status": "registered"})
}

// Login handles POST /v1/auth/login and returns the API's token pair.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid_body", "invalid request body")
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || req.Password == "" {
		return fail(c, http.StatusBadRequest, "invalid_body", "email and password are required")
	}
	res, err := h.API.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		var apiErr *bookingapi.APIError
		if errors.As(err, &apiErr) && (apiErr.Status == http.StatusBadRequest || apiErr.Status == http.StatusUnauthorized) {
			return fail(c, http.StatusUnauthorized, "invalid_credentials", messageOr(apiErr.Message, "invalid email or password"))
		}
		return upstream(c, err)
	}
	h.Log.WithField("user_id", res.User.ID).Info("login relayed")
	return c.JSON(http.StatusOK, res)
}

// Refresh handles POST /v1/auth/refresh.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshReq
	if err := c.Bind(&req); err != nil || req.RefreshToken == "" {
		return fail(c, http.StatusBadRequest, "invalid_body", "refreshToken is required")
	}
	tok, err := h.API.Refresh(c.Request().Context(), req.RefreshToken)
	if err != nil {
		return upstream(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"token": tok})
}

// Me handles GET /v1/me: the identity carried by the access token.
func (h *AuthHandler) Me(c echo.Context) error {
	out := echo.Map{"id": middleware.UserID(c), "role": middleware.Role(c)}
	if id, err := utils.PeekToken(middleware.BearerToken(c)); err == nil && !id.ExpiresAt.IsZero() {
		out["expires_at"] = id.ExpiresAt
	}
	return c.JSON(http.StatusOK, out)
}
