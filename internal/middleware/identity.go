package middleware

import "github.com/labstack/echo/v4"

// UserID returns the authenticated caller, or "anon" outside JWTAuth.
func UserID(c echo.Context) string {
	if s, ok := c.Get(KeyUserID).(string); ok && s != "" {
		return s
	}
	return "anon"
}

// Role returns the caller's role, empty outside JWTAuth.
func Role(c echo.Context) string {
	s, _ := c.Get(KeyRole).(string)
	return s
}

// BearerToken returns the access token to forward to the Booking API.
func BearerToken(c echo.Context) string {
	s, _ := c.Get(KeyToken).(string)
	return s
}
