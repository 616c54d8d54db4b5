package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/bus-seat-reservation/internal/bookingapi"
)

func fail(c echo.Context, status int, code, msg string) error {
	return c.JSON(status, echo.Map{"error": code, "message": msg})
}

// upstream translates a Booking API error that no handler-specific case
// covered.  Messages sent by the API are passed through.
func upstream(c echo.Context, err error) error {
	var apiErr *bookingapi.APIError
	switch {
	case bookingapi.IsUnauthorized(err):
		return fail(c, http.StatusUnauthorized, "session_expired", "your session has expired, please log in again")
	case bookingapi.IsUnreachable(err):
		return fail(c, http.StatusBadGateway, "api_unreachable", "the booking service cannot be reached")
	case errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound:
		return fail(c, http.StatusNotFound, "not_found", messageOr(apiErr.Message, "not found"))
	case errors.As(err, &apiErr) && apiErr.Status == http.StatusForbidden:
		return fail(c, http.StatusForbidden, "forbidden", messageOr(apiErr.Message, "forbidden"))
	case errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500:
		return fail(c, http.StatusUnprocessableEntity, "rejected", messageOr(apiErr.Message, "request rejected"))
	default:
		return fail(c, http.StatusBadGateway, "upstream_error", "the booking service failed")
	}
}

func messageOr(msg, fallback string) string {
	if msg != "" {
		return msg
	}
	return fallback
}
