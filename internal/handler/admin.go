package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/bus-seat-reservation/internal/bookingapi"
	"github.com/iliyamo/bus-seat-reservation/internal/middleware"
	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// AdminAPI is the management surface of the Booking API.
type AdminAPI interface {
	AdminReservations(ctx context.Context, f bookingapi.AdminFilter) (bookingapi.ReservationPage, error)
	CancelReservation(ctx context.Context, id string) error
	ValidateReservation(ctx context.Context, id string) error
	DeleteReservation(ctx context.Context, id string) error
}

// AdminHandler forwards the reservation management calls with the
// caller's own token; the Booking API enforces the admin role again.
type AdminHandler struct {
	API func(token string) AdminAPI
	Log logrus.FieldLogger
}

func NewAdminHandler(api func(token string) AdminAPI, log logrus.FieldLogger) *AdminHandler {
	if api == nil {
		panic("nil api passed to NewAdminHandler")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &AdminHandler{API: api, Log: log}
}

// List handles GET /v1/admin/reservations.  Query: statut, email,
// compagnie, villeDepart, villeArrivee, dateDepart, page, limit, all.
func (h *AdminHandler) List(c echo.Context) error {
	f := bookingapi.AdminFilter{
		Email:        c.QueryParam("email"),
		Company:      c.QueryParam("compagnie"),
		VilleDepart:  c.QueryParam("villeDepart"),
		VilleArrivee: c.QueryParam("villeArrivee"),
		DateDepart:   c.QueryParam("dateDepart"),
	}
	if s := c.QueryParam("statut"); s != "" {
		st, ok := model.ParseStatus(s)
		if !ok {
			return fail(c, http.StatusBadRequest, "invalid_status", "statut must be confirmée, validée or annulée")
		}
		f.Status = st
	}
	for name, dst := range map[string]*int{"page": &f.Page, "limit": &f.Limit} {
		if v := c.QueryParam(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				return fail(c, http.StatusBadRequest, "invalid_"+name, name+" must be a positive integer")
			}
			*dst = n
		}
	}
	f.All, _ = strconv.ParseBool(c.QueryParam("all"))

	page, err := h.API(middleware.BearerToken(c)).AdminReservations(c.Request().Context(), f)
	if err != nil {
		return upstream(c, err)
	}
	return c.JSON(http.StatusOK, page)
}

// Cancel handles PUT /v1/admin/reservations/:id/cancel.
func (h *AdminHandler) Cancel(c echo.Context) error {
	return h.act(c, "cancel", func(api AdminAPI, ctx context.Context, id string) error {
		return api.CancelReservation(ctx, id)
	})
}

// Validate handles PUT /v1/admin/reservations/:id/validate.
func (h *AdminHandler) Validate(c echo.Context) error {
	return h.act(c, "validate", func(api AdminAPI, ctx context.Context, id string) error {
		return api.ValidateReservation(ctx, id)
	})
}

// Delete handles DELETE /v1/admin/reservations/:id.
func (h *AdminHandler) Delete(c echo.Context) error {
	return h.act(c, "delete", func(api AdminAPI, ctx context.Context, id string) error {
		return api.DeleteReservation(ctx, id)
	})
}

func (h *AdminHandler) act(c echo.Context, action string, fn func(AdminAPI, context.Context, string) error) error {
	id := c.Param("id")
	if id == "" {
		return fail(c, http.StatusBadRequest, "invalid_id", "reservation id is required")
	}
	if err := fn(h.API(middleware.BearerToken(c)), c.Request().Context(), id); err != nil {
		return upstream(c, err)
	}
	h.Log.WithFields(logrus.Fields{"action": action, "reservation_id": id, "user_id": middleware.UserID(c)}).Info("reservation updated by admin")
	if action == "delete" {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "ok", "action": action, "id": id})
}
