package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/bus-seat-reservation/internal/bookingapi"
	"github.com/iliyamo/bus-seat-reservation/internal/branding"
	"github.com/iliyamo/bus-seat-reservation/internal/middleware"
	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// serve runs fn with an authenticated context and path params given as
// name, value pairs.
func serve(t *testing.T, fn echo.HandlerFunc, method, target, body string, params ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req, rec)
	c.Set(middleware.KeyUserID, "admin-1")
	c.Set(middleware.KeyRole, "admin")
	c.Set(middleware.KeyToken, "tok-admin")
	var names, values []string
	for i := 0; i+1 < len(params); i += 2 {
		names = append(names, params[i])
		values = append(values, params[i+1])
	}
	c.SetParamNames(names...)
	c.SetParamValues(values...)
	require.NoError(t, fn(c))
	return rec
}

type fakeCatalog struct {
	trips    []model.Trip
	tripsErr error
	pingErr  error
	settings model.Settings
	setErr   error
	query    [2]string
}

func (f *fakeCatalog) Trips(_ context.Context, depart, arrivee string) ([]model.Trip, error) {
	f.query = [2]string{depart, arrivee}
	return f.trips, f.tripsErr
}

func (f *fakeCatalog) Ping(context.Context) error { return f.pingErr }

func (f *fakeCatalog) Settings(context.Context) (model.Settings, error) { return f.settings, f.setErr }

func newCatalog(t *testing.T, api *fakeCatalog) *CatalogHandler {
	t.Helper()
	log, _ := test.NewNullLogger()
	return NewCatalogHandler(api, branding.New(api, nil, log), log)
}

func TestCatalogTrips(t *testing.T) {
	api := &fakeCatalog{trips: []model.Trip{{
		ID: "t1", VilleDepart: "Dakar", VilleArrivee: "Thiès", Prix: 3000, NombrePlaces: 40,
		Segments: []model.Segment{{Depart: "Dakar", Arrivee: "Rufisque", Prix: 1500}},
	}}}
	h := newCatalog(t, api)

	rec := serve(t, h.Trips, http.MethodGet, "/v1/trips?depart=+Dakar&arrivee=Thi%C3%A8s", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, [2]string{"Dakar", "Thiès"}, api.query)
	out := decode(t, rec)
	assert.EqualValues(t, 2, out["count"])
	data := out["data"].([]any)
	assert.Equal(t, "principal", data[0].(map[string]any)["type"])
	seg := data[1].(map[string]any)
	assert.Equal(t, "segment", seg["type"])
	assert.Equal(t, "t1", seg["trajetId"])
	assert.EqualValues(t, 0, seg["segmentIndex"])

	api.tripsErr = bookingapi.ErrUnreachable
	rec = serve(t, h.Trips, http.MethodGet, "/v1/trips", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "api_unreachable", decode(t, rec)["error"])
}

func TestCatalogSettings(t *testing.T) {
	api := &fakeCatalog{settings: model.Settings{NomEntreprise: "Sen Bus", CouleurPrincipale: "#ffffff"}}
	h := newCatalog(t, api)

	rec := serve(t, h.Settings, http.MethodGet, "/v1/settings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, "Sen Bus", out["settings"].(map[string]any)["nomEntreprise"])
	theme := out["theme"].(map[string]any)
	assert.Equal(t, "#ffffff", theme["primary"])
	assert.Equal(t, "#d9d9d9", theme["primaryHover"])

	// Once loaded, an upstream failure keeps serving the last settings.
	api.setErr = &bookingapi.APIError{Status: http.StatusInternalServerError}
	_, _, err := h.Branding.Refresh(context.Background())
	require.Error(t, err)
	rec = serve(t, h.Settings, http.MethodGet, "/v1/settings", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCatalogSettingsUnavailable(t *testing.T) {
	h := newCatalog(t, &fakeCatalog{setErr: bookingapi.ErrUnreachable})
	rec := serve(t, h.Settings, http.MethodGet, "/v1/settings", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestCatalogPing(t *testing.T) {
	api := &fakeCatalog{}
	h := newCatalog(t, api)
	rec := serve(t, h.Ping, http.MethodGet, "/v1/ping", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])

	api.pingErr = bookingapi.ErrUnreachable
	rec = serve(t, h.Ping, http.MethodGet, "/v1/ping", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "down", decode(t, rec)["status"])
}

type fakeAdmin struct {
	mu     sync.Mutex
	tokens []string
	filter bookingapi.AdminFilter
	calls  []string
	err    error
}

func (f *fakeAdmin) forToken(token string) AdminAPI {
	f.mu.Lock()
	f.tokens = append(f.tokens, token)
	f.mu.Unlock()
	return f
}

func (f *fakeAdmin) AdminReservations(_ context.Context, filter bookingapi.AdminFilter) (bookingapi.ReservationPage, error) {
	f.filter = filter
	if f.err != nil {
		return bookingapi.ReservationPage{}, f.err
	}
	return bookingapi.ReservationPage{
		Data:        []model.Reservation{{ID: "r1", Seat: 4, Status: model.StatusConfirmed}},
		TotalPages:  3,
		CurrentPage: filter.Page,
	}, nil
}

func (f *fakeAdmin) record(call string) error {
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeAdmin) CancelReservation(_ context.Context, id string) error {
	return f.record("cancel " + id)
}

func (f *fakeAdmin) ValidateReservation(_ context.Context, id string) error {
	return f.record("validate " + id)
}

func (f *fakeAdmin) DeleteReservation(_ context.Context, id string) error {
	return f.record("delete " + id)
}

func TestAdminList(t *testing.T) {
	api := &fakeAdmin{}
	log, _ := test.NewNullLogger()
	h := NewAdminHandler(api.forToken, log)

	rec := serve(t, h.List, http.MethodGet, "/v1/admin/reservations?statut=cancelled&page=2&limit=20&email=a%40b.sn&all=true", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"tok-admin"}, api.tokens)
	assert.Equal(t, model.StatusCancelled, api.filter.Status)
	assert.Equal(t, 2, api.filter.Page)
	assert.Equal(t, 20, api.filter.Limit)
	assert.Equal(t, "a@b.sn", api.filter.Email)
	assert.True(t, api.filter.All)
	out := decode(t, rec)
	assert.EqualValues(t, 3, out["totalPages"])
	assert.Len(t, out["data"], 1)
}

func TestAdminListRejectsBadQuery(t *testing.T) {
	log, _ := test.NewNullLogger()
	h := NewAdminHandler((&fakeAdmin{}).forToken, log)

	cases := map[string]string{
		"statut=lost": "invalid_status",
		"page=0":      "invalid_page",
		"limit=x":     "invalid_limit",
	}
	for q, code := range cases {
		t.Run(q, func(t *testing.T) {
			rec := serve(t, h.List, http.MethodGet, "/v1/admin/reservations?"+q, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, code, decode(t, rec)["error"])
		})
	}
}

func TestAdminActions(t *testing.T) {
	api := &fakeAdmin{}
	log, hook := test.NewNullLogger()
	h := NewAdminHandler(api.forToken, log)

	rec := serve(t, h.Cancel, http.MethodPut, "/", "", "id", "r1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cancel", decode(t, rec)["action"])

	rec = serve(t, h.Validate, http.MethodPut, "/", "", "id", "r2")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(t, h.Delete, http.MethodDelete, "/", "", "id", "r3")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	assert.Equal(t, []string{"cancel r1", "validate r2", "delete r3"}, api.calls)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "r3", hook.LastEntry().Data["reservation_id"])

	api.err = &bookingapi.APIError{Status: http.StatusNotFound, Message: "Réservation introuvable"}
	rec = serve(t, h.Cancel, http.MethodPut, "/", "", "id", "gone")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Réservation introuvable", decode(t, rec)["message"])

	api.err = &bookingapi.APIError{Status: http.StatusForbidden}
	rec = serve(t, h.Delete, http.MethodDelete, "/", "", "id", "r1")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

type fakeAuthAPI struct {
	login      bookingapi.AuthResult
	loginErr   error
	refreshErr error
	registered []string
}

func (f *fakeAuthAPI) Login(context.Context, string, string) (bookingapi.AuthResult, error) {
	return f.login, f.loginErr
}

func (f *fakeAuthAPI) Register(_ context.Context, name, email, _ string) error {
	f.registered = append(f.registered, name+" <"+email+">")
	return nil
}

func (f *fakeAuthAPI) Refresh(_ context.Context, rt string) (string, error) {
	if f.refreshErr != nil {
		return "", f.refreshErr
	}
	return "fresh-" + rt, nil
}

func TestAuthRelay(t *testing.T) {
	api := &fakeAuthAPI{login: bookingapi.AuthResult{Token: "at", RefreshToken: "rt", User: model.User{ID: "u1", Name: "Awa"}}}
	log, _ := test.NewNullLogger()
	h := NewAuthHandler(api, log)

	rec := serve(t, h.Register, http.MethodPost, "/", `{"name":"Awa","email":" AWA@example.com ","password":"pw"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, []string{"Awa <awa@example.com>"}, api.registered)

	rec = serve(t, h.Register, http.MethodPost, "/", `{"name":"Awa"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, h.Login, http.MethodPost, "/", `{"email":"awa@example.com","password":"pw"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, "at", out["token"])
	assert.Equal(t, "rt", out["refreshToken"])

	rec = serve(t, h.Refresh, http.MethodPost, "/", `{"refreshToken":"rt"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "fresh-rt", decode(t, rec)["token"])

	rec = serve(t, h.Refresh, http.MethodPost, "/", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthLoginFailures(t *testing.T) {
	api := &fakeAuthAPI{loginErr: &bookingapi.APIError{Status: http.StatusBadRequest, Message: "Identifiants invalides"}}
	log, _ := test.NewNullLogger()
	h := NewAuthHandler(api, log)

	rec := serve(t, h.Login, http.MethodPost, "/", `{"email":"x@y.sn","password":"bad"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, "invalid_credentials", out["error"])
	assert.Equal(t, "Identifiants invalides", out["message"])

	api.loginErr = errors.Join(bookingapi.ErrUnreachable, errors.New("connection refused"))
	rec = serve(t, h.Login, http.MethodPost, "/", `{"email":"x@y.sn","password":"pw"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	api.refreshErr = &bookingapi.APIError{Status: http.StatusUnauthorized}
	rec = serve(t, h.Refresh, http.MethodPost, "/", `{"refreshToken":"old"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "session_expired", decode(t, rec)["error"])
}

func TestMe(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"id": "u1", "exp": exp.Unix()}).SignedString([]byte("s"))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req, rec)
	c.Set(middleware.KeyUserID, "u1")
	c.Set(middleware.KeyRole, "user")
	c.Set(middleware.KeyToken, tok)

	log, _ := test.NewNullLogger()
	require.NoError(t, NewAuthHandler(&fakeAuthAPI{}, log).Me(c))
	out := decode(t, rec)
	assert.Equal(t, "u1", out["id"])
	assert.Equal(t, "user", out["role"])
	got, err := time.Parse(time.RFC3339, out["expires_at"].(string))
	require.NoError(t, err)
	assert.True(t, got.Equal(exp))
}
