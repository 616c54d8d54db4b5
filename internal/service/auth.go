package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/bus-seat-reservation/internal/bookingapi"
	"github.com/iliyamo/bus-seat-reservation/internal/model"
	"github.com/iliyamo/bus-seat-reservation/internal/session"
	"github.com/iliyamo/bus-seat-reservation/internal/utils"
)

// ErrNotLoggedIn is returned when an operation needs a refresh token.
var ErrNotLoggedIn = errors.New("not logged in")

// AuthAPI is the account part of the Booking API.
type AuthAPI interface {
	Login(ctx context.Context, email, password string) (bookingapi.AuthResult, error)
	Register(ctx context.Context, name, email, password string) error
	Refresh(ctx context.Context, refreshToken string) (string, error)
}

// AuthService signs a session in and out and keeps its access token
// fresh.
type AuthService struct {
	api  AuthAPI
	sess *session.Session
	log  logrus.FieldLogger
}

func NewAuthService(api AuthAPI, sess *session.Session, log logrus.FieldLogger) *AuthService {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &AuthService{api: api, sess: sess, log: log}
}

// Login stores the token pair and the user.  When the response omits the
// user id it is read from the token.
func (a *AuthService) Login(ctx context.Context, email, password string) (model.User, error) {
	res, err := a.api.Login(ctx, email, password)
	if err != nil {
		return model.User{}, err
	}
	user := res.User
	if id, perr := utils.PeekToken(res.Token); perr == nil {
		if user.ID == "" {
			user.ID = id.UserID
		}
		if user.Role == "" {
			user.Role = id.Role
		}
	}
	if err := a.sess.SignIn(res.Token, res.RefreshToken, user); err != nil {
		return model.User{}, fmt.Errorf("store session: %w", err)
	}
	a.log.WithFields(logrus.Fields{"user_id": user.ID, "role": user.Role}).Info("logged in")
	return user, nil
}

// Register creates an account without logging in.
func (a *AuthService) Register(ctx context.Context, name, email, password string) error {
	return a.api.Register(ctx, name, email, password)
}

// Logout forgets the session.
func (a *AuthService) Logout(ctx context.Context) error {
	return a.sess.Clear(ctx)
}

// RefreshNow exchanges the refresh token for a new access token.  A
// refusal by the API expires the session and returns
// bookingapi.ErrSessionExpired; an unreachable API leaves it alone.
func (a *AuthService) RefreshNow(ctx context.Context) error {
	rt := a.sess.RefreshToken()
	if rt == "" {
		return ErrNotLoggedIn
	}
	tok, err := a.api.Refresh(ctx, rt)
	if err != nil {
		if bookingapi.IsUnreachable(err) || bookingapi.IsServer(err) || ctx.Err() != nil {
			return err
		}
		if xerr := a.sess.Expire(); xerr != nil {
			a.log.WithError(xerr).Warn("clear expired session")
		}
		return fmt.Errorf("%w: %w", bookingapi.ErrSessionExpired, err)
	}
	return a.sess.SetAccessToken(tok)
}

// KeepAlive refreshes the access token every interval (5 minutes by
// default) while logged in, until ctx ends.
func (a *AuthService) KeepAlive(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = 5 * time.Minute
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if !a.sess.LoggedIn() {
				continue
			}
			if err := a.RefreshNow(ctx); err != nil && ctx.Err() == nil {
				if errors.Is(err, bookingapi.ErrSessionExpired) {
					a.log.WithError(err).Warn("session expired, logged out")
				} else {
					a.log.WithError(err).Warn("token refresh failed")
				}
			}
		}
	}
}
