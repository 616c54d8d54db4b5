// Package utils holds helpers shared by the server and the terminal client.
package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is what the Booking API encodes in its access tokens.
type Identity struct {
	UserID    string
	Role      string
	ExpiresAt time.Time // zero when the token carries no exp
}

// Expired reports whether the token is past its exp at now.
func (id Identity) Expired(now time.Time) bool {
	return !id.ExpiresAt.IsZero() && !now.Before(id.ExpiresAt)
}

// IdentityFromClaims reads the subject and role.  The API has used "sub",
// "id" and "userId" for the subject, and "role" or an "isAdmin" flag for
// the role.
func IdentityFromClaims(claims jwt.MapClaims) Identity {
	id := Identity{Role: "user"}
	for _, k := range []string{"sub", "id", "userId", "user_id"} {
		if s := claimString(claims[k]); s != "" {
			id.UserID = s
			break
		}
	}
	if r, ok := claims["role"].(string); ok && r != "" {
		id.Role = r
	} else if admin, _ := claims["isAdmin"].(bool); admin {
		id.Role = "admin"
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		id.ExpiresAt = exp.Time
	}
	return id
}

// VerifyToken checks an HS256 token against secret.
func VerifyToken(raw, secret string) (Identity, error) {
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return Identity{}, err
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok || !tok.Valid {
		return Identity{}, errors.New("invalid claims")
	}
	return IdentityFromClaims(claims), nil
}

// PeekToken decodes a token without verifying its signature.  The
// terminal client does not know the signing secret and only uses it to
// show who is logged in and until when.
func PeekToken(raw string) (Identity, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return Identity{}, err
	}
	return IdentityFromClaims(claims), nil
}

func claimString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return fmt.Sprintf("%.0f", t)
	}
	return ""
}
