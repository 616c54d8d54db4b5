// Package bookingapi is the HTTP client of the Booking API, the server of
// record for trips, reservations and accounts.  Requests carry the bearer
// token of the injected Credentials; a 401 is retried once after a token
// refresh.
package bookingapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultTimeout   = 15 * time.Second
	defaultUserAgent = "bus-seat-reservation/1.0"
	maxErrorBody     = 8 << 10
)

// Credentials supplies and updates the tokens attached to requests.  The
// session package implements it.
type Credentials interface {
	AccessToken() string
	RefreshToken() string
	// SetAccessToken stores a token obtained through /auth/refresh.
	SetAccessToken(token string) error
	// Expire drops every credential after a failed refresh.
	Expire() error
}

// StaticToken is Credentials for a token owned by someone else, such as
// a token forwarded by a browser.  It cannot be refreshed, so a 401 ends
// in ErrSessionExpired.
type StaticToken string

func (t StaticToken) AccessToken() string       { return string(t) }
func (StaticToken) RefreshToken() string        { return "" }
func (StaticToken) SetAccessToken(string) error { return nil }
func (StaticToken) Expire() error               { return nil }

// Config configures a Client.  BaseURL is the server root; "/api" is
// appended.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     logrus.FieldLogger
	UserAgent  string
}

// Client wraps HTTP access to the Booking API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	creds      Credentials
	log        logrus.FieldLogger
}

// New builds a client.  creds may be nil for anonymous calls.
func New(cfg Config, creds Credentials) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	return &Client{
		httpClient: hc,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/") + "/api",
		userAgent:  ua,
		creds:      creds,
		log:        log,
	}
}

// WithCredentials returns a copy of c bound to other credentials.  The
// HTTP transport is shared.
func (c *Client) WithCredentials(creds Credentials) *Client {
	cp := *c
	cp.creds = creds
	return &cp
}

// envelope is the {data: ...} wrapper some endpoints use.
type envelope struct {
	Data json.RawMessage `json:"data"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = b
	}

	res, err := c.send(ctx, method, path, payload)
	if err != nil {
		return err
	}
	if res.StatusCode == http.StatusUnauthorized && c.creds != nil && !strings.HasPrefix(path, "/auth/") {
		apiErr := readError(res, path)
		if rerr := c.refresh(ctx); rerr != nil {
			c.log.WithFields(logrus.Fields{"path": path, "error": rerr}).Warn("bookingapi: refresh failed, session expired")
			if xerr := c.creds.Expire(); xerr != nil {
				c.log.WithError(xerr).Warn("bookingapi: clear session")
			}
			return fmt.Errorf("%w: %w", ErrSessionExpired, apiErr)
		}
		res, err = c.send(ctx, method, path, payload)
		if err != nil {
			return err
		}
	}
	defer res.Body.Close()

	if res.StatusCode < http.StatusOK || res.StatusCode >= http.StatusMultipleChoices {
		return readError(res, path)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	dec := json.NewDecoder(res.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return &APIError{Status: http.StatusBadGateway, Message: "invalid response from server", Endpoint: path, Err: err}
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte) (*http.Response, error) {
	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.creds != nil {
		if tok := c.creds.AccessToken(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	start := time.Now()
	res, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	c.log.WithFields(logrus.Fields{
		"method":   method,
		"path":     path,
		"status":   res.StatusCode,
		"duration": time.Since(start).String(),
	}).Debug("bookingapi: request")
	return res, nil
}

// refresh exchanges the refresh token for a new access token.
func (c *Client) refresh(ctx context.Context) error {
	rt := c.creds.RefreshToken()
	if rt == "" {
		return errors.New("no refresh token")
	}
	tok, err := c.anonymous().Refresh(ctx, rt)
	if err != nil {
		return err
	}
	return c.creds.SetAccessToken(tok)
}

func (c *Client) anonymous() *Client { return c.WithCredentials(nil) }

func readError(res *http.Response, path string) *APIError {
	defer res.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
	apiErr := &APIError{Status: res.StatusCode, Endpoint: path}
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(snippet, &body) == nil {
		apiErr.Message = body.Message
		if apiErr.Message == "" {
			apiErr.Message = body.Error
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(snippet))
	}
	return apiErr
}

// decodeList accepts a bare JSON array or a {data: [...]} envelope.
func decodeList(raw json.RawMessage, out any, path string) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if raw[0] == '{' {
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return &APIError{Status: http.StatusBadGateway, Message: "invalid response from server", Endpoint: path, Err: err}
		}
		return decodeList(env.Data, out, path)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return &APIError{Status: http.StatusBadGateway, Message: "invalid response from server", Endpoint: path, Err: err}
	}
	return nil
}

// decodeObject unwraps {data: {...}} when present.
func decodeObject(raw json.RawMessage, out any, path string) error {
	raw = bytes.TrimSpace(raw)
	var env envelope
	if json.Unmarshal(raw, &env) == nil && len(env.Data) > 0 && env.Data[0] == '{' {
		raw = env.Data
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &APIError{Status: http.StatusBadGateway, Message: "invalid response from server", Endpoint: path, Err: err}
	}
	return nil
}
