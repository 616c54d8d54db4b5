// Package branding keeps the company settings served by the Booking API
// and the theme derived from them.
package branding

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
	"github.com/iliyamo/bus-seat-reservation/internal/session"
)

// HoverDarken is how much darker the hover colour is than the primary.
const HoverDarken = 0.15

// DefaultPrimary is used until settings name a colour.
const DefaultPrimary = "#2563eb"

// SettingsSource fetches the settings document.
type SettingsSource interface {
	Settings(ctx context.Context) (model.Settings, error)
}

// Provider refreshes settings and remembers the last good value.  When a
// session is attached the value is cached there too, so it survives a
// restart.
type Provider struct {
	src  SettingsSource
	sess *session.Session
	log  logrus.FieldLogger

	mu       sync.RWMutex
	settings model.Settings
	theme    model.Theme
	loaded   bool
	fetched  time.Time
}

// New returns a provider seeded from the session cache, if any.
func New(src SettingsSource, sess *session.Session, log logrus.FieldLogger) *Provider {
	if log == nil {
		log = logrus.StandardLogger()
	}
	p := &Provider{src: src, sess: sess, log: log, theme: ThemeFor(model.Settings{})}
	if sess != nil {
		if d := sess.Snapshot(); d.Settings != nil {
			p.settings = *d.Settings
			p.theme = ThemeFor(*d.Settings)
			p.loaded = true
		}
	}
	return p
}

// Refresh fetches settings.  On failure the previous value stays in
// place and the error is returned.
func (p *Provider) Refresh(ctx context.Context) (model.Settings, model.Theme, error) {
	s, err := p.src.Settings(ctx)
	if err != nil {
		return model.Settings{}, model.Theme{}, fmt.Errorf("fetch settings: %w", err)
	}
	th := ThemeFor(s)

	p.mu.Lock()
	p.settings, p.theme, p.loaded = s, th, true
	p.fetched = time.Now()
	p.mu.Unlock()

	if p.sess != nil {
		if err := p.sess.SetBranding(s, th); err != nil {
			p.log.WithError(err).Warn("branding: cache in session failed")
		}
	}
	return s, th, nil
}

// Current returns the last good settings.  ok is false before the first
// successful refresh.
func (p *Provider) Current() (settings model.Settings, theme model.Theme, ok bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.settings, p.theme, p.loaded
}

// FetchedAt is the time of the last successful refresh.
func (p *Provider) FetchedAt() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.fetched
}

// Run refreshes immediately and then every interval until ctx ends.
func (p *Provider) Run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	p.refreshLogged(ctx)
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.refreshLogged(ctx)
		}
	}
}

func (p *Provider) refreshLogged(ctx context.Context) {
	if _, _, err := p.Refresh(ctx); err != nil && ctx.Err() == nil {
		p.log.WithError(err).Warn("branding: refresh failed, keeping last settings")
	}
}

// ThemeFor derives the palette from settings.
func ThemeFor(s model.Settings) model.Theme {
	primary := strings.TrimSpace(s.CouleurPrincipale)
	if primary == "" {
		primary = DefaultPrimary
	}
	return model.Theme{Primary: primary, PrimaryHover: Darken(primary, HoverDarken)}
}

// Darken scales each channel of a #rrggbb or #rgb colour by 1-amount.
// Colours it cannot parse are returned unchanged.
func Darken(hex string, amount float64) string {
	h := strings.TrimPrefix(strings.TrimSpace(hex), "#")
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) != 6 {
		return hex
	}
	n, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return hex
	}
	amount = math.Min(math.Max(amount, 0), 1)
	scale := func(c uint64) uint64 { return uint64(math.Round(float64(c) * (1 - amount))) }
	r, g, b := scale(n>>16&0xff), scale(n>>8&0xff), scale(n&0xff)
	return fmt.Sprintf("#%02x%02x%02x", r, g, b)
}
