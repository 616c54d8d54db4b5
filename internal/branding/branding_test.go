package branding

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
	"github.com/iliyamo/bus-seat-reservation/internal/session"
)

type fakeSource struct {
	calls    atomic.Int32
	settings model.Settings
	err      error
}

func (f *fakeSource) Settings(context.Context) (model.Settings, error) {
	f.calls.Add(1)
	return f.settings, f.err
}

func TestDarken(t *testing.T) {
	cases := map[string]string{
		"#ffffff": "#d9d9d9",
		"#000000": "#000000",
		"#2563eb": "#1f54c8",
		"#fff":    "#d9d9d9",
		"red":     "red",
		"#zzzzzz": "#zzzzzz",
	}
	for in, want := range cases {
		assert.Equal(t, want, Darken(in, HoverDarken), in)
	}
	assert.Equal(t, "#000000", Darken("#123456", 2))
}

func TestThemeForDefaults(t *testing.T) {
	th := ThemeFor(model.Settings{})
	assert.Equal(t, DefaultPrimary, th.Primary)
	assert.Equal(t, Darken(DefaultPrimary, HoverDarken), th.PrimaryHover)
}

func TestRefreshCachesInSession(t *testing.T) {
	log, _ := test.NewNullLogger()
	sess := session.New(session.NewMemoryStore(), "k", log)
	src := &fakeSource{settings: model.Settings{NomEntreprise: "Sahel Voyages", CouleurPrincipale: "#ffffff", Logo: "logo.png"}}
	p := New(src, sess, log)

	_, _, ok := p.Current()
	assert.False(t, ok)

	s, th, err := p.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Sahel Voyages", s.NomEntreprise)
	assert.Equal(t, "#d9d9d9", th.PrimaryHover)

	d := sess.Snapshot()
	require.NotNil(t, d.Settings)
	require.NotNil(t, d.Theme)
	assert.Equal(t, "#d9d9d9", d.Theme.PrimaryHover)
	assert.Equal(t, "logo.png", d.Logo)

	// A new provider starts from the cached value.
	again := New(&fakeSource{err: errors.New("down")}, sess, log)
	cached, _, ok := again.Current()
	assert.True(t, ok)
	assert.Equal(t, "Sahel Voyages", cached.NomEntreprise)
}

func TestRefreshFailureKeepsLastGood(t *testing.T) {
	log, _ := test.NewNullLogger()
	src := &fakeSource{settings: model.Settings{NomEntreprise: "A"}}
	p := New(src, nil, log)
	_, _, err := p.Refresh(context.Background())
	require.NoError(t, err)

	src.err = errors.New("boom")
	_, _, err = p.Refresh(context.Background())
	assert.ErrorContains(t, err, "boom")
	s, _, ok := p.Current()
	assert.True(t, ok)
	assert.Equal(t, "A", s.NomEntreprise)
}

func TestRunRefreshesPeriodically(t *testing.T) {
	log, hook := test.NewNullLogger()
	src := &fakeSource{err: errors.New("offline")}
	p := New(src, nil, log)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { p.Run(ctx, 10*time.Millisecond); close(done) }()

	assert.Eventually(t, func() bool { return src.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
	require.NotEmpty(t, hook.AllEntries())
	assert.Contains(t, hook.AllEntries()[0].Message, "keeping last settings")
}
