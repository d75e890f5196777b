package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"newapi-checkin/internal/session"
)

type stubAdapter struct{ cfg Config }

func (s stubAdapter) Name() string   { return s.cfg.Name }
func (s stubAdapter) Config() Config { return s.cfg }
func (s stubAdapter) CheckIn(context.Context, *session.Session) (Outcome, error) {
	return Outcome{Success: true}, nil
}

func stubFactory(c Config) Adapter { return stubAdapter{cfg: c} }

func TestRegistry_LastRegisteredWins(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	r := NewRegistry(zap.New(core).Sugar())

	r.Register(stubAdapter{cfg: Config{Name: "x", Origin: "https://first.example"}})
	r.Register(stubAdapter{cfg: Config{Name: "x", Origin: "https://second.example"}})

	a, ok := r.Get("x")
	require.True(t, ok)
	require.Equal(t, "https://second.example", a.Config().Origin)
	require.Equal(t, 1, logs.FilterMessage("provider_overridden").Len())
}

func TestRegistry_Load(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	r := NewRegistry(zap.New(core).Sugar())

	r.Load([]byte(`{"anyrouter":{"origin":"https://mirror.example"},"custom":{"origin":"https://c.example"},"bad":{}}`), stubFactory)

	require.Equal(t, []string{"agentrouter", "anyrouter", "custom"}, r.Names())
	require.True(t, r.Has("custom"))
	require.False(t, r.Has("bad"))

	a, _ := r.Get("anyrouter")
	require.Equal(t, "https://mirror.example", a.Config().Origin)
	require.False(t, a.Config().NeedsWAFCookies())

	require.Equal(t, 1, logs.FilterMessage("provider_listing_entry_skipped").Len())
	require.Equal(t, 1, logs.FilterMessage("provider_overridden").Len())
}
