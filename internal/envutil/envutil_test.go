package envutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fakeEnv(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestString(t *testing.T) {
	t.Parallel()

	env := fakeEnv(map[string]string{"A": "  x ", "B": "   "})
	require.Equal(t, "x", String(env, "A", "def"))
	require.Equal(t, "def", String(env, "B", "def"))
	require.Equal(t, "def", String(env, "C", "def"))
}

func TestBool(t *testing.T) {
	t.Parallel()

	env := fakeEnv(map[string]string{"ON": "Yes", "OFF": "0", "BAD": "maybe"})
	require.True(t, Bool(env, "ON", false))
	require.False(t, Bool(env, "OFF", true))
	require.True(t, Bool(env, "BAD", true))
	require.False(t, Bool(env, "MISSING", false))
}

func TestDuration(t *testing.T) {
	t.Parallel()

	env := fakeEnv(map[string]string{"OK": "90s", "BAD": "soon", "NEG": "-1s"})
	require.Equal(t, 90*time.Second, Duration(env, "OK", time.Second))
	require.Equal(t, time.Second, Duration(env, "BAD", time.Second))
	require.Equal(t, time.Second, Duration(env, "NEG", time.Second))
}
