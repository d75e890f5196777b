package logs

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"newapi-checkin/config"
)

func TestLevelFromString(t *testing.T) {
	t.Parallel()

	require.Equal(t, zapcore.DebugLevel, levelFromString(" DEBUG "))
	require.Equal(t, zapcore.WarnLevel, levelFromString("warning"))
	require.Equal(t, zapcore.ErrorLevel, levelFromString("error"))
	require.Equal(t, zapcore.InfoLevel, levelFromString("verbose"))
}

func TestNewLogger_RespectsLevel(t *testing.T) {
	t.Parallel()

	l, err := NewLogger(&config.Config{AppName: "newapi-checkin", LogLevel: "warn"})
	require.NoError(t, err)
	require.False(t, l.Core().Enabled(zapcore.InfoLevel))
	require.True(t, l.Core().Enabled(zapcore.WarnLevel))
}

func TestNewLogger_DevelopmentConsole(t *testing.T) {
	t.Parallel()

	l, err := NewLogger(&config.Config{AppName: "newapi-checkin", ENV: config.Dev, LogLevel: "debug"})
	require.NoError(t, err)
	require.True(t, l.Core().Enabled(zapcore.DebugLevel))
}
