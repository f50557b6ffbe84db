package logging

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger_PrefixAndDispatch(t *testing.T) {
	var lines []string
	record := func(level string) LogFunc {
		return func(format string, args ...interface{}) {
			lines = append(lines, level+" "+fmt.Sprintf(format, args...))
		}
	}

	l := NewLogger("module: test , ", LogFuncs{
		Debugf: record("D"),
		Infof:  record("I"),
		Warnf:  record("W"),
		Errorf: record("E"),
	})

	l.Debugf("port %d", 1)
	l.Infof("port %d", 2)
	l.Warnf("port %d", 3)
	l.Errorf("port %d", 4)
	l.LogLevelf(LogLevelWarn, "port %d", 5)

	assert.Equal(t, []string{
		"D module: test , port 1",
		"I module: test , port 2",
		"W module: test , port 3",
		"E module: test , port 4",
		"W module: test , port 5",
	}, lines)
}

func TestForEmulator_StacksPrefixes(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	base := NewZapLoggerFrom(zap.New(core))

	l := ForEmulator(NewLogger("module: hsu-emulators , ", FuncsOf(base)), "firestore")
	l.Infof("Emulator started, port: %d", 8080)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "module: hsu-emulators , emulator: firestore , Emulator started, port: 8080", entries[0].Message)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
}

func TestZapLogger_LevelsAndWith(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := NewZapLoggerFrom(zap.New(core)).With(zap.String("run_id", "abc"))

	l.Debugf("filtered out")
	l.Infof("info")
	l.LogLevelf(LogLevelError, "error %s", "x")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "info", entries[0].Message)
	assert.Equal(t, "error x", entries[1].Message)
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, "abc", entries[1].ContextMap()["run_id"])
}

func TestNop_DoesNotPanic(t *testing.T) {
	l := Nop()
	assert.NotPanics(t, func() {
		l.Infof("nothing")
		l.LogLevelf(LogLevelError, "nothing")
	})
}

func TestNewZapLogger_UnknownLevelFallsBack(t *testing.T) {
	l, err := NewZapLogger(ZapConfig{Level: "chatty", Format: "json", Output: "stdout"})
	require.NoError(t, err)
	assert.True(t, l.Zap().Core().Enabled(zapcore.InfoLevel))
	assert.False(t, l.Zap().Core().Enabled(zapcore.DebugLevel))
}
