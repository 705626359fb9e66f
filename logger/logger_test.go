package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestInitialize(t *testing.T) {
	t.Run("console output", func(t *testing.T) {
		err := Initialize(false, VerbosityInfo)
		require.NoError(t, err)
		require.NotNil(t, Logger)
		assert.False(t, JSONOutput)
	})

	t.Run("json output", func(t *testing.T) {
		err := Initialize(true, VerbosityInfo)
		require.NoError(t, err)
		require.NotNil(t, Logger)
		assert.True(t, JSONOutput)
	})
}

func TestPackageLevelHelpersBeforeInitialize(t *testing.T) {
	// The no-op logger installed by init() must absorb calls without panicking
	assert.NotPanics(t, func() {
		Infow("message", FieldPrompt, "greeting")
		Debugw("message", FieldVariant, "a")
		Warnw("message")
		Errorw("message", FieldError, "boom")
	})
}

func TestVerbosityToLevel(t *testing.T) {
	assert.Equal(t, zapcore.WarnLevel, VerbosityToLevel(VerbosityUser))
	assert.Equal(t, zapcore.InfoLevel, VerbosityToLevel(VerbosityInfo))
	assert.Equal(t, zapcore.DebugLevel, VerbosityToLevel(VerbosityDebug))
	assert.Equal(t, zapcore.DebugLevel, VerbosityToLevel(5))
}

func TestComponentLogger(t *testing.T) {
	require.NoError(t, Initialize(false, VerbosityDebug))
	named := ComponentLogger("experiment.engine")
	require.NotNil(t, named)
	child := ChildLogger(named, FieldExperiment, "greeting")
	require.NotNil(t, child)
}
