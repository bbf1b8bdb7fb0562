package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNopBeforeInit(t *testing.T) {
	assert.NotPanics(t, func() { Warn("dropped", zap.String("table", "likes")) })
}

func TestSetCapturesFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	prev := L()
	Set(zap.New(core))
	defer func() { log = prev }()

	Warn("event dropped", zap.String("table", "comments"))
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "event dropped", entry.Message)
	assert.Equal(t, "comments", entry.ContextMap()["table"])
}

func TestInitFallsBackOnBadLevel(t *testing.T) {
	prev := L()
	defer func() { log = prev }()
	require.NoError(t, Init("nonsense", "console"))
	assert.True(t, L().Core().Enabled(zap.InfoLevel))
	assert.False(t, L().Core().Enabled(zap.DebugLevel))
}
