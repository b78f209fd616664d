package logger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ineyio/askgate/internal/logger"
)

func TestNewLogger(t *testing.T) {
	for _, env := range []string{"prod", "local", "dev"} {
		l, err := logger.NewLogger(env)
		require.NoError(t, err, env)
		assert.NotNil(t, l)
	}

	l, err := logger.NewLogger("prod", "debug")
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zap.DebugLevel))

	_, err = logger.NewLogger("staging")
	assert.Error(t, err)

	_, err = logger.NewLogger("prod", "loud")
	assert.Error(t, err)
}

func TestContextLogger(t *testing.T) {
	assert.NotNil(t, logger.FromContext(context.Background()))

	l := zap.NewExample()
	ctx := logger.ContextWithLogger(context.Background(), l)
	assert.Same(t, l, logger.FromContext(ctx))
}
