package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_Verbosity(t *testing.T) {
	logger, err := NewLogger(DEBUG, false)
	require.NoError(t, err)
	assert.True(t, logger.V(DEBUG).Enabled())
	assert.False(t, logger.V(TRACE).Enabled())

	quiet, err := NewLogger(0, true)
	require.NoError(t, err)
	assert.True(t, quiet.Enabled())
	assert.False(t, quiet.V(DEBUG).Enabled())
}

func TestContextRoundTrip(t *testing.T) {
	ctx := NewTestLoggerIntoContext(context.Background())
	assert.True(t, FromContext(ctx).V(TRACE).Enabled())

	// a bare context yields a logger that drops everything
	assert.False(t, FromContext(context.Background()).Enabled())
}
