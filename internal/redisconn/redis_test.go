package redisconn

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellara-labs/stellara/internal/config"
)

func TestOpen(t *testing.T) {
	server := miniredis.RunT(t)
	client, err := Open(context.Background(), config.Redis{URL: "redis://" + server.Addr() + "/0"})
	require.NoError(t, err)
	defer client.Close()
	assert.NoError(t, Ping(context.Background(), client))

	server.Close()
	assert.Error(t, Ping(context.Background(), client))
}

func TestOpen_Errors(t *testing.T) {
	_, err := Open(context.Background(), config.Redis{Disabled: true})
	assert.ErrorIs(t, err, ErrDisabled)

	_, err = Open(context.Background(), config.Redis{URL: "not-a-url"})
	assert.Error(t, err)

	assert.ErrorIs(t, Ping(context.Background(), nil), ErrDisabled)
}
