package bootstrap

import (
	"context"
	"errors"
	"testing"

	"github.com/portfolio/showcase/common/config"
	"github.com/portfolio/showcase/common/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupStaticSourceWithoutInfra(t *testing.T) {
	cfg, err := config.Load("showcase")
	require.NoError(t, err)

	c, err := Setup(context.Background(), "showcase",
		WithCustomConfig(cfg),
		WithCustomLogger(logger.New("error", "json")),
		WithoutRedis(),
		WithoutTelemetry(),
	)
	require.NoError(t, err)

	assert.Nil(t, c.DB)
	assert.Nil(t, c.Redis)
	assert.NoError(t, c.Health(context.Background()))
	assert.NoError(t, c.Shutdown(context.Background()))
}

func TestShutdownRunsCleanupInReverse(t *testing.T) {
	c := &Components{Logger: logger.New("error", "json")}

	var order []int
	c.AddCleanup(func() error { order = append(order, 1); return nil })
	c.AddCleanup(func() error { order = append(order, 2); return errors.New("boom") })

	err := c.Shutdown(context.Background())
	assert.Error(t, err)
	assert.Equal(t, []int{2, 1}, order)
}
