package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antihub/quotabroker/core/config"
)

type serverConfig struct {
	Port int    `env:"TEST_SERVER_PORT" envDefault:"8080"`
	Host string `env:"TEST_SERVER_HOST" envDefault:"localhost"`
}

type requiredConfig struct {
	Secret string `env:"TEST_REQUIRED_SECRET,required"`
}

func TestLoad(t *testing.T) {
	t.Run("applies defaults", func(t *testing.T) {
		var cfg serverConfig
		require.NoError(t, config.Load(&cfg))
		assert.Equal(t, 8080, cfg.Port)
		assert.Equal(t, "localhost", cfg.Host)
	})

	t.Run("caches per type", func(t *testing.T) {
		var first serverConfig
		require.NoError(t, config.Load(&first))

		// Changing the environment after the first load has no effect:
		// the cached value wins for the lifetime of the process.
		t.Setenv("TEST_SERVER_PORT", "9999")

		var second serverConfig
		require.NoError(t, config.Load(&second))
		assert.Equal(t, first, second)
	})

	t.Run("missing required variable", func(t *testing.T) {
		var cfg requiredConfig
		err := config.Load(&cfg)
		require.Error(t, err)
		assert.ErrorIs(t, err, config.ErrParseConfig)
	})

	t.Run("nil pointer", func(t *testing.T) {
		err := config.Load[serverConfig](nil)
		assert.ErrorIs(t, err, config.ErrParseConfig)
	})
}

func TestMustLoad(t *testing.T) {
	t.Run("panics on failure", func(t *testing.T) {
		assert.Panics(t, func() {
			var cfg requiredConfig
			config.MustLoad(&cfg)
		})
	})

	t.Run("returns loaded config", func(t *testing.T) {
		var cfg serverConfig
		assert.NotPanics(t, func() { config.MustLoad(&cfg) })
		assert.Equal(t, 8080, cfg.Port)
	})
}
