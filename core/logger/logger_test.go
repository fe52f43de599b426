package logger_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antihub/quotabroker/core/logger"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("json output with attributes", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		log := logger.New(
			logger.WithJSONFormatter(),
			logger.WithOutput(&buf),
			logger.WithAttr(slog.String("service", "api")),
		)

		log.Info("test message", logger.Component("test"))

		var record map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
		assert.Equal(t, "test message", record["msg"])
		assert.Equal(t, "api", record["service"])
		assert.Equal(t, "test", record["component"])
	})

	t.Run("level filtering", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		log := logger.New(logger.WithOutput(&buf), logger.WithLevel(slog.LevelWarn))

		log.Info("dropped")
		log.Warn("kept")

		assert.NotContains(t, buf.String(), "dropped")
		assert.Contains(t, buf.String(), "kept")
	})

	t.Run("development preset enables debug", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		log := logger.New(logger.WithDevelopment("quotabroker"), logger.WithOutput(&buf))

		log.Debug("visible")
		assert.Contains(t, buf.String(), "visible")
		assert.Contains(t, buf.String(), "app=quotabroker")
	})

	t.Run("production preset is json at info", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		log := logger.New(logger.WithProduction("quotabroker"), logger.WithOutput(&buf))

		log.Debug("dropped")
		log.Info("kept")

		var record map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
		assert.Equal(t, "kept", record["msg"])
		assert.Equal(t, "production", record["env"])
	})
}

func TestAttrHelpers(t *testing.T) {
	t.Parallel()

	t.Run("nil error yields empty attr", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, slog.Attr{}, logger.Error(nil))
		assert.Equal(t, slog.Attr{}, logger.PoolID(""))
		assert.Equal(t, slog.Attr{}, logger.Errors(nil, nil))
	})

	t.Run("error and domain attrs carry keys", func(t *testing.T) {
		t.Parallel()

		attr := logger.Error(errors.New("boom"))
		assert.Equal(t, "error", attr.Key)

		assert.Equal(t, "pool_id", logger.PoolID("team-a").Key)
		assert.Equal(t, "reservation_id", logger.ReservationID("abc").Key)
		assert.Equal(t, "duration", logger.Duration(time.Second).Key)
	})

	t.Run("errors groups non-nil errors in order", func(t *testing.T) {
		t.Parallel()

		attr := logger.Errors(errors.New("a"), nil, errors.New("b"))
		assert.Equal(t, "errors", attr.Key)
		assert.Len(t, attr.Value.Group(), 2)
	})
}
