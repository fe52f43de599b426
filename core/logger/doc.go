// Package logger builds structured slog loggers with environment presets
// and a small set of attribute helpers shared across the service.
//
// Basic usage:
//
//	import "github.com/antihub/quotabroker/core/logger"
//
//	// Development: text format, debug level
//	log := logger.New(logger.WithDevelopment("quotabroker"))
//
//	// Production: JSON format, info level
//	log := logger.New(logger.WithProduction("quotabroker"))
//
//	log.Info("server starting",
//		logger.Component("server"),
//		logger.Event("startup"),
//	)
//
// Custom configuration:
//
//	log := logger.New(
//		logger.WithLevel(slog.LevelWarn),
//		logger.WithJSONFormatter(),
//		logger.WithAttr(slog.String("service", "api")),
//		logger.WithOutput(os.Stderr),
//	)
//
// Attribute helpers return an empty slog.Attr for zero values, so they
// are safe to pass unconditionally:
//
//	log.Error("commit failed",
//		logger.Error(err),
//		logger.PoolID(poolID),
//		logger.ReservationID(resID.String()),
//	)
//
// Tests can capture output with WithOutput:
//
//	var buf bytes.Buffer
//	log := logger.New(logger.WithJSONFormatter(), logger.WithOutput(&buf))
package logger
