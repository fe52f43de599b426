package config

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// ErrParseConfig wraps env parsing failures.
var ErrParseConfig = errors.New("failed to parse config from environment")

var (
	loadDotEnvOnce sync.Once
	cache          sync.Map // reflect.Type -> loaded config value
)

// Load populates cfg from environment variables using its env tags.
// A .env file in the working directory is loaded once per process if
// present. Each configuration type is parsed once and cached: later
// calls for the same type return the cached value.
func Load[T any](cfg *T) error {
	if cfg == nil {
		return fmt.Errorf("%w: nil config pointer", ErrParseConfig)
	}

	loadDotEnvOnce.Do(func() {
		// Missing .env is the normal production case.
		_ = godotenv.Load()
	})

	key := reflect.TypeOf(*cfg)
	if cached, ok := cache.Load(key); ok {
		*cfg = cached.(T)
		return nil
	}

	if err := env.Parse(cfg); err != nil {
		return errors.Join(ErrParseConfig, err)
	}

	actual, _ := cache.LoadOrStore(key, *cfg)
	*cfg = actual.(T)
	return nil
}

// MustLoad is Load that panics on failure. Useful during startup where
// a missing required variable should stop the process immediately.
func MustLoad[T any](cfg *T) {
	if err := Load(cfg); err != nil {
		panic(err)
	}
}
