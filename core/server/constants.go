package server

import "time"

// Defaults tuned for the broker's short JSON exchanges: admission
// requests carry tiny bodies, so generous read/write windows only
// mask stuck clients.
const (
	// DefaultReadTimeout bounds reading a full request, header included.
	DefaultReadTimeout = 15 * time.Second

	// DefaultWriteTimeout bounds writing a response.
	DefaultWriteTimeout = 15 * time.Second

	// DefaultIdleTimeout bounds keep-alive connections between requests.
	DefaultIdleTimeout = 60 * time.Second

	// DefaultShutdownTimeout is how long Stop waits for in-flight
	// requests before forcing the listener closed.
	DefaultShutdownTimeout = 30 * time.Second

	// DefaultMaxHeaderBytes caps request header size at 1 MB.
	DefaultMaxHeaderBytes = 1 << 20
)
