package providers

import "time"

// shutdownTimeout bounds how long a handle may block during graceful shutdown.
const shutdownTimeout = 30 * time.Second
