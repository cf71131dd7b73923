package signals

import (
	"sync"
	"time"
)

// defaultGracefulTimeout bounds how long pre-shutdown handlers may run before
// the interrupt handlers are called anyway.
const defaultGracefulTimeout = 30 * time.Second

var (
	preShutdown       = &registry{name: "pre-shutdown"}
	gracefulTimeoutMu sync.RWMutex
	gracefulTimeout   = defaultGracefulTimeout
)

// RegisterPreShutdownHandler registers a handler that runs before the
// interrupt handlers. The server uses it to stop accepting connections
// before open sessions and black holes are torn down.
// Nil handlers are ignored.
func RegisterPreShutdownHandler(f Handler) HandlerID {
	return preShutdown.add(f)
}

func DeregisterPreShutdownHandler(id HandlerID) {
	preShutdown.remove(id)
}

// SetGracefulTimeout sets the pre-shutdown budget. Non-positive values
// restore the 30 second default.
func SetGracefulTimeout(timeout time.Duration) {
	gracefulTimeoutMu.Lock()
	defer gracefulTimeoutMu.Unlock()
	if timeout <= 0 {
		timeout = defaultGracefulTimeout
	}
	gracefulTimeout = timeout
}

// handlePreShutdown reports whether every pre-shutdown handler finished
// within the graceful timeout.
func handlePreShutdown() bool {
	if preShutdown.len() == 0 {
		return true
	}
	gracefulTimeoutMu.RLock()
	timeout := gracefulTimeout
	gracefulTimeoutMu.RUnlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		preShutdown.run()
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		log.WithField("timeout", timeout).Warn("pre-shutdown handlers timed out")
		return false
	}
}
