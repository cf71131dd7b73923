// Package signals dispatches process signals to registered handlers:
// SIGHUP to reload handlers and SIGINT/SIGTERM to shutdown handlers.
package signals

import (
	"os"
	"sync"

	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

// sigChan is buffered to avoid missing signals delivered while no receiver is ready.
var sigChan = make(chan os.Signal, 1)

// Handler is a function called when a signal is received.
type Handler func()

// HandlerID identifies a registration so it can be removed again.
type HandlerID int

type registeredHandler struct {
	id HandlerID
	fn Handler
}

// registry is one ordered list of handlers.
type registry struct {
	name     string
	mu       sync.RWMutex
	handlers []registeredHandler
}

var (
	idMu     sync.Mutex
	nextID   HandlerID
	stopOnce sync.Once

	reloaders    = &registry{name: "reload"}
	interrupters = &registry{name: "interrupt"}
)

func newID() HandlerID {
	idMu.Lock()
	defer idMu.Unlock()
	id := nextID
	nextID++
	return id
}

func (r *registry) add(f Handler) HandlerID {
	if f == nil {
		return -1
	}
	id := newID()
	r.mu.Lock()
	r.handlers = append(r.handlers, registeredHandler{id: id, fn: f})
	r.mu.Unlock()
	return id
}

func (r *registry) remove(id HandlerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, h := range r.handlers {
		if h.id == id {
			r.handlers = append(r.handlers[:i], r.handlers[i+1:]...)
			return
		}
	}
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

func (r *registry) reset() {
	r.mu.Lock()
	r.handlers = nil
	r.mu.Unlock()
}

// run calls every handler in registration order. A panicking handler is
// logged and does not stop the rest.
func (r *registry) run() {
	r.mu.RLock()
	snapshot := make([]registeredHandler, len(r.handlers))
	copy(snapshot, r.handlers)
	r.mu.RUnlock()

	for _, h := range snapshot {
		func() {
			defer func() {
				if p := recover(); p != nil {
					log.WithFields(logger.Fields{
						"at":      "signals.run",
						"handler": r.name,
						"panic":   p,
					}).Error("signal handler panicked")
				}
			}()
			h.fn()
		}()
	}
}

// RegisterReloadHandler registers a handler called on SIGHUP.
// Nil handlers are ignored and return -1.
func RegisterReloadHandler(f Handler) HandlerID {
	return reloaders.add(f)
}

func DeregisterReloadHandler(id HandlerID) {
	reloaders.remove(id)
}

// RegisterInterruptHandler registers a handler called on SIGINT/SIGTERM.
// Nil handlers are ignored and return -1.
func RegisterInterruptHandler(f Handler) HandlerID {
	return interrupters.add(f)
}

func DeregisterInterruptHandler(id HandlerID) {
	interrupters.remove(id)
}

func handleReload() {
	log.WithField("handlers", reloaders.len()).Debug("reload requested")
	reloaders.run()
}

func handleInterrupted() {
	log.WithField("handlers", interrupters.len()).Debug("shutdown requested")
	if !handlePreShutdown() {
		log.Warn("pre-shutdown handlers did not finish in time")
	}
	interrupters.run()
}

// StopHandle closes the signal channel, causing Handle() to return.
// Safe to call multiple times; only the first call takes effect.
func StopHandle() {
	stopOnce.Do(func() {
		stopNotify()
		close(sigChan)
	})
}
