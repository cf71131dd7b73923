package signals

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetHandlers(t *testing.T) {
	t.Helper()
	reset := func() {
		reloaders.reset()
		interrupters.reset()
		preShutdown.reset()
		SetGracefulTimeout(0)
	}
	reset()
	t.Cleanup(reset)
}

func TestRegisterReloadHandler(t *testing.T) {
	resetHandlers(t)

	var calls []int
	RegisterReloadHandler(func() { calls = append(calls, 1) })
	RegisterReloadHandler(func() { calls = append(calls, 2) })
	assert.Equal(t, HandlerID(-1), RegisterReloadHandler(nil))

	handleReload()
	assert.Equal(t, []int{1, 2}, calls, "handlers run in registration order")
}

func TestDeregisterInterruptHandler(t *testing.T) {
	resetHandlers(t)

	kept, dropped := false, false
	RegisterInterruptHandler(func() { kept = true })
	id := RegisterInterruptHandler(func() { dropped = true })
	DeregisterInterruptHandler(id)
	DeregisterInterruptHandler(id)

	handleInterrupted()
	assert.True(t, kept)
	assert.False(t, dropped)
}

func TestHandlerPanicDoesNotStopOthers(t *testing.T) {
	resetHandlers(t)

	ran := false
	RegisterReloadHandler(func() { panic("bad handler") })
	RegisterReloadHandler(func() { ran = true })

	assert.NotPanics(t, handleReload)
	assert.True(t, ran)
}

func TestPreShutdownRunsBeforeInterrupt(t *testing.T) {
	resetHandlers(t)

	var (
		mu    sync.Mutex
		order []string
	)
	record := func(name string) Handler {
		return func() {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
		}
	}
	RegisterInterruptHandler(record("interrupt"))
	RegisterPreShutdownHandler(record("stop accepting"))

	handleInterrupted()
	assert.Equal(t, []string{"stop accepting", "interrupt"}, order)
}

func TestPreShutdownTimeout(t *testing.T) {
	resetHandlers(t)
	SetGracefulTimeout(20 * time.Millisecond)

	release := make(chan struct{})
	defer close(release)
	RegisterPreShutdownHandler(func() { <-release })

	interrupted := false
	RegisterInterruptHandler(func() { interrupted = true })

	start := time.Now()
	handleInterrupted()
	require.True(t, interrupted, "interrupt handlers run after the timeout")
	assert.Less(t, time.Since(start), time.Second)
}
