package common

import (
	"fmt"
	"os"
	"runtime/debug"
	"sync/atomic"

	"github.com/ternarybob/arbor"
)

// Background goroutines started through SafeGo
var (
	liveGoroutines  atomic.Int64
	recoveredPanics atomic.Int64
)

// GoroutineStats is reported by the health endpoint
type GoroutineStats struct {
	Live   int64 `json:"live"`
	Panics int64 `json:"panics"`
}

// Goroutines returns the live SafeGo goroutine count and the panics recovered so far
func Goroutines() GoroutineStats {
	return GoroutineStats{
		Live:   liveGoroutines.Load(),
		Panics: recoveredPanics.Load(),
	}
}

// SafeGo runs fn on a new goroutine. A panic is logged with its stack and
// swallowed, so a single scrape loop or websocket reader cannot take the
// process down.
func SafeGo(logger arbor.ILogger, name string, fn func()) {
	liveGoroutines.Add(1)
	go func() {
		defer liveGoroutines.Add(-1)
		defer recoverPanic(logger, name)
		fn()
	}()
}

func recoverPanic(logger arbor.ILogger, name string) {
	r := recover()
	if r == nil {
		return
	}
	recoveredPanics.Add(1)

	stack := debug.Stack()
	if logger == nil {
		fmt.Fprintf(os.Stderr, "panic in goroutine %s: %v\n%s\n", name, r, stack)
		return
	}
	logger.Error().
		Str("goroutine", name).
		Str("panic", fmt.Sprint(r)).
		Str("stack", string(stack)).
		Msg("Recovered panic in background goroutine")
}
