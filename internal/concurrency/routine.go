package concurrency

import (
	"log/slog"
	"runtime/debug"
)

// SafeGo runs fn on its own goroutine and converts a panic into a logged
// error. Background jobs must never take the session process down.
func SafeGo(name string, fn func(), onPanic func(interface{})) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("goroutine panic recovered",
					slog.String("job", name),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())))
				if onPanic != nil {
					onPanic(r)
				}
			}
		}()
		fn()
	}()
}
