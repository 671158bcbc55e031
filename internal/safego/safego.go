// Package safego runs background work without letting a panic take down the gateway.
package safego

import "log/slog"

// Go runs fn in a new goroutine. A panic in fn is recovered and logged under name.
func Go(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("recovered panic in background task", "task", name, "panic", r)
			}
		}()
		fn()
	}()
}
