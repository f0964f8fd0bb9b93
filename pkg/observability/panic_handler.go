package observability

import "runtime/debug"

// RecoverPanic recovers from a panic in a background goroutine and logs it
// with the stack. Use it in a defer:
//
//	defer observability.RecoverPanic(logger, "audit worker")
//
// The panic is not re-raised.
func RecoverPanic(logger *Logger, where string) {
	if r := recover(); r != nil {
		logger.WithField("panic", r).
			WithField("stack", string(debug.Stack())).
			WithField("context", where).
			Error("PANIC recovered")
	}
}
