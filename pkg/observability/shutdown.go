package observability

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// ShutdownFunc releases one resource
type ShutdownFunc func(context.Context) error

type namedShutdown struct {
	name string
	fn   ShutdownFunc
}

// ShutdownManager releases registered resources in reverse registration
// order, so a resource is closed before the ones it was built on
type ShutdownManager struct {
	logger  *Logger
	timeout time.Duration

	mu    sync.Mutex
	funcs []namedShutdown
	done  bool
}

// NewShutdownManager creates a new shutdown manager. A zero timeout means 30s.
func NewShutdownManager(logger *Logger, timeout time.Duration) *ShutdownManager {
	if logger == nil {
		logger = NopLogger()
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownManager{logger: logger, timeout: timeout}
}

// Register adds a function to call during shutdown. Nil functions are ignored.
func (sm *ShutdownManager) Register(name string, fn ShutdownFunc) {
	if fn == nil {
		return
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.funcs = append(sm.funcs, namedShutdown{name: name, fn: fn})
}

// Shutdown runs every registered function once, newest first, within the
// manager's timeout. Later calls are no-ops.
func (sm *ShutdownManager) Shutdown(ctx context.Context) error {
	sm.mu.Lock()
	if sm.done {
		sm.mu.Unlock()
		return nil
	}
	sm.done = true
	funcs := sm.funcs
	sm.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, sm.timeout)
	defer cancel()

	var errs []error
	for i := len(funcs) - 1; i >= 0; i-- {
		f := funcs[i]
		if err := ctx.Err(); err != nil {
			errs = append(errs, fmt.Errorf("%s: shutdown timeout reached: %w", f.name, err))
			continue
		}
		if err := f.fn(ctx); err != nil {
			sm.logger.WithError(err).Errorf("Shutdown of %s failed", f.name)
			errs = append(errs, fmt.Errorf("%s: %w", f.name, err))
			continue
		}
		sm.logger.Debugf("Shutdown of %s complete", f.name)
	}

	return errors.Join(errs...)
}

// WaitForSignal blocks until SIGINT, SIGTERM or ctx cancellation, then
// shuts down
func (sm *ShutdownManager) WaitForSignal(ctx context.Context) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		sm.logger.Infof("Received signal %s, starting graceful shutdown", sig)
	case <-ctx.Done():
	}

	return sm.Shutdown(context.Background())
}
