package batch

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
)

// ShutdownManager runs registered cleanup callbacks, in registration order,
// when the process receives an interrupt or terminate signal. A second
// signal skips the remaining cleanup and exits immediately.
type ShutdownManager struct {
	log zerolog.Logger

	mu        sync.Mutex
	callbacks []namedCallback
}

type namedCallback struct {
	name string
	fn   func()
}

// NewShutdownManager creates a new shutdown manager
func NewShutdownManager(log zerolog.Logger) *ShutdownManager {
	return &ShutdownManager{
		log: log.With().Str("component", "shutdown").Logger(),
	}
}

// Register adds a cleanup callback. Callbacks run in registration order.
func (s *ShutdownManager) Register(name string, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, namedCallback{name: name, fn: fn})
}

// Listen installs the signal handler. It returns immediately; the handler
// goroutine exits the process once a signal arrives.
func (s *ShutdownManager) Listen() {
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-ch
		s.log.Info().Str("signal", sig.String()).Msg("Shutting down")

		done := make(chan struct{})
		go func() {
			s.RunCleanup()
			close(done)
		}()

		select {
		case <-done:
		case <-ch:
			s.log.Warn().Msg("Second signal, exiting immediately")
			os.Exit(130)
		}

		if sig == syscall.SIGTERM {
			os.Exit(1)
		}
		os.Exit(0)
	}()
}

// RunCleanup executes all registered callbacks in order. Safe to call more
// than once; callbacks run only on the first call.
func (s *ShutdownManager) RunCleanup() {
	s.mu.Lock()
	callbacks := s.callbacks
	s.callbacks = nil
	s.mu.Unlock()

	for _, cb := range callbacks {
		s.log.Debug().Str("callback", cb.name).Msg("Running cleanup callback")
		cb.fn()
	}
}
