package session

import (
	"os"
	"os/signal"
	"syscall"
)

// InstallSignalHandler arranges for SIGINT/SIGTERM to initiate cooperative
// cancellation (§4.I "installs a signal handler that initiates cooperative
// cancellation"): the session's context is cancelled and every running node
// is told to stop. It returns a function that stops watching for signals,
// which callers should defer immediately after a successful session setup.
func (s *Session) InstallSignalHandler() (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		select {
		case <-ch:
			s.log.Info().Msg("received interrupt, cancelling in-flight work")
			s.cancel()
			s.engine.CancelAll()
		case <-done:
		}
	}()

	return func() {
		close(done)
		signal.Stop(ch)
	}
}
