package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/muckrock/foia-coach-api/internal/common/logging"
)

const defaultShutdownTimeout = 15 * time.Second

// Trigger types
const (
	TriggerReload   = "reload"
	TriggerShutdown = "shutdown"
)

// Trigger records a signal that interrupted Run
type Trigger struct {
	Type   string
	Signal os.Signal
}

// Run calls fn until it returns or a shutdown signal arrives. A reload
// signal calls onReload while fn keeps running.
func Run(logger *logging.Logger, shutdownTimeout time.Duration, onReload func(), fn func(context.Context) error) error {
	reloadChan, shutdownChan, cleanup := setupSignalHandlers()
	defer cleanup()
	return run(logger, shutdownTimeout, reloadChan, shutdownChan, onReload, fn)
}

func run(logger *logging.Logger, shutdownTimeout time.Duration, reload, shutdown <-chan os.Signal, onReload func(), fn func(context.Context) error) error {
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(ctx)
	}()

	for {
		trigger, finished, err := awaitTrigger(logger, reload, shutdown, done)
		if finished {
			return err
		}
		if trigger.Type == TriggerReload {
			if onReload != nil {
				onReload()
			}
			continue
		}

		logger.InfoKV("Shutdown triggered, gracefully stopping", "signal", trigger.Signal)
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(shutdownTimeout):
			logger.WarnKV("Shutdown timed out", "timeout", shutdownTimeout)
			return fmt.Errorf("shutdown timed out after %s", shutdownTimeout)
		}
	}
}

// awaitTrigger waits for a signal or for the application to finish
func awaitTrigger(logger *logging.Logger, reload, shutdown <-chan os.Signal, done <-chan error) (Trigger, bool, error) {
	select {
	case err := <-done:
		return Trigger{}, true, err
	case sig := <-reload:
		logger.InfoKV("Reload signal received", "signal", sig)
		return Trigger{Type: TriggerReload, Signal: sig}, false, nil
	case sig := <-shutdown:
		logger.InfoKV("Shutdown signal received", "signal", sig)
		return Trigger{Type: TriggerShutdown, Signal: sig}, false, nil
	}
}
