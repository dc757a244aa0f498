//go:build windows

package app

import (
	"os"
	"os/signal"
	"syscall"
)

// setupSignalHandlers listens for shutdown signals only; Windows has no SIGUSR1
func setupSignalHandlers() (reload, shutdown chan os.Signal, cleanup func()) {
	reloadChan := make(chan os.Signal, 1)
	shutdownChan := make(chan os.Signal, 1)

	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)

	cleanup = func() {
		signal.Stop(shutdownChan)
	}

	return reloadChan, shutdownChan, cleanup
}
