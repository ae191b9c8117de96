package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
)

// StartHttpServer serves the coordination control plane and blocks until
// SIGINT or SIGTERM, then shuts down gracefully so a running round can still
// checkpoint.
func StartHttpServer(logger hclog.Logger, bindAddress string, defaultRouter http.Handler) {
	server := &http.Server{
		Addr:     bindAddress,
		Handler:  defaultRouter,
		ErrorLog: logger.StandardLogger(&hclog.StandardLoggerOptions{}),
	}

	go func() {
		logger.Info(fmt.Sprintf("Starting coordination server on %s", bindAddress))

		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Error starting server", "error", err)
			os.Exit(1)
		}
	}()

	// trap sigterm or interrupt and gracefully shutdown the server
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt)
	signal.Notify(signalChan, syscall.SIGTERM)

	sig := <-signalChan
	logger.Info(fmt.Sprintf("Got signal: %s", sig))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	server.Shutdown(ctx)
}
