package utils

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func WatchSignal() {
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGTERM, syscall.SIGINT)
	<-signalCh
}

// ListenAndServe serves h on port until SIGINT or SIGTERM arrives, then shuts
// the server down. A listen error also ends the wait.
func ListenAndServe(h http.Handler, port int) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: h,
	}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan struct{})
	go func() {
		WatchSignal()
		close(sigCh)
	}()

	var err error
	select {
	case err = <-errCh:
		logger.Errorf("listen: %s", err)
	case <-sigCh:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if e := srv.Shutdown(ctx); e != nil {
		logger.Warnf("server shutdown: %s", e)
	}
	logger.Info("server shutdown")

	return err
}
