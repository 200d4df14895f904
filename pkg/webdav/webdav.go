// Package webdav exports the media directory over WebDAV on demand.
package webdav

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/webdav"
)

type Webdav struct {
	ctx    context.Context
	port   int
	dir    string
	logger *zap.SugaredLogger

	lock   sync.Mutex
	cancel context.CancelFunc
	addr   string
}

func New(ctx context.Context, port int, dir string, logger *zap.SugaredLogger) *Webdav {
	return &Webdav{
		ctx:    ctx,
		port:   port,
		dir:    dir,
		logger: logger,
	}
}

// Start serves the directory and returns the listen address. Starting a
// running server returns its address.
func (w *Webdav) Start() (string, error) {
	w.lock.Lock()
	defer w.lock.Unlock()
	if w.cancel != nil {
		return w.addr, nil
	}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", w.port))
	if err != nil {
		return "", err
	}
	newCtx, cancel := context.WithCancel(w.ctx)
	w.cancel = cancel
	w.addr = ln.Addr().String()
	w.serve(newCtx, ln)
	w.logger.Infof("webdav serving %s on %s", w.dir, w.addr)

	return w.addr, nil
}

// Stop reports whether a running server was stopped.
func (w *Webdav) Stop() bool {
	w.lock.Lock()
	defer w.lock.Unlock()
	if w.cancel == nil {
		return false
	}
	w.cancel()
	w.cancel = nil
	w.addr = ""

	return true
}

func (w *Webdav) Running() bool {
	w.lock.Lock()
	defer w.lock.Unlock()
	return w.cancel != nil
}

func (w *Webdav) serve(ctx context.Context, ln net.Listener) {
	h := &webdav.Handler{
		FileSystem: webdav.Dir(w.dir),
		LockSystem: webdav.NewMemLS(),
		Logger: func(r *http.Request, err error) {
			if err != nil {
				w.logger.Errorf("WEBDAV [%s]: %s, err: %s", r.Method, r.URL, err)
			}
		},
	}
	svr := &http.Server{Handler: h}

	go func() {
		if err := svr.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			w.logger.Errorf("webdav server err: %s", err)
		}
	}()
	go func() {
		<-ctx.Done()
		srcCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := svr.Shutdown(srcCtx); err != nil {
			w.logger.Errorf("shutdown webdav server err: %s", err)
		}
	}()
}
