package virtual

import (
	"sync"
	"time"

	"pocket-shutter/pkg/camera"
)

type Session struct {
	p        *Provider
	surfaces []camera.Surface

	lock       sync.Mutex
	configured bool
	closed     bool
	stop       chan struct{}
}

func (s *Session) configure(cb camera.SessionCallback, fail bool) {
	if fail {
		cb(camera.SessionEvent{State: camera.SessionConfigureFailed, Err: ErrInjected})
		return
	}

	s.lock.Lock()
	if s.closed {
		s.lock.Unlock()
		return
	}
	s.configured = true
	s.p.sessionOpened()
	s.lock.Unlock()

	cb(camera.SessionEvent{State: camera.SessionConfigured, Session: s})
}

func (s *Session) Submit(req camera.Request, repeating bool) error {
	for _, t := range req.Targets() {
		if !camera.Contains(s.surfaces, t) {
			return camera.ErrUnknownTarget
		}
	}

	s.p.lock.Lock()
	fail := s.p.failSubmit != nil && s.p.failSubmit(req)
	s.p.lock.Unlock()
	if fail {
		return ErrInjected
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed || !s.configured {
		return camera.ErrClosed
	}

	if !repeating {
		go s.deliver(req)
		return nil
	}
	if s.stop != nil {
		close(s.stop)
	}
	s.stop = make(chan struct{})
	go s.repeat(req, s.stop)

	return nil
}

func (s *Session) repeat(req camera.Request, stop <-chan struct{}) {
	ticker := time.NewTicker(s.p.interval())
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.deliver(req)
		}
	}
}

func (s *Session) deliver(req camera.Request) {
	for _, t := range req.Targets() {
		s.lock.Lock()
		closed := s.closed
		s.lock.Unlock()
		if closed {
			return
		}
		w, h := t.Size()
		frame, err := s.p.Frame(w, h)
		if err != nil {
			logger.Warnf("virtual frame for %s: %s", t.Name(), err)
			continue
		}
		t.WriteFrame(frame)
	}
}

func (s *Session) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
	if s.configured {
		s.p.sessionClosed()
	}

	return nil
}
