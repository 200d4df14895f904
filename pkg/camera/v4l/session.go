package v4l

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/vladimirvivien/go4vl/device"

	"pocket-shutter/pkg/camera"
)

const (
	busyRetries  = 5
	busyInterval = 150 * time.Millisecond
)

type Session struct {
	dev      *Device
	surfaces []camera.Surface
	width    int
	height   int
	done     chan struct{}

	lock      sync.Mutex
	cam       *device.Device
	cancel    context.CancelFunc
	closed    bool
	repeating *camera.Request
	single    *camera.Request
}

// configure opens the stream at the largest surface size. The device may
// still be held by the previous session for a moment, so EBUSY is retried.
func (s *Session) configure(cb camera.SessionCallback) {
	var (
		cam *device.Device
		err error
	)
	for i := 0; i < busyRetries; i++ {
		cam, err = openDevice(s.dev.id, s.width, s.height, s.dev.p.fps)
		if err == nil || !isBusyErr(err) {
			break
		}
		logger.Warnf("device busy, will retry %d/%d: %v", i+1, busyRetries, err)
		time.Sleep(busyInterval)
	}
	if err != nil {
		logger.Errorf("configure session %dx%d: %s", s.width, s.height, err)
		cb(camera.SessionEvent{State: camera.SessionConfigureFailed, Err: err})
		return
	}

	ctx, cancel := context.WithCancel(s.dev.p.ctx)
	if err = cam.Start(ctx); err != nil {
		cancel()
		_ = cam.Close()
		logger.Errorf("start stream %dx%d: %s", s.width, s.height, err)
		cb(camera.SessionEvent{State: camera.SessionConfigureFailed, Err: err})
		return
	}

	s.lock.Lock()
	if s.closed {
		s.lock.Unlock()
		cancel()
		_ = cam.Close()
		return
	}
	s.cam = cam
	s.cancel = cancel
	s.lock.Unlock()

	logger.Infof("session configured in %d*%d", s.width, s.height)
	go s.pump(cam.GetOutput())
	cb(camera.SessionEvent{State: camera.SessionConfigured, Session: s})
}

// pump routes each frame to the targets of the pending single request, or to
// the repeating request when there is none.
func (s *Session) pump(frames <-chan []byte) {
	for {
		select {
		case <-s.done:
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			if len(frame) == 0 {
				continue
			}
			s.lock.Lock()
			req := s.single
			if req != nil {
				s.single = nil
			} else {
				req = s.repeating
			}
			s.lock.Unlock()
			if req == nil {
				continue
			}
			for _, t := range req.Targets() {
				t.WriteFrame(frame)
			}
		}
	}
}

func (s *Session) Submit(req camera.Request, repeating bool) error {
	for _, t := range req.Targets() {
		if !camera.Contains(s.surfaces, t) {
			return camera.ErrUnknownTarget
		}
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed || s.cam == nil {
		return camera.ErrClosed
	}
	s.applyOptions(req)
	if repeating {
		s.repeating = &req
	} else {
		s.single = &req
	}

	return nil
}

func (s *Session) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	if s.cancel != nil {
		// let the stream goroutine stop before the device is closed
		s.cancel()
		time.Sleep(100 * time.Millisecond)
		s.cancel = nil
	}
	if s.cam != nil {
		err := s.cam.Close()
		s.cam = nil
		return err
	}

	return nil
}

func isBusyErr(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "busy") || strings.Contains(s, "ebusy")
}
