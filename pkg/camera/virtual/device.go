package virtual

import (
	"sync"

	"pocket-shutter/pkg/camera"
)

type Device struct {
	p  *Provider
	id string
	cb camera.DeviceCallback

	lock    sync.Mutex
	session *Session
	closed  bool
}

func (d *Device) ID() string {
	return d.id
}

func (d *Device) CreateSession(surfaces []camera.Surface, cb camera.SessionCallback) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.closed {
		return camera.ErrClosed
	}
	if d.session != nil {
		_ = d.session.Close()
	}
	s := &Session{p: d.p, surfaces: append([]camera.Surface(nil), surfaces...)}
	d.session = s

	d.p.lock.Lock()
	fail := d.p.failConfigure != nil && d.p.failConfigure(surfaces)
	d.p.lock.Unlock()

	go s.configure(cb, fail)

	return nil
}

func (d *Device) Close() error {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if d.session != nil {
		_ = d.session.Close()
		d.session = nil
	}
	logger.Debugf("virtual camera %s closed", d.id)

	return nil
}
