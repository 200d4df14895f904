package v4l

import (
	"sync"

	"pocket-shutter/pkg/camera"
)

type Device struct {
	p  *Provider
	id string

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
	width, height := camera.MaxSize(surfaces)
	s := &Session{
		dev:      d,
		surfaces: append([]camera.Surface(nil), surfaces...),
		width:    width,
		height:   height,
		done:     make(chan struct{}),
	}
	d.session = s
	go s.configure(cb)

	return nil
}

func (d *Device) Close() error {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	logger.Infof("camera %s closed", d.id)
	if d.session != nil {
		err := d.session.Close()
		d.session = nil
		return err
	}

	return nil
}
