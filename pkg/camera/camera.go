// Package camera describes the platform camera framework the coordinator drives:
// providers that enumerate and open devices, devices that build capture sessions
// over a set of surfaces, and sessions that accept capture requests.
//
// Every state change a platform reports is delivered through a callback, possibly
// on another goroutine. Callers must not assume the callback runs before the call
// that triggered it returns.
package camera

import (
	"errors"
)

var (
	ErrClosed        = errors.New("camera: closed")
	ErrNoDevice      = errors.New("camera: no device available")
	ErrUnknownTarget = errors.New("camera: request target is not part of the session")
)

// Provider enumerates and opens camera devices.
type Provider interface {
	// Devices returns the ids of the cameras the provider can open, in platform order.
	Devices() ([]string, error)
	// Characteristics returns the capability metadata of a device.
	Characteristics(id string) (Characteristics, error)
	// Open starts opening a device. The outcome is reported through cb.
	Open(id string, cb DeviceCallback) error
}

// Device is an opened camera handle.
type Device interface {
	ID() string
	// CreateSession starts configuring a capture session bound to surfaces.
	// Any session previously created on this device is closed first.
	CreateSession(surfaces []Surface, cb SessionCallback) error
	Close() error
}

// Session is a configured capture session.
type Session interface {
	// Submit hands a request to the session, once or repeatedly. A repeating
	// request replaces the previous one.
	Submit(req Request, repeating bool) error
	Close() error
}

// Surface is a frame target: the display, a still-image receiver or an encoder input.
type Surface interface {
	Name() string
	Size() (width, height int)
	// WriteFrame hands one encoded frame to the surface. Implementations must
	// not retain frame after returning.
	WriteFrame(frame []byte)
}

type DeviceState int

const (
	DeviceOpened DeviceState = iota
	DeviceDisconnected
	DeviceError
)

func (s DeviceState) String() string {
	switch s {
	case DeviceOpened:
		return "opened"
	case DeviceDisconnected:
		return "disconnected"
	case DeviceError:
		return "error"
	}
	return "unknown"
}

type DeviceEvent struct {
	State  DeviceState
	Device Device
	Err    error
}

type DeviceCallback func(DeviceEvent)

type SessionState int

const (
	SessionConfigured SessionState = iota
	SessionConfigureFailed
)

func (s SessionState) String() string {
	if s == SessionConfigured {
		return "configured"
	}
	return "configure-failed"
}

type SessionEvent struct {
	State   SessionState
	Session Session
	Err     error
}

type SessionCallback func(SessionEvent)

// MaxSize returns the largest width and height among surfaces.
func MaxSize(surfaces []Surface) (width, height int) {
	for _, s := range surfaces {
		w, h := s.Size()
		if w*h > width*height {
			width, height = w, h
		}
	}
	return
}

// Contains reports whether target is one of surfaces.
func Contains(surfaces []Surface, target Surface) bool {
	for _, s := range surfaces {
		if s == target {
			return true
		}
	}
	return false
}
