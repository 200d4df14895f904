// Package virtual is an in-process camera framework that renders color bars.
// It backs headless runs and tests, and can be told to fail at each step.
package virtual

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"pocket-shutter/pkg/camera"
	"pocket-shutter/pkg/utils"
	"pocket-shutter/pkg/utils/image"
)

const (
	DefaultDevice = "virtual0"
	DefaultFPS    = 30

	jpegQuality = 80
)

var (
	ErrInjected = errors.New("virtual: injected failure")

	logger *zap.SugaredLogger
)

func init() {
	logger = utils.GetLogger()
}

type Provider struct {
	devices []string
	fps     int

	lock          sync.Mutex
	frames        map[[2]int][]byte
	opened        []*Device
	failOpen      bool
	failConfigure func([]camera.Surface) bool
	failSubmit    func(camera.Request) bool
	active        int
	maxActive     int
	sessions      int
}

func New(devices []string, fps int) *Provider {
	if len(devices) == 0 {
		devices = []string{DefaultDevice}
	}
	if fps <= 0 {
		fps = DefaultFPS
	}
	return &Provider{devices: devices, fps: fps, frames: make(map[[2]int][]byte)}
}

func (p *Provider) Devices() ([]string, error) {
	return slices.Clone(p.devices), nil
}

func (p *Provider) Characteristics(id string) (camera.Characteristics, error) {
	if !slices.Contains(p.devices, id) {
		return camera.Characteristics{}, camera.ErrNoDevice
	}
	return camera.Characteristics{
		ID:   id,
		Name: "Virtual Camera",
		Modes: map[camera.OptionKey][]int32{
			camera.OptionAEMode:  {camera.AEModeOff, camera.AEModeOn},
			camera.OptionAWBMode: {camera.AWBModeOff, camera.AWBModeAuto},
			camera.OptionAFMode:  {camera.AFModeOff, camera.AFModeContinuousPicture},
		},
		Ranges: map[camera.OptionKey]camera.Range{
			camera.OptionAECompensation: {Min: -12, Max: 12, Step: 1},
			camera.OptionSensitivity:    {Min: 100, Max: 3200, Step: 100},
		},
	}, nil
}

func (p *Provider) Open(id string, cb camera.DeviceCallback) error {
	if !slices.Contains(p.devices, id) {
		return camera.ErrNoDevice
	}
	p.lock.Lock()
	fail := p.failOpen
	p.lock.Unlock()

	go func() {
		if fail {
			cb(camera.DeviceEvent{State: camera.DeviceError, Err: ErrInjected})
			return
		}
		d := &Device{p: p, id: id, cb: cb}
		p.lock.Lock()
		p.opened = append(p.opened, d)
		p.lock.Unlock()
		cb(camera.DeviceEvent{State: camera.DeviceOpened, Device: d})
	}()

	return nil
}

// SetFailOpen makes later Open calls report a device error.
func (p *Provider) SetFailOpen(fail bool) {
	p.lock.Lock()
	p.failOpen = fail
	p.lock.Unlock()
}

// SetFailConfigure makes session configuration fail whenever f returns true.
func (p *Provider) SetFailConfigure(f func(surfaces []camera.Surface) bool) {
	p.lock.Lock()
	p.failConfigure = f
	p.lock.Unlock()
}

// SetFailSubmit makes Submit return ErrInjected whenever f returns true.
func (p *Provider) SetFailSubmit(f func(req camera.Request) bool) {
	p.lock.Lock()
	p.failSubmit = f
	p.lock.Unlock()
}

// Disconnect reports every open device as disconnected.
func (p *Provider) Disconnect() {
	p.lock.Lock()
	opened := p.opened
	p.opened = nil
	p.lock.Unlock()

	for _, d := range opened {
		_ = d.Close()
		d.cb(camera.DeviceEvent{State: camera.DeviceDisconnected, Device: d})
	}
}

// ActiveSessions is the number of configured sessions not yet closed.
func (p *Provider) ActiveSessions() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.active
}

// MaxActiveSessions is the highest ActiveSessions ever observed.
func (p *Provider) MaxActiveSessions() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.maxActive
}

// Sessions is the number of sessions configured so far.
func (p *Provider) Sessions() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.sessions
}

// Frame returns the JPEG test pattern for a size.
func (p *Provider) Frame(width, height int) ([]byte, error) {
	key := [2]int{width, height}
	p.lock.Lock()
	f, ok := p.frames[key]
	p.lock.Unlock()
	if ok {
		return f, nil
	}

	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("virtual: invalid frame size %dx%d", width, height)
	}
	f, err := image.EncodeJPEGBytes(image.ColorBars(width, height, 0), jpegQuality)
	if err != nil {
		return nil, err
	}
	p.lock.Lock()
	p.frames[key] = f
	p.lock.Unlock()

	return f, nil
}

func (p *Provider) sessionOpened() {
	p.lock.Lock()
	p.active++
	p.sessions++
	if p.active > p.maxActive {
		p.maxActive = p.active
	}
	p.lock.Unlock()
}

func (p *Provider) sessionClosed() {
	p.lock.Lock()
	p.active--
	p.lock.Unlock()
}

func (p *Provider) interval() time.Duration {
	return time.Second / time.Duration(p.fps)
}
