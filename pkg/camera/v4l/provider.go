// Package v4l is the camera framework backed by V4L2 devices through go4vl.
package v4l

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/vladimirvivien/go4vl/device"
	"github.com/vladimirvivien/go4vl/v4l2"
	"go.uber.org/zap"

	"pocket-shutter/pkg/camera"
	"pocket-shutter/pkg/utils"
)

const (
	DefaultDevice = "/dev/video0"
	DefaultFPS    = 15

	probeWidth  = 320
	probeHeight = 240
)

var logger *zap.SugaredLogger

func init() {
	logger = utils.GetLogger()
}

type Provider struct {
	ctx     context.Context
	devices []string
	fps     int

	lock  sync.Mutex
	chars map[string]camera.Characteristics
}

// NewProvider serves devices, or every /dev/video* node when devices is empty.
func NewProvider(ctx context.Context, devices []string, fps int) *Provider {
	if fps <= 0 {
		fps = DefaultFPS
	}
	return &Provider{ctx: ctx, devices: devices, fps: fps, chars: make(map[string]camera.Characteristics)}
}

func (p *Provider) Devices() ([]string, error) {
	devices := p.devices
	if len(devices) == 0 {
		matches, err := filepath.Glob("/dev/video*")
		if err != nil {
			return nil, err
		}
		sort.Strings(matches)
		devices = matches
	}
	var res []string
	for _, d := range devices {
		if _, err := os.Stat(d); err == nil {
			res = append(res, d)
		}
	}
	if len(res) == 0 {
		return nil, camera.ErrNoDevice
	}

	return res, nil
}

// Characteristics returns the cached metadata of id, probing the device when
// it has not been opened yet.
func (p *Provider) Characteristics(id string) (camera.Characteristics, error) {
	p.lock.Lock()
	c, ok := p.chars[id]
	p.lock.Unlock()
	if ok {
		return c, nil
	}

	dev, err := openDevice(id, probeWidth, probeHeight, p.fps)
	if err != nil {
		return camera.Characteristics{}, err
	}
	defer dev.Close()
	c = readCharacteristics(id, dev)

	p.lock.Lock()
	p.chars[id] = c
	p.lock.Unlock()

	return c, nil
}

// Controls lists every extended control of id.
func (p *Provider) Controls(id string) ([]v4l2.Control, error) {
	dev, err := openDevice(id, probeWidth, probeHeight, p.fps)
	if err != nil {
		return nil, err
	}
	defer dev.Close()

	return v4l2.QueryAllExtControls(dev.Fd())
}

func (p *Provider) Open(id string, cb camera.DeviceCallback) error {
	fi, err := os.Stat(id)
	if err != nil {
		return fmt.Errorf("%w: %s", camera.ErrNoDevice, err)
	}
	if fi.Mode()&os.ModeCharDevice == 0 {
		return fmt.Errorf("%w: %s is not a character device", camera.ErrNoDevice, id)
	}

	go func() {
		if _, err := p.Characteristics(id); err != nil {
			logger.Warnf("open %s: %s", id, err)
			cb(camera.DeviceEvent{State: camera.DeviceError, Err: err})
			return
		}
		logger.Infof("camera %s opened", id)
		cb(camera.DeviceEvent{State: camera.DeviceOpened, Device: &Device{p: p, id: id}})
	}()

	return nil
}

func openDevice(path string, width, height, fps int) (*device.Device, error) {
	return device.Open(
		path,
		device.WithBufferSize(1),
		device.WithPixFormat(v4l2.PixFormat{
			PixelFormat: v4l2.PixelFmtJPEG,
			Width:       uint32(width),
			Height:      uint32(height),
		}),
		device.WithFPS(uint32(fps)),
	)
}
