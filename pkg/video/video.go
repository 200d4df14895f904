// Package video records surface frames into a container file.
package video

import (
	"errors"
	"fmt"
	"sync"

	"github.com/icza/mjpeg"
	"go.uber.org/zap"

	"pocket-shutter/pkg/camera"
)

const (
	ContainerAVI = "avi"
	CodecMJPEG   = "mjpeg"

	AudioNone = "none"
	AudioMic  = "mic"
	CodecAAC  = "aac"
)

var (
	ErrUnsupported = errors.New("video: unsupported configuration")
	ErrNotPrepared = errors.New("video: encoder not prepared")
	ErrRunning     = errors.New("video: encoder is running")
)

type Config struct {
	AudioSource string
	VideoSource string
	Container   string
	Path        string
	BitRate     int
	FrameRate   int
	Width       int
	Height      int
	VideoCodec  string
	AudioCodec  string
}

func (c Config) Validate() error {
	if c.Container != ContainerAVI {
		return fmt.Errorf("%w: container %q", ErrUnsupported, c.Container)
	}
	if c.VideoCodec != CodecMJPEG {
		return fmt.Errorf("%w: video codec %q", ErrUnsupported, c.VideoCodec)
	}
	if c.Path == "" {
		return fmt.Errorf("%w: empty output path", ErrUnsupported)
	}
	if c.Width <= 0 || c.Height <= 0 || c.FrameRate <= 0 {
		return fmt.Errorf("%w: %dx%d@%d", ErrUnsupported, c.Width, c.Height, c.FrameRate)
	}
	return nil
}

// Ext is the file extension of a container.
func Ext(container string) string {
	return "." + container
}

// Encoder writes the frames of its input surface into an AVI file. It moves
// through Configure, Prepare, Start and Stop; Reset abandons it at any point.
type Encoder struct {
	logger *zap.SugaredLogger

	lock     sync.Mutex
	cfg      Config
	aw       mjpeg.AviWriter
	surface  *inputSurface
	started  bool
	failed   bool
	cnt      int
	onError  func(error)
	prepared bool
}

func NewEncoder(logger *zap.SugaredLogger) *Encoder {
	return &Encoder{logger: logger}
}

func (e *Encoder) Configure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.lock.Lock()
	defer e.lock.Unlock()
	if e.prepared {
		return ErrRunning
	}
	if cfg.AudioSource != "" && cfg.AudioSource != AudioNone {
		e.logger.Warnf("audio source %q is not supported, recording video only", cfg.AudioSource)
	}
	if cfg.BitRate > 0 {
		e.logger.Debugf("mjpeg ignores bit rate %d", cfg.BitRate)
	}
	e.cfg = cfg

	return nil
}

// Prepare opens the output file and returns the input surface. onError is
// called at most once, off the caller's goroutine, if writing a frame fails.
func (e *Encoder) Prepare(onError func(error)) (camera.Surface, error) {
	e.lock.Lock()
	defer e.lock.Unlock()
	if e.prepared {
		return nil, ErrRunning
	}
	if e.cfg.Path == "" {
		return nil, ErrNotPrepared
	}
	aw, err := mjpeg.New(e.cfg.Path, int32(e.cfg.Width), int32(e.cfg.Height), int32(e.cfg.FrameRate))
	if err != nil {
		return nil, err
	}
	e.aw = aw
	e.onError = onError
	e.prepared = true
	e.failed = false
	e.cnt = 0
	e.surface = &inputSurface{e: e, width: e.cfg.Width, height: e.cfg.Height}

	return e.surface, nil
}

// Start begins accepting frames. Frames written before Start are dropped.
func (e *Encoder) Start() error {
	e.lock.Lock()
	defer e.lock.Unlock()
	if !e.prepared {
		return ErrNotPrepared
	}
	e.started = true
	e.logger.Infof("recording %s in %d*%d@%d", e.cfg.Path, e.cfg.Width, e.cfg.Height, e.cfg.FrameRate)

	return nil
}

// Stop finalizes the file and returns the number of frames written.
func (e *Encoder) Stop() (int, error) {
	e.lock.Lock()
	defer e.lock.Unlock()
	if !e.prepared {
		return 0, ErrNotPrepared
	}
	cnt := e.cnt
	err := e.aw.Close()
	e.release()
	if err != nil {
		return cnt, err
	}
	e.logger.Infof("recorded %d frames to %s", cnt, e.cfg.Path)

	return cnt, nil
}

// Reset drops any prepared output without reporting errors. The caller owns
// removing the file.
func (e *Encoder) Reset() {
	e.lock.Lock()
	defer e.lock.Unlock()
	if !e.prepared {
		return
	}
	if err := e.aw.Close(); err != nil {
		e.logger.Debugf("reset encoder: %s", err)
	}
	e.release()
}

func (e *Encoder) Running() bool {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.started
}

func (e *Encoder) Frames() int {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.cnt
}

func (e *Encoder) Ext() string {
	e.lock.Lock()
	defer e.lock.Unlock()
	if e.cfg.Container == "" {
		return Ext(ContainerAVI)
	}
	return Ext(e.cfg.Container)
}

// release must be called with lock held.
func (e *Encoder) release() {
	e.aw = nil
	e.surface = nil
	e.prepared = false
	e.started = false
	e.onError = nil
}

func (e *Encoder) add(s *inputSurface, frame []byte) {
	e.lock.Lock()
	defer e.lock.Unlock()
	if e.surface != s || !e.started || e.failed {
		return
	}
	if err := e.aw.AddFrame(frame); err != nil {
		e.failed = true
		e.logger.Errorf("add frame %d to %s: %s", e.cnt, e.cfg.Path, err)
		if e.onError != nil {
			go e.onError(err)
		}
		return
	}
	e.cnt++
}

type inputSurface struct {
	e      *Encoder
	width  int
	height int
}

func (s *inputSurface) Name() string {
	return fmt.Sprintf("encoder-%dx%d", s.width, s.height)
}

func (s *inputSurface) Size() (int, int) {
	return s.width, s.height
}

func (s *inputSurface) WriteFrame(frame []byte) {
	s.e.add(s, frame)
}
