// Package coordinator owns the camera device and its capture session. A single
// goroutine handles every request and platform callback in order, so no state
// is shared between goroutines.
package coordinator

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"pocket-shutter/pkg/camera"
	"pocket-shutter/pkg/clock"
	"pocket-shutter/pkg/notice"
	"pocket-shutter/pkg/permission"
	"pocket-shutter/pkg/video"
)

type State string

const (
	StateClosed         State = "closed"
	StateOpening        State = "opening"
	StateIdle           State = "idle"
	StatePreviewing     State = "previewing"
	StateCapturingPhoto State = "capturing_photo"
	StateRecording      State = "recording"
)

const eventQueueSize = 64

type Notifier interface {
	Notify(level notice.Level, msg string)
}

type Encoder interface {
	Configure(cfg video.Config) error
	Prepare(onError func(error)) (camera.Surface, error)
	Start() error
	Stop() (int, error)
	Reset()
}

type Storage interface {
	PhotoPath(t time.Time) string
	VideoPath(t time.Time, ext string) string
	WriteAll(path string, data []byte) error
	Remove(path string) error
}

type VideoConfig struct {
	Width       int
	Height      int
	FrameRate   int
	BitRate     int
	Container   string
	VideoCodec  string
	AudioCodec  string
	AudioSource string
}

type Config struct {
	// DeviceID selects the camera; empty picks the first one.
	DeviceID    string
	PhotoWidth  int
	PhotoHeight int
	Video       VideoConfig
}

type Options struct {
	Provider camera.Provider
	Gate     *permission.Gate
	Encoder  Encoder
	Storage  Storage
	Clock    clock.Clock
	Notifier Notifier
	Config   Config
}

// Status is a point-in-time copy of the coordinator state.
type Status struct {
	State         State     `json:"state"`
	Device        string    `json:"device,omitempty"`
	Display       bool      `json:"display"`
	Paused        bool      `json:"paused"`
	PendingOpen   bool      `json:"pendingOpen"`
	PhotoInFlight bool      `json:"photoInFlight"`
	Recording     bool      `json:"recording"`
	RecordingPath string    `json:"recordingPath,omitempty"`
	LastPhoto     string    `json:"lastPhoto,omitempty"`
	LastVideo     string    `json:"lastVideo,omitempty"`
	LastError     string    `json:"lastError,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type purpose int

const (
	purposePreview purpose = iota
	purposePhoto
	purposeRecord
)

func (p purpose) String() string {
	switch p {
	case purposePreview:
		return "preview"
	case purposePhoto:
		return "photo"
	}
	return "record"
}

type (
	evtOpen             struct{}
	evtClose            struct{}
	evtStartPreview     struct{}
	evtCapturePhoto     struct{}
	evtStartRecording   struct{}
	evtStopRecording    struct{}
	evtPause            struct{}
	evtResume           struct{}
	evtSurfaceCreated   struct{ s camera.Surface }
	evtSurfaceChanged   struct{ width, height int }
	evtSurfaceDestroyed struct{}
	evtPermissionResult struct{ r permission.Result }
	evtDevice           struct {
		gen uint64
		e   camera.DeviceEvent
	}
	evtSession struct {
		gen uint64
		p   purpose
		e   camera.SessionEvent
	}
	evtImageAvailable struct {
		gen uint64
		img *camera.Image
	}
	evtPhotoSaved struct {
		gen  uint64
		path string
		err  error
	}
	evtEncoderError struct {
		gen uint64
		err error
	}
)

type Coordinator struct {
	logger *zap.SugaredLogger
	opts   Options

	events   chan any
	quit     chan struct{}
	done     chan struct{}
	quitOnce sync.Once
	status   atomic.Pointer[Status]

	// owned by the loop goroutine
	fsm         *fsm.FSM
	chars       camera.Characteristics
	device      camera.Device
	deviceGen   uint64
	session     camera.Session
	sessionGen  uint64
	pendingReq  camera.Request
	display     camera.Surface
	paused      bool
	pendingOpen bool

	photoInFlight bool
	photoAt       time.Time
	receiver      *camera.ImageReceiver

	recordPath  string
	recording   bool
	stopPending bool

	lastPhoto string
	lastVideo string
	lastErr   error
}

func New(opts Options, logger *zap.SugaredLogger) *Coordinator {
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	c := &Coordinator{
		logger: logger,
		opts:   opts,
		events: make(chan any, eventQueueSize),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	c.fsm = fsm.NewFSM(
		string(StateClosed),
		fsm.Events{
			{Name: "open", Src: []string{string(StateClosed)}, Dst: string(StateOpening)},
			{Name: "opened", Src: []string{string(StateOpening)}, Dst: string(StateIdle)},
			{Name: "preview", Src: []string{string(StateIdle), string(StatePreviewing)}, Dst: string(StatePreviewing)},
			{Name: "capture", Src: []string{string(StateIdle), string(StatePreviewing)}, Dst: string(StateCapturingPhoto)},
			{Name: "record", Src: []string{string(StateIdle), string(StatePreviewing)}, Dst: string(StateRecording)},
			{Name: "settle", Src: []string{string(StatePreviewing), string(StateCapturingPhoto), string(StateRecording)}, Dst: string(StateIdle)},
			{Name: "close", Src: []string{string(StateOpening), string(StateIdle), string(StatePreviewing), string(StateCapturingPhoto), string(StateRecording)}, Dst: string(StateClosed)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				c.logger.Debugf("camera state %s -> %s", e.Src, e.Dst)
			},
		},
	)
	c.publish()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Errorf("coordinator panic: %v\n%s", r, debug.Stack())
			}
		}()
		c.loop()
	}()

	return c
}

func (c *Coordinator) Open()           { c.post(evtOpen{}) }
func (c *Coordinator) Close()          { c.post(evtClose{}) }
func (c *Coordinator) StartPreview()   { c.post(evtStartPreview{}) }
func (c *Coordinator) CapturePhoto()   { c.post(evtCapturePhoto{}) }
func (c *Coordinator) StartRecording() { c.post(evtStartRecording{}) }
func (c *Coordinator) StopRecording()  { c.post(evtStopRecording{}) }

// Pause stops a recording and closes the camera. The display binding is kept.
func (c *Coordinator) Pause() { c.post(evtPause{}) }

// Resume reopens the camera when a display and the permissions are present.
func (c *Coordinator) Resume() { c.post(evtResume{}) }

func (c *Coordinator) SurfaceCreated(s camera.Surface)  { c.post(evtSurfaceCreated{s: s}) }
func (c *Coordinator) SurfaceChanged(width, height int) { c.post(evtSurfaceChanged{width, height}) }
func (c *Coordinator) SurfaceDestroyed()                { c.post(evtSurfaceDestroyed{}) }

func (c *Coordinator) Status() Status {
	return *c.status.Load()
}

// Shutdown closes the camera, finalizing any recording, and stops the loop.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.quitOnce.Do(func() { close(c.quit) })
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) post(ev any) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Coordinator) loop() {
	defer close(c.done)
	for {
		select {
		case <-c.quit:
			c.closeCamera()
			c.publish()
			c.logger.Info("coordinator stopped")
			return
		case ev := <-c.events:
			c.handle(ev)
			c.publish()
		}
	}
}

func (c *Coordinator) handle(ev any) {
	switch e := ev.(type) {
	case evtOpen:
		c.paused = false
		c.open()
	case evtClose:
		c.pendingOpen = false
		c.closeCamera()
	case evtStartPreview:
		c.startPreview()
	case evtCapturePhoto:
		c.capturePhoto()
	case evtStartRecording:
		c.startRecording()
	case evtStopRecording:
		c.stopRecording()
	case evtPause:
		c.paused = true
		c.closeCamera()
	case evtResume:
		c.paused = false
		if c.display != nil && c.opts.Gate.Has(permission.Camera) {
			c.open()
		}
	case evtSurfaceCreated:
		c.display = e.s
		if c.paused {
			return
		}
		if c.device == nil {
			c.open()
		} else {
			c.startPreview()
		}
	case evtSurfaceChanged:
		if c.device != nil {
			c.logger.Infof("display changed to %d*%d, rebuilding preview", e.width, e.height)
			c.startPreview()
		}
	case evtSurfaceDestroyed:
		c.display = nil
		c.closeCamera()
	case evtPermissionResult:
		c.onPermissionResult(e.r)
	case evtDevice:
		c.onDevice(e)
	case evtSession:
		c.onSession(e)
	case evtImageAvailable:
		c.onImageAvailable(e)
	case evtPhotoSaved:
		c.onPhotoSaved(e)
	case evtEncoderError:
		c.onEncoderError(e)
	default:
		c.logger.Warnf("unknown coordinator event %T", ev)
	}
}

func (c *Coordinator) fire(event string) {
	if err := c.fsm.Event(context.Background(), event); err != nil {
		c.logger.Debugf("camera state %s: %s: %s", c.fsm.Current(), event, err)
	}
}

func (c *Coordinator) state() State {
	return State(c.fsm.Current())
}

func (c *Coordinator) open() {
	if c.device != nil || c.state() == StateOpening {
		return
	}
	if !c.opts.Gate.Has(permission.Camera) {
		c.requestPermissions(true)
		return
	}

	id := c.opts.Config.DeviceID
	if id == "" {
		ids, err := c.opts.Provider.Devices()
		if err == nil && len(ids) == 0 {
			err = camera.ErrNoDevice
		}
		if err != nil {
			c.fail(ErrDeviceUnavailable, err, msgCameraUnavailable)
			return
		}
		id = ids[0]
	}

	c.deviceGen++
	gen := c.deviceGen
	c.fire("open")
	c.logger.Infof("opening camera %s", id)
	err := c.opts.Provider.Open(id, func(e camera.DeviceEvent) {
		c.post(evtDevice{gen: gen, e: e})
	})
	if err != nil {
		c.fire("close")
		c.fail(ErrDeviceUnavailable, err, msgCameraUnavailable)
	}
}

// requestPermissions prompts for the whole batch. Only a pending open is
// re-driven by the result.
func (c *Coordinator) requestPermissions(forOpen bool) {
	c.notify(notice.Warn, msgPermissionsRequired)
	if forOpen {
		if c.pendingOpen {
			return
		}
		c.pendingOpen = true
	}
	c.opts.Gate.RequestPermissions(func(r permission.Result) {
		c.post(evtPermissionResult{r: r})
	})
}

func (c *Coordinator) onPermissionResult(r permission.Result) {
	if !c.pendingOpen {
		c.logger.Infof("permission result %v, no pending camera open", r)
		return
	}
	c.pendingOpen = false
	if !r.Granted(permission.Camera) {
		c.fail(ErrPermissionDenied, fmt.Errorf("%s denied", permission.Camera), msgPermissionsRequired)
		return
	}
	c.open()
}

func (c *Coordinator) onDevice(e evtDevice) {
	if e.gen != c.deviceGen {
		if e.e.State == camera.DeviceOpened && e.e.Device != nil {
			c.logger.Debugf("closing stale camera %s", e.e.Device.ID())
			_ = e.e.Device.Close()
		}
		return
	}

	switch e.e.State {
	case camera.DeviceOpened:
		c.device = e.e.Device
		chars, err := c.opts.Provider.Characteristics(c.device.ID())
		if err != nil {
			c.logger.Warnf("characteristics of %s: %s", c.device.ID(), err)
		}
		c.chars = chars
		c.fire("opened")
		c.startPreview()
	case camera.DeviceDisconnected:
		c.logger.Warnf("camera disconnected")
		c.closeCamera()
		c.notify(notice.Warn, msgCameraDisconnected)
	case camera.DeviceError:
		c.closeCamera()
		c.fail(ErrDeviceUnavailable, e.e.Err, msgCameraUnavailable)
	}
}

// startPreview rebuilds the session over the display alone. A photo or a
// recording in progress is ended first.
func (c *Coordinator) startPreview() {
	if c.device == nil || c.display == nil {
		c.logger.Debugf("preview needs device and display")
		return
	}
	if c.photoInFlight || c.recordPath != "" {
		c.teardownSession()
		c.fire("settle")
	} else {
		c.closeSession()
		if c.state() == StatePreviewing {
			c.fire("settle")
		}
	}

	gen := c.nextSession()
	c.pendingReq = buildRequest(camera.TemplatePreview, previewTuning, c.chars, c.display)
	c.createSession(gen, purposePreview, c.display)
}

func (c *Coordinator) nextSession() uint64 {
	c.sessionGen++
	return c.sessionGen
}

func (c *Coordinator) createSession(gen uint64, p purpose, surfaces ...camera.Surface) bool {
	err := c.device.CreateSession(surfaces, func(e camera.SessionEvent) {
		c.post(evtSession{gen: gen, p: p, e: e})
	})
	if err != nil {
		c.logger.Errorf("create %s session: %s", p, err)
		c.closeCamera()
		c.fail(ErrDeviceUnavailable, err, msgCameraUnavailable)
		return false
	}
	return true
}

func (c *Coordinator) onSession(e evtSession) {
	if e.gen != c.sessionGen {
		if e.e.State == camera.SessionConfigured && e.e.Session != nil {
			_ = e.e.Session.Close()
		}
		return
	}

	if e.e.State == camera.SessionConfigureFailed {
		switch e.p {
		case purposePreview:
			c.fail(ErrSessionConfigureFailed, e.e.Err, msgConfigureCamera)
		case purposePhoto:
			c.endPhoto()
			c.fail(ErrSessionConfigureFailed, e.e.Err, msgConfigurePhoto)
			c.restorePreview()
		case purposeRecord:
			c.abortRecording()
			c.fail(ErrSessionConfigureFailed, e.e.Err, msgConfigureVideo)
			c.restorePreview()
		}
		return
	}

	c.session = e.e.Session
	switch e.p {
	case purposePreview:
		if err := c.session.Submit(c.pendingReq, true); err != nil {
			c.fail(ErrSessionConfigureFailed, err, msgConfigureCamera)
			return
		}
		c.fire("preview")
	case purposePhoto:
		if err := c.session.Submit(c.pendingReq, false); err != nil {
			c.endPhoto()
			c.fail(ErrSessionConfigureFailed, err, msgConfigurePhoto)
			c.restorePreview()
		}
	case purposeRecord:
		c.onRecordConfigured()
	}
}

// restorePreview returns to Idle and rebuilds the preview.
func (c *Coordinator) restorePreview() {
	c.closeSession()
	c.fire("settle")
	c.startPreview()
}

func (c *Coordinator) closeSession() {
	if c.session != nil {
		if err := c.session.Close(); err != nil {
			c.logger.Warnf("close session: %s", err)
		}
		c.session = nil
	}
	c.sessionGen++
}

// teardownSession closes the session and ends whatever capture it served.
func (c *Coordinator) teardownSession() {
	c.closeSession()
	if c.photoInFlight {
		c.logger.Info("photo capture superseded")
		c.endPhoto()
	}
	if c.recording {
		c.finishRecording()
	} else if c.recordPath != "" {
		c.abortRecording()
	}
}

// closeCamera is idempotent and safe in every state.
func (c *Coordinator) closeCamera() {
	c.teardownSession()
	if c.device != nil {
		if err := c.device.Close(); err != nil {
			c.logger.Warnf("close camera: %s", err)
		}
		c.device = nil
		c.logger.Info("camera closed")
	}
	c.deviceGen++
	c.fire("close")
}

func (c *Coordinator) fail(kind error, cause error, msg string) {
	if cause == nil {
		c.lastErr = kind
	} else {
		c.lastErr = fmt.Errorf("%w: %s", kind, cause)
	}
	c.logger.Warnf("%s: %s", msg, c.lastErr)
	c.notify(notice.Error, msg)
}

func (c *Coordinator) notify(level notice.Level, msg string) {
	if c.opts.Notifier != nil {
		c.opts.Notifier.Notify(level, msg)
	}
}

func (c *Coordinator) publish() {
	s := &Status{
		State:         c.state(),
		Display:       c.display != nil,
		Paused:        c.paused,
		PendingOpen:   c.pendingOpen,
		PhotoInFlight: c.photoInFlight,
		Recording:     c.recording,
		RecordingPath: c.recordPath,
		LastPhoto:     c.lastPhoto,
		LastVideo:     c.lastVideo,
		UpdatedAt:     time.Now(),
	}
	if c.device != nil {
		s.Device = c.device.ID()
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	c.status.Store(s)
}
