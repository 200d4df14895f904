package coordinator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"pocket-shutter/pkg/camera"
	"pocket-shutter/pkg/camera/virtual"
	"pocket-shutter/pkg/clock"
	"pocket-shutter/pkg/notice"
	"pocket-shutter/pkg/permission"
	"pocket-shutter/pkg/storage"
	"pocket-shutter/pkg/types"
	"pocket-shutter/pkg/video"
)

type screen struct {
	mu     sync.Mutex
	frames int
}

func (s *screen) Name() string     { return "screen" }
func (s *screen) Size() (int, int) { return 64, 48 }
func (s *screen) WriteFrame(_ []byte) {
	s.mu.Lock()
	s.frames++
	s.mu.Unlock()
}

func (s *screen) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// tapEncoder keeps the error callback of the last Prepare.
type tapEncoder struct {
	*video.Encoder

	mu      sync.Mutex
	onError func(error)
}

func (e *tapEncoder) Prepare(onError func(error)) (camera.Surface, error) {
	e.mu.Lock()
	e.onError = onError
	e.mu.Unlock()
	return e.Encoder.Prepare(onError)
}

func (e *tapEncoder) fail(err error) {
	e.mu.Lock()
	onError := e.onError
	e.mu.Unlock()
	if onError != nil {
		onError(err)
	}
}

type fixture struct {
	c        *Coordinator
	provider *virtual.Provider
	storage  *storage.Storage
	perms    *permission.Store
	notices  *notice.Broadcaster
	encoder  *video.Encoder
	tap      *tapEncoder
	screen   *screen
}

func newFixture(t *testing.T, autoGrant bool) *fixture {
	t.Helper()
	logger := zap.NewNop().Sugar()

	st, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	perms, err := permission.NewStore(permission.Options{AutoGrant: autoGrant}, logger)
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{
		provider: virtual.New(nil, 200),
		storage:  st,
		perms:    perms,
		notices:  notice.NewBroadcaster(),
		encoder:  video.NewEncoder(logger),
		screen:   &screen{},
	}
	f.tap = &tapEncoder{Encoder: f.encoder}
	f.c = New(Options{
		Provider: f.provider,
		Gate:     permission.NewGate(perms),
		Encoder:  f.tap,
		Storage:  st,
		Clock:    clock.System{},
		Notifier: f.notices,
		Config: Config{
			PhotoWidth:  96,
			PhotoHeight: 72,
			Video: VideoConfig{
				Width:       64,
				Height:      48,
				FrameRate:   30,
				BitRate:     1000000,
				Container:   video.ContainerAVI,
				VideoCodec:  video.CodecMJPEG,
				AudioCodec:  video.CodecAAC,
				AudioSource: video.AudioMic,
			},
		},
	}, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := f.c.Shutdown(ctx); err != nil {
			t.Errorf("shutdown: %s", err)
		}
	})

	return f
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func (f *fixture) waitState(t *testing.T, s State) {
	t.Helper()
	waitFor(t, "state "+string(s), func() bool { return f.c.Status().State == s })
}

// preview brings the fixture to a running preview.
func (f *fixture) preview(t *testing.T) {
	t.Helper()
	f.c.SurfaceCreated(f.screen)
	f.waitState(t, StatePreviewing)
	waitFor(t, "preview frames", func() bool { return f.screen.count() > 0 })
}

func (f *fixture) list(t *testing.T, kind storage.Kind) []types.File {
	t.Helper()
	files, err := f.storage.List(kind)
	if err != nil {
		t.Fatal(err)
	}
	return files
}

func (f *fixture) noticed(msg string) bool {
	for _, n := range f.notices.Recent() {
		if strings.HasPrefix(n.Msg, msg) {
			return true
		}
	}
	return false
}

func TestSurfaceCreatedOpensAndPreviews(t *testing.T) {
	f := newFixture(t, true)
	f.preview(t)

	s := f.c.Status()
	if s.Device != virtual.DefaultDevice || !s.Display {
		t.Fatalf("unexpected status %+v", s)
	}
	if f.provider.ActiveSessions() != 1 {
		t.Fatalf("active sessions = %d", f.provider.ActiveSessions())
	}
}

func TestAtMostOneSession(t *testing.T) {
	f := newFixture(t, true)
	check := func() {
		t.Helper()
		if n := f.provider.ActiveSessions(); n > 1 {
			t.Fatalf("active sessions = %d", n)
		}
	}

	f.preview(t)
	check()
	for i := 0; i < 5; i++ {
		f.c.Close()
		f.c.Open()
		f.c.SurfaceChanged(64, 48)
		f.c.StartPreview()
		check()
	}
	f.c.Close()
	f.c.Open()
	time.Sleep(200 * time.Millisecond)
	f.waitState(t, StatePreviewing)
	check()

	f.c.CapturePhoto()
	waitFor(t, "photo", func() bool { return f.c.Status().LastPhoto != "" })
	f.waitState(t, StatePreviewing)
	check()

	f.c.Close()
	f.waitState(t, StateClosed)
	if f.provider.ActiveSessions() != 0 {
		t.Fatalf("active sessions after close = %d", f.provider.ActiveSessions())
	}
	if f.provider.MaxActiveSessions() > 1 {
		t.Fatalf("max active sessions = %d", f.provider.MaxActiveSessions())
	}
}

func TestCapturePhotoTwiceProducesOneFile(t *testing.T) {
	f := newFixture(t, true)
	f.preview(t)

	before := time.Now().UnixMilli()
	f.c.CapturePhoto()
	f.c.CapturePhoto()
	waitFor(t, "photo", func() bool { return f.c.Status().LastPhoto != "" })
	f.waitState(t, StatePreviewing)

	files := f.list(t, storage.KindPhoto)
	if len(files) != 1 {
		t.Fatalf("photos = %d, want 1", len(files))
	}
	m := regexp.MustCompile(`^photo_(\d+)\.jpg$`).FindStringSubmatch(files[0].Name)
	if m == nil {
		t.Fatalf("unexpected photo name %s", files[0].Name)
	}
	if ms, _ := strconv.ParseInt(m[1], 10, 64); ms < before || ms > time.Now().UnixMilli() {
		t.Fatalf("photo timestamp %d out of range", ms)
	}
	if f.c.Status().PhotoInFlight {
		t.Fatal("in-flight flag not cleared")
	}
	if !f.noticed("Photo saved to: ") {
		t.Fatal("missing saved notice")
	}
}

func TestCapturePhotoWithoutDisplayIsNoop(t *testing.T) {
	f := newFixture(t, true)
	f.c.Open()
	f.waitState(t, StateIdle)

	f.c.CapturePhoto()
	f.c.StartPreview()
	time.Sleep(50 * time.Millisecond)
	if s := f.c.Status(); s.State != StateIdle || s.PhotoInFlight {
		t.Fatalf("unexpected status %+v", s)
	}
	if f.provider.Sessions() != 0 {
		t.Fatal("no session expected without a display")
	}
}

func TestPhotoSubmitFailureClearsFlag(t *testing.T) {
	f := newFixture(t, true)
	f.preview(t)

	f.provider.SetFailSubmit(func(req camera.Request) bool {
		return req.Template() == camera.TemplateStillCapture
	})
	f.c.CapturePhoto()
	waitFor(t, "submit failure", func() bool {
		s := f.c.Status()
		return strings.Contains(s.LastError, ErrSessionConfigureFailed.Error()) && s.State == StatePreviewing
	})
	if f.c.Status().PhotoInFlight {
		t.Fatal("in-flight flag not cleared after submit failure")
	}

	f.provider.SetFailSubmit(nil)
	f.c.CapturePhoto()
	waitFor(t, "photo", func() bool { return f.c.Status().LastPhoto != "" })
	if n := len(f.list(t, storage.KindPhoto)); n != 1 {
		t.Fatalf("photos = %d, want 1", n)
	}
}

func TestPhotoConfigureFailureClearsFlag(t *testing.T) {
	f := newFixture(t, true)
	f.preview(t)

	f.provider.SetFailConfigure(func(s []camera.Surface) bool { return len(s) == 2 })
	f.c.CapturePhoto()
	waitFor(t, "configure failure", func() bool { return f.noticed(msgConfigurePhoto) })
	f.waitState(t, StatePreviewing)
	if f.c.Status().PhotoInFlight {
		t.Fatal("in-flight flag not cleared after configure failure")
	}
}

func TestPhotoWriteFailureClearsFlag(t *testing.T) {
	f := newFixture(t, true)
	f.preview(t)

	if err := os.RemoveAll(filepath.Join(f.storage.Root(), string(storage.KindPhoto))); err != nil {
		t.Fatal(err)
	}
	f.c.CapturePhoto()
	waitFor(t, "write failure", func() bool { return f.noticed(msgSavePhoto) })
	f.waitState(t, StatePreviewing)

	s := f.c.Status()
	if s.PhotoInFlight || s.LastPhoto != "" {
		t.Fatalf("unexpected status %+v", s)
	}
	if !strings.Contains(s.LastError, ErrBufferWriteFailed.Error()) {
		t.Fatalf("last error = %q", s.LastError)
	}
}

func TestPreviewConfigureFailureSettles(t *testing.T) {
	f := newFixture(t, true)
	f.preview(t)

	f.provider.SetFailConfigure(func(s []camera.Surface) bool { return len(s) == 1 })
	f.c.SurfaceChanged(64, 48)
	waitFor(t, "configure failure", func() bool {
		return f.noticed(msgConfigureCamera) && strings.Contains(f.c.Status().LastError, ErrSessionConfigureFailed.Error())
	})

	if s := f.c.Status(); s.State != StateIdle {
		t.Fatalf("state = %s, want %s", s.State, StateIdle)
	}
	if f.provider.ActiveSessions() != 0 {
		t.Fatalf("active sessions = %d", f.provider.ActiveSessions())
	}

	f.provider.SetFailConfigure(nil)
	f.c.StartPreview()
	f.waitState(t, StatePreviewing)
}

func TestRecordingProducesOneVideo(t *testing.T) {
	f := newFixture(t, true)
	f.preview(t)

	before := time.Now().UnixMilli()
	f.c.StartRecording()
	waitFor(t, "recording", func() bool { return f.c.Status().Recording })
	after := time.Now().UnixMilli()
	if f.c.Status().State != StateRecording {
		t.Fatalf("state = %s", f.c.Status().State)
	}
	waitFor(t, "encoded frames", func() bool { return f.encoder.Frames() >= 3 })

	f.c.StopRecording()
	waitFor(t, "video", func() bool { return f.c.Status().LastVideo != "" })
	f.waitState(t, StatePreviewing)

	files := f.list(t, storage.KindVideo)
	if len(files) != 1 {
		t.Fatalf("videos = %d, want 1", len(files))
	}
	m := regexp.MustCompile(`^video_(\d+)\.avi$`).FindStringSubmatch(files[0].Name)
	if m == nil {
		t.Fatalf("unexpected video name %s", files[0].Name)
	}
	if ms, _ := strconv.ParseInt(m[1], 10, 64); ms < before || ms > after {
		t.Fatalf("video timestamp %d out of range [%d, %d]", ms, before, after)
	}
	if files[0].Bytes == 0 {
		t.Fatal("empty video file")
	}
	if f.c.Status().Recording || f.encoder.Running() {
		t.Fatal("recording not stopped")
	}
	if !f.noticed("Video saved to: ") {
		t.Fatal("missing saved notice")
	}
}

func TestStopBeforeRecordingStartsKeepsVideo(t *testing.T) {
	f := newFixture(t, true)
	f.preview(t)

	f.c.StartRecording()
	f.c.StopRecording()
	waitFor(t, "video", func() bool { return f.c.Status().LastVideo != "" })
	f.waitState(t, StatePreviewing)

	if n := len(f.list(t, storage.KindVideo)); n != 1 {
		t.Fatalf("videos = %d, want 1", n)
	}
	if s := f.c.Status(); s.Recording || s.RecordingPath != "" || f.encoder.Running() {
		t.Fatalf("recording not stopped: %+v", s)
	}
}

func TestEncoderErrorStopsRecording(t *testing.T) {
	f := newFixture(t, true)
	f.preview(t)

	f.c.StartRecording()
	waitFor(t, "recording", func() bool { return f.c.Status().Recording })
	f.tap.fail(errors.New("disk full"))

	waitFor(t, "encoder failure", func() bool { return f.noticed(msgVideoFailed) })
	f.waitState(t, StatePreviewing)
	s := f.c.Status()
	if s.Recording || s.RecordingPath != "" || f.encoder.Running() {
		t.Fatalf("recording flag set: %+v", s)
	}
	if !strings.Contains(s.LastError, ErrEncoderFailure.Error()) {
		t.Fatalf("last error = %q", s.LastError)
	}
	if n := len(f.list(t, storage.KindVideo)); n != 0 {
		t.Fatalf("videos = %d, want 0", n)
	}
}

func TestRecordConfigureFailureLeavesNothing(t *testing.T) {
	f := newFixture(t, true)
	f.preview(t)

	f.provider.SetFailConfigure(func(surfaces []camera.Surface) bool {
		for _, s := range surfaces {
			if strings.HasPrefix(s.Name(), "encoder") {
				return true
			}
		}
		return false
	})
	f.c.StartRecording()
	waitFor(t, "configure failure", func() bool { return f.noticed(msgConfigureVideo) })
	f.waitState(t, StatePreviewing)

	s := f.c.Status()
	if s.Recording || s.RecordingPath != "" {
		t.Fatalf("recording flag set: %+v", s)
	}
	if f.encoder.Running() {
		t.Fatal("encoder started")
	}
	if n := len(f.list(t, storage.KindVideo)); n != 0 {
		t.Fatalf("videos = %d, want 0", n)
	}
}

func TestRecordSubmitFailureLeavesNothing(t *testing.T) {
	f := newFixture(t, true)
	f.preview(t)

	f.provider.SetFailSubmit(func(req camera.Request) bool { return req.Template() == camera.TemplateRecord })
	f.c.StartRecording()
	waitFor(t, "submit failure", func() bool { return f.noticed(msgConfigureVideo) })
	f.waitState(t, StatePreviewing)
	if f.c.Status().Recording || f.encoder.Running() {
		t.Fatal("recording must not start")
	}
	if n := len(f.list(t, storage.KindVideo)); n != 0 {
		t.Fatalf("videos = %d, want 0", n)
	}
}

func TestStartRecordingWithoutCamera(t *testing.T) {
	f := newFixture(t, true)
	f.c.StartRecording()
	waitFor(t, "notice", func() bool { return f.noticed(msgNotInitialized) })
	if f.c.Status().State != StateClosed {
		t.Fatalf("state = %s", f.c.Status().State)
	}
}

func TestPermissionDeniedThenGranted(t *testing.T) {
	f := newFixture(t, false)
	f.c.SurfaceCreated(f.screen)
	waitFor(t, "pending open", func() bool { return f.c.Status().PendingOpen })

	if s := f.c.Status(); s.State != StateClosed || s.Device != "" {
		t.Fatalf("unexpected status %+v", s)
	}
	if len(f.perms.Pending()) != len(permission.All) {
		t.Fatalf("pending = %v", f.perms.Pending())
	}
	if !f.noticed(msgPermissionsRequired) {
		t.Fatal("missing permission notice")
	}

	if err := f.perms.Resolve(permission.All); err != nil {
		t.Fatal(err)
	}
	f.waitState(t, StatePreviewing)
	if f.c.Status().PendingOpen {
		t.Fatal("pending open not cleared")
	}
}

func TestPermissionDenied(t *testing.T) {
	f := newFixture(t, false)
	f.c.SurfaceCreated(f.screen)
	waitFor(t, "pending open", func() bool { return f.c.Status().PendingOpen })

	if err := f.perms.Resolve(nil); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "denial", func() bool {
		return strings.Contains(f.c.Status().LastError, ErrPermissionDenied.Error())
	})
	if s := f.c.Status(); s.State != StateClosed || s.PendingOpen {
		t.Fatalf("unexpected status %+v", s)
	}
	if f.provider.Sessions() != 0 {
		t.Fatal("no session expected")
	}
}

func TestSurfaceDestroyedClosesEverything(t *testing.T) {
	f := newFixture(t, true)
	f.preview(t)

	f.c.SurfaceDestroyed()
	f.waitState(t, StateClosed)
	if s := f.c.Status(); s.Device != "" || s.Display {
		t.Fatalf("unexpected status %+v", s)
	}
	if f.provider.ActiveSessions() != 0 {
		t.Fatal("session still active")
	}

	f.c.SurfaceDestroyed()
	f.c.Close()
	time.Sleep(20 * time.Millisecond)
	if f.c.Status().State != StateClosed {
		t.Fatal("close must be idempotent")
	}
}

func TestSurfaceDestroyedWhileRecordingKeepsVideo(t *testing.T) {
	f := newFixture(t, true)
	f.preview(t)

	f.c.StartRecording()
	waitFor(t, "recording", func() bool { return f.c.Status().Recording })
	waitFor(t, "encoded frames", func() bool { return f.encoder.Frames() > 0 })
	f.c.SurfaceDestroyed()
	f.waitState(t, StateClosed)

	if n := len(f.list(t, storage.KindVideo)); n != 1 {
		t.Fatalf("videos = %d, want 1", n)
	}
	if f.c.Status().Recording {
		t.Fatal("recording flag not cleared")
	}
}

func TestPauseResume(t *testing.T) {
	f := newFixture(t, true)
	f.preview(t)

	f.c.StartRecording()
	waitFor(t, "recording", func() bool { return f.c.Status().Recording })
	waitFor(t, "encoded frames", func() bool { return f.encoder.Frames() > 0 })
	f.c.Pause()
	f.waitState(t, StateClosed)
	if s := f.c.Status(); !s.Paused || s.LastVideo == "" {
		t.Fatalf("unexpected status %+v", s)
	}

	f.c.Resume()
	f.waitState(t, StatePreviewing)
}

func TestDeviceErrors(t *testing.T) {
	f := newFixture(t, true)
	f.provider.SetFailOpen(true)
	f.c.SurfaceCreated(f.screen)
	waitFor(t, "device error", func() bool {
		return strings.Contains(f.c.Status().LastError, ErrDeviceUnavailable.Error())
	})
	f.waitState(t, StateClosed)

	f.provider.SetFailOpen(false)
	f.c.Open()
	f.waitState(t, StatePreviewing)

	f.provider.Disconnect()
	f.waitState(t, StateClosed)
	if !f.noticed(msgCameraDisconnected) {
		t.Fatal("missing disconnect notice")
	}
}

type fakeSession struct{ closed atomic.Bool }

func (s *fakeSession) Submit(camera.Request, bool) error { return nil }
func (s *fakeSession) Close() error                      { s.closed.Store(true); return nil }

type fakeDevice struct{ closed atomic.Bool }

func (d *fakeDevice) ID() string { return "stale" }
func (d *fakeDevice) CreateSession([]camera.Surface, camera.SessionCallback) error {
	return nil
}
func (d *fakeDevice) Close() error { d.closed.Store(true); return nil }

func TestStaleCallbacksAreClosed(t *testing.T) {
	f := newFixture(t, true)
	f.preview(t)

	s := &fakeSession{}
	f.c.post(evtSession{gen: 0, p: purposePreview, e: camera.SessionEvent{State: camera.SessionConfigured, Session: s}})
	d := &fakeDevice{}
	f.c.post(evtDevice{gen: 0, e: camera.DeviceEvent{State: camera.DeviceOpened, Device: d}})

	waitFor(t, "stale session closed", func() bool { return s.closed.Load() })
	waitFor(t, "stale device closed", func() bool { return d.closed.Load() })
	if st := f.c.Status(); st.State != StatePreviewing || st.Device != virtual.DefaultDevice {
		t.Fatalf("stale callbacks changed state: %+v", st)
	}
}
