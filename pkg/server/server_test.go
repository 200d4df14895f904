package server

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"pocket-shutter/pkg/camera"
	"pocket-shutter/pkg/coordinator"
	"pocket-shutter/pkg/display"
	"pocket-shutter/pkg/notice"
	"pocket-shutter/pkg/permission"
	"pocket-shutter/pkg/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubCoordinator struct {
	mu    sync.Mutex
	calls []string
}

func (s *stubCoordinator) record(name string) {
	s.mu.Lock()
	s.calls = append(s.calls, name)
	s.mu.Unlock()
}

func (s *stubCoordinator) Open()           { s.record("open") }
func (s *stubCoordinator) Close()          { s.record("close") }
func (s *stubCoordinator) Pause()          { s.record("pause") }
func (s *stubCoordinator) Resume()         { s.record("resume") }
func (s *stubCoordinator) CapturePhoto()   { s.record("photo") }
func (s *stubCoordinator) StartRecording() { s.record("start") }
func (s *stubCoordinator) StopRecording()  { s.record("stop") }
func (s *stubCoordinator) Status() coordinator.Status {
	return coordinator.Status{State: coordinator.StatePreviewing}
}

func (s *stubCoordinator) last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.calls) == 0 {
		return ""
	}
	return s.calls[len(s.calls)-1]
}

type stubScheduler struct {
	interval time.Duration
}

func (s *stubScheduler) Begin(d time.Duration) error {
	s.interval = d
	return nil
}
func (s *stubScheduler) Stop()                          { s.interval = 0 }
func (s *stubScheduler) Interval() (time.Duration, int) { return s.interval, 0 }

type stubExporter struct {
	running bool
}

func (e *stubExporter) Start() (string, error) {
	e.running = true
	return "127.0.0.1:9998", nil
}

func (e *stubExporter) Stop() bool {
	was := e.running
	e.running = false
	return was
}

type surfaceListener struct {
	mu sync.Mutex
	s  camera.Surface
}

func (l *surfaceListener) SurfaceCreated(s camera.Surface) {
	l.mu.Lock()
	l.s = s
	l.mu.Unlock()
}
func (l *surfaceListener) SurfaceChanged(int, int) {}
func (l *surfaceListener) SurfaceDestroyed() {
	l.mu.Lock()
	l.s = nil
	l.mu.Unlock()
}

func (l *surfaceListener) surface() camera.Surface {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.s
}

type fixture struct {
	h        http.Handler
	coord    *stubCoordinator
	sched    *stubScheduler
	webdav   *stubExporter
	perms    *permission.Store
	storage  *storage.Storage
	display  *display.Binding
	listener *surfaceListener
	notices  *notice.Broadcaster
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zap.NewNop().Sugar()
	st, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	perms, err := permission.NewStore(permission.Options{}, logger)
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{
		coord:    &stubCoordinator{},
		sched:    &stubScheduler{},
		webdav:   &stubExporter{},
		perms:    perms,
		storage:  st,
		display:  display.NewBinding(64, 48, logger),
		listener: &surfaceListener{},
		notices:  notice.NewBroadcaster(),
	}
	f.display.SetListener(f.listener)
	srv := New(Options{
		Coordinator: f.coord,
		Display:     f.display,
		Notices:     f.notices,
		Permissions: perms,
		Storage:     st,
		Scheduler:   f.sched,
		Webdav:      f.webdav,
	}, logger)
	f.h, err = srv.Handler()
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func (f *fixture) do(t *testing.T, method, target string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	f.h.ServeHTTP(w, req)
	return w
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func TestButtons(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/status", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "previewing") {
		t.Fatalf("status: %d %s", w.Code, w.Body)
	}

	cases := []struct {
		method, target string
		code           int
		call           string
	}{
		{http.MethodPost, "/api/photo", http.StatusAccepted, "photo"},
		{http.MethodPut, "/api/video?op=start", http.StatusAccepted, "start"},
		{http.MethodPut, "/api/video?op=stop", http.StatusAccepted, "stop"},
		{http.MethodPut, "/api/device?op=open", http.StatusAccepted, "open"},
		{http.MethodPut, "/api/device?op=pause", http.StatusAccepted, "pause"},
		{http.MethodPut, "/api/device?op=resume", http.StatusAccepted, "resume"},
		{http.MethodPut, "/api/device?op=close", http.StatusAccepted, "close"},
	}
	for _, c := range cases {
		w := f.do(t, c.method, c.target, nil)
		if w.Code != c.code {
			t.Errorf("%s %s: code = %d", c.method, c.target, w.Code)
		}
		if f.coord.last() != c.call {
			t.Errorf("%s %s: call = %s, want %s", c.method, c.target, f.coord.last(), c.call)
		}
	}

	if w := f.do(t, http.MethodPut, "/api/video?op=rewind", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("unknown op code = %d", w.Code)
	}
}

func TestPermissions(t *testing.T) {
	f := newFixture(t)
	f.perms.Request(permission.All, nil)

	w := f.do(t, http.MethodGet, "/api/permissions", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"storage_write"`) {
		t.Fatalf("get: %d %s", w.Code, w.Body)
	}

	w = f.do(t, http.MethodPost, "/api/permissions", strings.NewReader(`{"granted":["camera","microphone"]}`))
	if w.Code != http.StatusOK {
		t.Fatalf("resolve: %d %s", w.Code, w.Body)
	}
	if f.perms.Check(permission.Camera) != permission.Granted || f.perms.Check(permission.StorageWrite) != permission.Denied {
		t.Fatalf("unexpected grants %v", f.perms.Snapshot())
	}
	if len(f.perms.Pending()) != 0 {
		t.Fatal("pending request not resolved")
	}

	w = f.do(t, http.MethodPost, "/api/permissions", strings.NewReader(`{"granted":["location"]}`))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unknown permission code = %d", w.Code)
	}
}

func TestMedia(t *testing.T) {
	f := newFixture(t)
	path := f.storage.PhotoPath(time.UnixMilli(1700000000000))
	if err := f.storage.WriteAll(path, []byte("jpeg")); err != nil {
		t.Fatal(err)
	}

	w := f.do(t, http.MethodGet, "/api/media/photos", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "photo_1700000000000.jpg") {
		t.Fatalf("list: %d %s", w.Code, w.Body)
	}
	w = f.do(t, http.MethodGet, "/api/media/photos/photo_1700000000000.jpg", nil)
	if w.Code != http.StatusOK || w.Body.String() != "jpeg" {
		t.Fatalf("get: %d %s", w.Code, w.Body)
	}
	if w := f.do(t, http.MethodGet, "/api/media/photos/.hidden", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("hidden name code = %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/api/media/audio", nil); w.Code != http.StatusNotFound {
		t.Fatalf("unknown kind code = %d", w.Code)
	}

	w = f.do(t, http.MethodDelete, "/api/media/photos/photo_1700000000000.jpg", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete: %d %s", w.Code, w.Body)
	}
	files, err := f.storage.List(storage.KindPhoto)
	if err != nil || len(files) != 0 {
		t.Fatalf("files = %v, err = %v", files, err)
	}
}

func TestSchedule(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPut, "/api/schedule?interval=5s", nil)
	if w.Code != http.StatusOK || f.sched.interval != 5*time.Second {
		t.Fatalf("begin: %d %s", w.Code, w.Body)
	}
	var resp struct {
		Data scheduleState `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Data.Running || resp.Data.Interval != "5s" {
		t.Fatalf("state = %+v", resp.Data)
	}

	if w := f.do(t, http.MethodPut, "/api/schedule?interval=soon", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad interval code = %d", w.Code)
	}
	if w := f.do(t, http.MethodDelete, "/api/schedule", nil); w.Code != http.StatusOK || f.sched.interval != 0 {
		t.Fatalf("stop: %d", w.Code)
	}
}

func TestWebdavControl(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPut, "/api/device/webdav?op=start", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "127.0.0.1:9998") || !f.webdav.running {
		t.Fatalf("start: %d %s", w.Code, w.Body)
	}
	w = f.do(t, http.MethodPut, "/api/device/webdav?op=shutdown", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"success"`) {
		t.Fatalf("shutdown: %d %s", w.Code, w.Body)
	}
	w = f.do(t, http.MethodPut, "/api/device/webdav?op=shutdown", nil)
	if !strings.Contains(w.Body.String(), "has been shut down") {
		t.Fatalf("second shutdown: %s", w.Body)
	}
}

func TestRecentNotices(t *testing.T) {
	f := newFixture(t)
	f.notices.Notify(notice.Error, "Camera not initialized")

	w := f.do(t, http.MethodGet, "/api/notices/recent", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Camera not initialized") {
		t.Fatalf("recent: %d %s", w.Code, w.Body)
	}
}

func TestMJPEGStreamHoldsSurface(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.h)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/display/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "multipart/x-mixed-replace") {
		t.Fatalf("content type = %s", resp.Header.Get("Content-Type"))
	}

	waitFor(t, "surface", func() bool { return f.listener.surface() != nil })
	frame := []byte("\xff\xd8frame\xff\xd9")
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-time.After(10 * time.Millisecond):
				if s := f.listener.surface(); s != nil {
					s.WriteFrame(frame)
				}
			}
		}
	}()
	buf := make([]byte, 4096)
	var got []byte
	for !bytes.Contains(got, frame) {
		n, err := resp.Body.Read(buf)
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, buf[:n]...)
	}
	close(done)

	cancel()
	waitFor(t, "surface destroyed", func() bool { return !f.display.Available() })
}

func TestWebsocketPreview(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.h)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/display/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, "surface", func() bool { return f.listener.surface() != nil })
	f.listener.surface().WriteFrame([]byte("frame"))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if kind != websocket.BinaryMessage || string(data) != "frame" {
		t.Fatalf("message = %d %q", kind, data)
	}

	_ = conn.Close()
	waitFor(t, "surface destroyed", func() bool { return !f.display.Available() })
}

func TestNoticeStream(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.h)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/notices", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	// headers must arrive before the first notice
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type = %s", ct)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-done:
				return
			case <-time.After(10 * time.Millisecond):
				f.notices.Notify(notice.Info, "Photo saved to: photo_1.jpg")
			}
		}
	}()

	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "data:") && strings.Contains(line, "Photo saved to: photo_1.jpg") {
			return
		}
	}
	t.Fatalf("stream ended: %v", sc.Err())
}
