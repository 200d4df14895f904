// Package display binds the preview surface to its viewers. The surface exists
// while at least one viewer is attached.
package display

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"pocket-shutter/pkg/camera"
)

const viewerBuffer = 4

type Listener interface {
	SurfaceCreated(s camera.Surface)
	SurfaceChanged(width, height int)
	SurfaceDestroyed()
}

type Binding struct {
	logger *zap.SugaredLogger

	// notify is held across a change and its listener call, so the listener
	// sees created, changed and destroyed in the order they happened.
	notify sync.Mutex

	lock     sync.Mutex
	width    int
	height   int
	listener Listener
	surface  *Surface
	viewers  map[int]chan []byte
	next     int
}

func NewBinding(width, height int, logger *zap.SugaredLogger) *Binding {
	return &Binding{
		logger:  logger,
		width:   width,
		height:  height,
		viewers: make(map[int]chan []byte),
	}
}

// SetListener registers l. If a surface already exists, l is told at once.
func (b *Binding) SetListener(l Listener) {
	b.notify.Lock()
	defer b.notify.Unlock()
	b.lock.Lock()
	b.listener = l
	s := b.surface
	b.lock.Unlock()

	if l != nil && s != nil {
		l.SurfaceCreated(s)
	}
}

// Attach adds a viewer and returns its frame channel and a detach func. The
// first viewer creates the surface; a viewer asking for another size changes
// it. A zero size keeps the current one.
func (b *Binding) Attach(width, height int) (<-chan []byte, func()) {
	b.notify.Lock()
	defer b.notify.Unlock()
	b.lock.Lock()
	id := b.next
	b.next++
	ch := make(chan []byte, viewerBuffer)
	b.viewers[id] = ch
	var created *Surface
	if b.surface == nil {
		if width > 0 && height > 0 {
			b.width, b.height = width, height
		}
		b.surface = &Surface{binding: b, name: fmt.Sprintf("display-%d", id), width: b.width, height: b.height}
		created = b.surface
	}
	resize := created == nil && width > 0 && height > 0 && (width != b.width || height != b.height)
	l := b.listener
	b.lock.Unlock()

	if created != nil {
		b.logger.Debugf("display: surface created %dx%d", created.width, created.height)
		if l != nil {
			l.SurfaceCreated(created)
		}
	}
	if resize {
		b.resize(width, height)
	}

	var once sync.Once
	return ch, func() { once.Do(func() { b.detach(id) }) }
}

func (b *Binding) detach(id int) {
	b.notify.Lock()
	defer b.notify.Unlock()
	b.lock.Lock()
	ch, ok := b.viewers[id]
	if !ok {
		b.lock.Unlock()
		return
	}
	delete(b.viewers, id)
	close(ch)
	destroyed := len(b.viewers) == 0 && b.surface != nil
	if destroyed {
		b.surface = nil
	}
	l := b.listener
	b.lock.Unlock()

	if destroyed {
		b.logger.Debug("display: surface destroyed")
		if l != nil {
			l.SurfaceDestroyed()
		}
	}
}

// Resize changes the surface size reported to the listener.
func (b *Binding) Resize(width, height int) {
	b.notify.Lock()
	defer b.notify.Unlock()
	b.resize(width, height)
}

// resize must be called with notify held.
func (b *Binding) resize(width, height int) {
	b.lock.Lock()
	b.width, b.height = width, height
	s := b.surface
	if s != nil {
		s.width, s.height = width, height
	}
	l := b.listener
	b.lock.Unlock()

	if s != nil && l != nil {
		l.SurfaceChanged(width, height)
	}
}

func (b *Binding) Available() bool {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.surface != nil
}

func (b *Binding) Viewers() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return len(b.viewers)
}

func (b *Binding) broadcast(s *Surface, frame []byte) {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.surface != s {
		return
	}
	for _, ch := range b.viewers {
		select {
		case ch <- frame:
		default:
			// slow viewer, drop
		}
	}
}

// Surface is the display's camera.Surface. Frames written after the surface
// was destroyed go nowhere.
type Surface struct {
	binding *Binding
	name    string
	width   int
	height  int
}

func (s *Surface) Name() string {
	return s.name
}

func (s *Surface) Size() (int, int) {
	s.binding.lock.Lock()
	defer s.binding.lock.Unlock()
	return s.width, s.height
}

func (s *Surface) WriteFrame(frame []byte) {
	s.binding.broadcast(s, append([]byte(nil), frame...))
}
