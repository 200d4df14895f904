package camera

import (
	"fmt"
	"sync"
)

// ImageReceiver is a single-buffer still-image surface. The first frame it
// receives is handed to onAvailable; every later frame is dropped until the
// image is closed.
type ImageReceiver struct {
	width, height int
	onAvailable   func(*Image)

	lock sync.Mutex
	held bool
}

func NewImageReceiver(width, height int, onAvailable func(*Image)) *ImageReceiver {
	return &ImageReceiver{width: width, height: height, onAvailable: onAvailable}
}

func (r *ImageReceiver) Name() string {
	return fmt.Sprintf("receiver-%dx%d", r.width, r.height)
}

func (r *ImageReceiver) Size() (int, int) {
	return r.width, r.height
}

func (r *ImageReceiver) WriteFrame(frame []byte) {
	r.lock.Lock()
	if r.held {
		r.lock.Unlock()
		return
	}
	r.held = true
	r.lock.Unlock()

	img := &Image{data: append([]byte(nil), frame...), release: r.release}
	if r.onAvailable != nil {
		r.onAvailable(img)
	}
}

func (r *ImageReceiver) release() {
	r.lock.Lock()
	r.held = false
	r.lock.Unlock()
}

// Image is one acquired buffer of an ImageReceiver.
type Image struct {
	data    []byte
	once    sync.Once
	release func()
}

func (i *Image) Bytes() []byte {
	return i.data
}

// Close releases the buffer back to its receiver.
func (i *Image) Close() {
	i.once.Do(func() {
		if i.release != nil {
			i.release()
		}
	})
}
