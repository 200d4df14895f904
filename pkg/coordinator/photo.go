package coordinator

import (
	"fmt"

	"pocket-shutter/pkg/camera"
	"pocket-shutter/pkg/notice"
)

// capturePhoto silently ignores the request while a capture is in flight or
// the device or display is missing.
func (c *Coordinator) capturePhoto() {
	if c.photoInFlight || c.device == nil || c.display == nil {
		c.logger.Debugf("capture ignored: in flight %v, device %v, display %v",
			c.photoInFlight, c.device != nil, c.display != nil)
		return
	}
	if c.recordPath != "" {
		c.notify(notice.Warn, msgStopRecording)
		return
	}
	if !c.opts.Gate.HasAllPermissions() {
		c.requestPermissions(false)
		return
	}

	c.closeSession()
	c.photoInFlight = true
	c.photoAt = c.opts.Clock.Now()
	gen := c.nextSession()
	c.receiver = camera.NewImageReceiver(c.opts.Config.PhotoWidth, c.opts.Config.PhotoHeight, func(img *camera.Image) {
		c.post(evtImageAvailable{gen: gen, img: img})
	})
	c.fire("capture")
	c.pendingReq = buildRequest(camera.TemplateStillCapture, photoTuning, c.chars, c.receiver, c.display)
	c.createSession(gen, purposePhoto, c.receiver, c.display)
}

func (c *Coordinator) onImageAvailable(e evtImageAvailable) {
	if e.gen != c.sessionGen || !c.photoInFlight {
		e.img.Close()
		return
	}

	path := c.opts.Storage.PhotoPath(c.photoAt)
	go func() {
		err := c.opts.Storage.WriteAll(path, e.img.Bytes())
		e.img.Close()
		c.post(evtPhotoSaved{gen: e.gen, path: path, err: err})
	}()
}

// onPhotoSaved reports the write even when the capture was superseded meanwhile.
func (c *Coordinator) onPhotoSaved(e evtPhotoSaved) {
	if e.err != nil {
		c.fail(ErrBufferWriteFailed, e.err, msgSavePhoto)
	} else {
		c.lastPhoto = e.path
		c.logger.Infof("photo saved to %s", e.path)
		c.notify(notice.Info, fmt.Sprintf(msgPhotoSaved, e.path))
	}

	if e.gen != c.sessionGen || !c.photoInFlight {
		return
	}
	c.endPhoto()
	c.restorePreview()
}

func (c *Coordinator) endPhoto() {
	c.photoInFlight = false
	c.receiver = nil
}
