package coordinator

import (
	"fmt"

	"pocket-shutter/pkg/camera"
	"pocket-shutter/pkg/notice"
	"pocket-shutter/pkg/video"
)

const videoSourceSurface = "surface"

func (c *Coordinator) startRecording() {
	if c.device == nil || c.display == nil {
		c.notify(notice.Warn, msgNotInitialized)
		return
	}
	if c.recordPath != "" || c.photoInFlight {
		c.logger.Debugf("record ignored: recording %v, photo in flight %v", c.recordPath != "", c.photoInFlight)
		return
	}
	if !c.opts.Gate.HasAllPermissions() {
		c.requestPermissions(false)
		return
	}

	vc := c.opts.Config.Video
	path := c.opts.Storage.VideoPath(c.opts.Clock.Now(), video.Ext(vc.Container))
	err := c.opts.Encoder.Configure(video.Config{
		AudioSource: vc.AudioSource,
		VideoSource: videoSourceSurface,
		Container:   vc.Container,
		Path:        path,
		BitRate:     vc.BitRate,
		FrameRate:   vc.FrameRate,
		Width:       vc.Width,
		Height:      vc.Height,
		VideoCodec:  vc.VideoCodec,
		AudioCodec:  vc.AudioCodec,
	})
	if err != nil {
		c.fail(ErrEncoderFailure, err, msgConfigureVideo)
		return
	}

	c.closeSession()
	gen := c.nextSession()
	input, err := c.opts.Encoder.Prepare(func(err error) {
		c.post(evtEncoderError{gen: gen, err: err})
	})
	if err != nil {
		c.opts.Encoder.Reset()
		c.remove(path)
		c.fail(ErrEncoderFailure, err, msgConfigureVideo)
		c.startPreview()
		return
	}

	c.recordPath = path
	c.fire("record")
	c.pendingReq = buildRequest(camera.TemplateRecord, recordTuning, c.chars, c.display, input)
	c.createSession(gen, purposeRecord, c.display, input)
}

// onRecordConfigured submits the repeating request before starting the
// encoder, so the encoder input is already fed when it starts consuming.
func (c *Coordinator) onRecordConfigured() {
	if err := c.session.Submit(c.pendingReq, true); err != nil {
		c.abortRecording()
		c.fail(ErrSessionConfigureFailed, err, msgConfigureVideo)
		c.restorePreview()
		return
	}
	if err := c.opts.Encoder.Start(); err != nil {
		c.abortRecording()
		c.fail(ErrEncoderFailure, err, msgConfigureVideo)
		c.restorePreview()
		return
	}
	c.recording = true
	c.logger.Infof("recording to %s", c.recordPath)
	if c.stopPending {
		c.stopRecording()
	}
}

// stopRecording arriving before the encoder started is held until it does,
// so a start followed by a stop still leaves one video.
func (c *Coordinator) stopRecording() {
	if c.recordPath == "" {
		return
	}
	if !c.recording {
		c.stopPending = true
		return
	}
	c.teardownSession()
	c.restorePreview()
}

func (c *Coordinator) onEncoderError(e evtEncoderError) {
	if e.gen != c.sessionGen || c.recordPath == "" {
		return
	}
	c.closeSession()
	c.abortRecording()
	c.fail(ErrEncoderFailure, e.err, msgVideoFailed)
	c.restorePreview()
}

// finishRecording must run after the session feeding the encoder is closed.
func (c *Coordinator) finishRecording() {
	path := c.recordPath
	c.recordPath = ""
	c.recording = false
	c.stopPending = false

	n, err := c.opts.Encoder.Stop()
	c.opts.Encoder.Reset()
	if err != nil {
		c.remove(path)
		c.fail(ErrEncoderFailure, err, msgVideoFailed)
		return
	}
	c.lastVideo = path
	c.logger.Infof("video saved to %s, %d frames", path, n)
	c.notify(notice.Info, fmt.Sprintf(msgVideoSaved, path))
}

// abortRecording drops an unstarted or failed recording and its file.
func (c *Coordinator) abortRecording() {
	c.opts.Encoder.Reset()
	c.remove(c.recordPath)
	c.recordPath = ""
	c.recording = false
	c.stopPending = false
}

func (c *Coordinator) remove(path string) {
	if err := c.opts.Storage.Remove(path); err != nil {
		c.logger.Warnf("remove %s: %s", path, err)
	}
}
