package coordinator

import (
	"errors"
)

var (
	ErrPermissionDenied       = errors.New("permission denied")
	ErrDeviceUnavailable      = errors.New("device unavailable")
	ErrSessionConfigureFailed = errors.New("session configure failed")
	ErrBufferWriteFailed      = errors.New("buffer write failed")
	ErrEncoderFailure         = errors.New("encoder failure")
)

// user-visible notices
const (
	msgPermissionsRequired = "Permissions required to use camera"
	msgNotInitialized      = "Camera not initialized"
	msgCameraUnavailable   = "Camera not available"
	msgCameraDisconnected  = "Camera disconnected"
	msgConfigureCamera     = "Failed to configure camera"
	msgConfigurePhoto      = "Failed to configure photo capture"
	msgConfigureVideo      = "Failed to configure video recording"
	msgSavePhoto           = "Failed to save photo"
	msgVideoFailed         = "Video recording failed"
	msgPhotoSaved          = "Photo saved to: %s"
	msgVideoSaved          = "Video saved to: %s"
	msgStopRecording       = "Stop recording before taking a photo"
)
