package v4l

import (
	"github.com/vladimirvivien/go4vl/device"
	"github.com/vladimirvivien/go4vl/v4l2"

	"pocket-shutter/pkg/camera"
)

const (
	ctrlExposureAuto       v4l2.CtrlID = 10094849
	ctrlFocusAuto          v4l2.CtrlID = 10094860
	ctrlExposureBias       v4l2.CtrlID = 10094867
	ctrlISOSensitivity     v4l2.CtrlID = 10094871
	ctrlISOSensitivityAuto v4l2.CtrlID = 10094872
	ctrlAutoWhiteBalance   v4l2.CtrlID = 9963788
)

// V4L2 exposure menu values
const (
	exposureAuto             v4l2.CtrlValue = 0
	exposureManual           v4l2.CtrlValue = 1
	exposureAperturePriority v4l2.CtrlValue = 3
)

func readCharacteristics(id string, dev *device.Device) camera.Characteristics {
	c := camera.Characteristics{
		ID:     id,
		Modes:  make(map[camera.OptionKey][]int32),
		Ranges: make(map[camera.OptionKey]camera.Range),
	}
	if info, err := v4l2.GetCapability(dev.Fd()); err == nil {
		c.Name = info.Card
	}

	if ctrl, err := v4l2.GetControl(dev.Fd(), ctrlExposureAuto); err == nil {
		var modes []int32
		for _, v := range menuValues(ctrl) {
			switch v {
			case exposureManual:
				modes = appendMode(modes, camera.AEModeOff)
			case exposureAuto, exposureAperturePriority:
				modes = appendMode(modes, camera.AEModeOn)
			}
		}
		c.Modes[camera.OptionAEMode] = modes
	}
	if _, err := v4l2.GetControl(dev.Fd(), ctrlAutoWhiteBalance); err == nil {
		c.Modes[camera.OptionAWBMode] = []int32{camera.AWBModeOff, camera.AWBModeAuto}
	}
	if _, err := v4l2.GetControl(dev.Fd(), ctrlFocusAuto); err == nil {
		c.Modes[camera.OptionAFMode] = []int32{camera.AFModeOff, camera.AFModeContinuousPicture}
	}
	if ctrl, err := v4l2.GetControl(dev.Fd(), ctrlExposureBias); err == nil {
		c.Ranges[camera.OptionAECompensation] = camera.Range{Min: ctrl.Minimum, Max: ctrl.Maximum, Step: ctrl.Step}
	}
	if ctrl, err := v4l2.GetControl(dev.Fd(), ctrlISOSensitivity); err == nil {
		c.Ranges[camera.OptionSensitivity] = camera.Range{Min: ctrl.Minimum, Max: ctrl.Maximum, Step: ctrl.Step}
	}

	return c
}

func menuValues(ctrl v4l2.Control) []v4l2.CtrlValue {
	if !ctrl.IsMenu() {
		var res []v4l2.CtrlValue
		for v := ctrl.Minimum; v <= ctrl.Maximum; v++ {
			res = append(res, v4l2.CtrlValue(v))
		}
		return res
	}
	items, err := ctrl.GetMenuItems()
	if err != nil {
		return nil
	}
	res := make([]v4l2.CtrlValue, 0, len(items))
	for _, item := range items {
		res = append(res, v4l2.CtrlValue(item.Index))
	}
	return res
}

func appendMode(modes []int32, m int32) []int32 {
	for _, v := range modes {
		if v == m {
			return modes
		}
	}
	return append(modes, m)
}

// translate maps request options to V4L2 control values.
func translate(opts map[camera.OptionKey]int32, chars camera.Characteristics, exposureMenu []v4l2.CtrlValue) map[v4l2.CtrlID]v4l2.CtrlValue {
	res := make(map[v4l2.CtrlID]v4l2.CtrlValue)
	for k, v := range opts {
		switch k {
		case camera.OptionAEMode:
			if v == camera.AEModeOff {
				res[ctrlExposureAuto] = exposureManual
				continue
			}
			res[ctrlExposureAuto] = exposureAperturePriority
			for _, m := range exposureMenu {
				if m == exposureAuto {
					res[ctrlExposureAuto] = exposureAuto
				}
			}
		case camera.OptionAWBMode:
			res[ctrlAutoWhiteBalance] = v4l2.CtrlValue(boolValue(v == camera.AWBModeAuto))
		case camera.OptionAFMode:
			res[ctrlFocusAuto] = v4l2.CtrlValue(boolValue(v != camera.AFModeOff))
		case camera.OptionAECompensation:
			if r, ok := chars.Range(k); ok {
				v = r.Clamp(v)
			}
			res[ctrlExposureBias] = v4l2.CtrlValue(v)
		case camera.OptionSensitivity:
			if r, ok := chars.Range(k); ok {
				v = r.Clamp(v)
			}
			res[ctrlISOSensitivityAuto] = 0
			res[ctrlISOSensitivity] = v4l2.CtrlValue(v)
		}
	}
	return res
}

func boolValue(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

// applyOptions must be called with lock held. Unsupported controls only warn.
func (s *Session) applyOptions(req camera.Request) {
	chars, err := s.dev.p.Characteristics(s.dev.id)
	if err != nil {
		logger.Warnf("characteristics of %s: %s", s.dev.id, err)
	}
	var menu []v4l2.CtrlValue
	if ctrl, err := v4l2.GetControl(s.cam.Fd(), ctrlExposureAuto); err == nil {
		menu = menuValues(ctrl)
	}
	for k, v := range translate(req.Options(), chars, menu) {
		if err := s.cam.SetControlValue(k, v); err != nil {
			logger.Warnf("set ctrl(%d) to %d, err: %s", k, v, err)
		}
	}
}
