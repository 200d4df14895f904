package coordinator

import (
	"pocket-shutter/pkg/camera"
)

// tuning is one best-effort default: the option is set only when value finds
// the capability it needs.
type tuning struct {
	key   camera.OptionKey
	value func(c camera.Characteristics, key camera.OptionKey) (int32, bool)
}

func mode(want int32) func(camera.Characteristics, camera.OptionKey) (int32, bool) {
	return func(c camera.Characteristics, key camera.OptionKey) (int32, bool) {
		return want, c.HasMode(key, want)
	}
}

// midRange picks half of the upper bound, pulled into the legal range.
func midRange(c camera.Characteristics, key camera.OptionKey) (int32, bool) {
	r, ok := c.Range(key)
	if !ok {
		return 0, false
	}
	return r.Clamp(r.Max / 2), true
}

var (
	autoModes = []tuning{
		{camera.OptionAEMode, mode(camera.AEModeOn)},
		{camera.OptionAWBMode, mode(camera.AWBModeAuto)},
		{camera.OptionAFMode, mode(camera.AFModeContinuousPicture)},
	}

	previewTuning = append(autoModes[:len(autoModes):len(autoModes)],
		tuning{camera.OptionAECompensation, midRange},
		tuning{camera.OptionSensitivity, midRange},
	)
	photoTuning  = autoModes
	recordTuning []tuning
)

func buildRequest(t camera.Template, table []tuning, c camera.Characteristics, targets ...camera.Surface) camera.Request {
	b := camera.NewRequestBuilder(t)
	for _, s := range targets {
		b.AddTarget(s)
	}
	for _, tu := range table {
		if v, ok := tu.value(c, tu.key); ok {
			b.Set(tu.key, v)
		}
	}
	return b.Build()
}
