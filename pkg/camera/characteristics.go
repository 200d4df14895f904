package camera

import "slices"

type Range struct {
	Min  int32 `json:"min"`
	Max  int32 `json:"max"`
	Step int32 `json:"step"`
}

func (r Range) Contains(v int32) bool {
	return v >= r.Min && v <= r.Max
}

// Clamp pulls v into the range, snapping to Step when it is set.
func (r Range) Clamp(v int32) int32 {
	if v < r.Min {
		v = r.Min
	}
	if v > r.Max {
		v = r.Max
	}
	if r.Step > 1 {
		v = r.Min + (v-r.Min)/r.Step*r.Step
	}
	return v
}

// Characteristics is the capability metadata of one device. An option missing
// from both maps is not supported by the device.
type Characteristics struct {
	ID     string                `json:"id"`
	Name   string                `json:"name"`
	Modes  map[OptionKey][]int32 `json:"modes,omitempty"`
	Ranges map[OptionKey]Range   `json:"ranges,omitempty"`
}

func (c Characteristics) Range(key OptionKey) (Range, bool) {
	r, ok := c.Ranges[key]
	return r, ok
}

func (c Characteristics) AvailableModes(key OptionKey) ([]int32, bool) {
	m, ok := c.Modes[key]
	return m, ok
}

func (c Characteristics) HasMode(key OptionKey, mode int32) bool {
	return slices.Contains(c.Modes[key], mode)
}
