package camera

import (
	"maps"
	"slices"
)

type Template int

const (
	TemplatePreview Template = iota
	TemplateStillCapture
	TemplateRecord
)

func (t Template) String() string {
	switch t {
	case TemplatePreview:
		return "preview"
	case TemplateStillCapture:
		return "still-capture"
	case TemplateRecord:
		return "record"
	}
	return "unknown"
}

type OptionKey string

const (
	OptionAEMode         OptionKey = "ae_mode"
	OptionAWBMode        OptionKey = "awb_mode"
	OptionAFMode         OptionKey = "af_mode"
	OptionAECompensation OptionKey = "ae_compensation"
	OptionSensitivity    OptionKey = "sensitivity"
)

// mode values
const (
	AEModeOff int32 = 0
	AEModeOn  int32 = 1

	AWBModeOff  int32 = 0
	AWBModeAuto int32 = 1

	AFModeOff               int32 = 0
	AFModeContinuousPicture int32 = 4
)

// Request is an immutable capture configuration. Build one with NewRequestBuilder.
type Request struct {
	template Template
	targets  []Surface
	options  map[OptionKey]int32
}

func (r Request) Template() Template {
	return r.template
}

func (r Request) Targets() []Surface {
	return slices.Clone(r.targets)
}

func (r Request) Options() map[OptionKey]int32 {
	return maps.Clone(r.options)
}

func (r Request) Option(key OptionKey) (int32, bool) {
	v, ok := r.options[key]
	return v, ok
}

type RequestBuilder struct {
	template Template
	targets  []Surface
	options  map[OptionKey]int32
}

func NewRequestBuilder(t Template) *RequestBuilder {
	return &RequestBuilder{template: t, options: make(map[OptionKey]int32)}
}

func (b *RequestBuilder) AddTarget(s Surface) *RequestBuilder {
	if s != nil && !Contains(b.targets, s) {
		b.targets = append(b.targets, s)
	}
	return b
}

func (b *RequestBuilder) Set(key OptionKey, value int32) *RequestBuilder {
	b.options[key] = value
	return b
}

func (b *RequestBuilder) Build() Request {
	return Request{
		template: b.template,
		targets:  slices.Clone(b.targets),
		options:  maps.Clone(b.options),
	}
}
