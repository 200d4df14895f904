// ctrls prints what the coordinator knows about a V4L2 device: the mapped
// capability metadata and the raw driver controls behind it.
package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/goccy/go-json"
	"github.com/vladimirvivien/go4vl/v4l2"

	"pocket-shutter/pkg/camera"
	"pocket-shutter/pkg/camera/v4l"
)

type control struct {
	ID      uint32            `json:"id"`
	Name    string            `json:"name"`
	Min     int32             `json:"min"`
	Max     int32             `json:"max"`
	Step    int32             `json:"step"`
	Default int32             `json:"default"`
	Value   int32             `json:"value"`
	Menu    map[uint32]string `json:"menu,omitempty"`
}

type report struct {
	Characteristics camera.Characteristics `json:"characteristics"`
	Controls        []control              `json:"controls"`
}

func main() {
	devName := v4l.DefaultDevice
	flag.StringVar(&devName, "d", devName, "device name (path)")
	flag.Parse()

	p := v4l.NewProvider(context.Background(), []string{devName}, v4l.DefaultFPS)
	chars, err := p.Characteristics(devName)
	if err != nil {
		log.Fatalf("failed to read device: %s", err)
	}
	ctrls, err := p.Controls(devName)
	if err != nil {
		log.Fatal(err)
	}

	r := report{Characteristics: chars}
	for _, ctrl := range ctrls {
		r.Controls = append(r.Controls, toControl(ctrl))
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "    ")
	if err := enc.Encode(r); err != nil {
		log.Fatal(err)
	}
}

func toControl(ctrl v4l2.Control) control {
	c := control{
		ID:      uint32(ctrl.ID),
		Name:    ctrl.Name,
		Min:     ctrl.Minimum,
		Max:     ctrl.Maximum,
		Step:    ctrl.Step,
		Default: ctrl.Default,
		Value:   int32(ctrl.Value),
	}
	if !ctrl.IsMenu() {
		return c
	}
	items, err := ctrl.GetMenuItems()
	if err != nil {
		return c
	}
	c.Menu = make(map[uint32]string, len(items))
	for _, item := range items {
		c.Menu[item.Index] = item.Name
	}
	return c
}
