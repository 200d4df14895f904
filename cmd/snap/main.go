// snap takes one photo, and optionally a short video, without the web UI.
package main

import (
	"context"
	"flag"
	"time"

	"pocket-shutter/pkg/camera"
	"pocket-shutter/pkg/camera/v4l"
	"pocket-shutter/pkg/camera/virtual"
	"pocket-shutter/pkg/coordinator"
	"pocket-shutter/pkg/display"
	"pocket-shutter/pkg/permission"
	"pocket-shutter/pkg/storage"
	"pocket-shutter/pkg/utils"
	"pocket-shutter/pkg/video"
)

var logger = utils.GetLogger()

func main() {
	devName := ""
	flag.StringVar(&devName, "d", devName, "device name (path), empty picks the first one")
	dir := flag.String("dir", "./pocket-shutter", "storage dir")
	useVirtual := flag.Bool("virtual", false, "use the virtual camera")
	width := flag.Int("w", 1920, "photo and video width")
	height := flag.Int("h", 1080, "photo and video height")
	record := flag.Duration("record", 0, "also record a video of this length")
	flag.Parse()
	defer logger.Sync()

	stg, err := storage.New(*dir)
	if err != nil {
		logger.Fatal(err)
	}
	perms, err := permission.NewStore(permission.Options{AutoGrant: true}, logger)
	if err != nil {
		logger.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var devices []string
	if devName != "" {
		devices = []string{devName}
	}
	var provider camera.Provider = v4l.NewProvider(ctx, devices, v4l.DefaultFPS)
	if *useVirtual {
		provider = virtual.New(devices, virtual.DefaultFPS)
	}

	coord := coordinator.New(coordinator.Options{
		Provider: provider,
		Gate:     permission.NewGate(perms),
		Encoder:  video.NewEncoder(logger),
		Storage:  stg,
		Config: coordinator.Config{
			DeviceID:    devName,
			PhotoWidth:  *width,
			PhotoHeight: *height,
			Video: coordinator.VideoConfig{
				Width:      *width,
				Height:     *height,
				FrameRate:  v4l.DefaultFPS,
				Container:  video.ContainerAVI,
				VideoCodec: video.CodecMJPEG,
			},
		},
	}, logger)
	defer func() {
		sctx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		_ = coord.Shutdown(sctx)
	}()

	// the coordinator only previews, and so only captures, while a display is bound
	binding := display.NewBinding(640, 480, logger)
	binding.SetListener(coord)
	frames, detach := binding.Attach(0, 0)
	defer detach()
	go func() {
		for range frames {
		}
	}()

	if !waitStatus(coord, func(s coordinator.Status) bool { return s.State == coordinator.StatePreviewing }) {
		logger.Fatalf("camera did not start: %s", coord.Status().LastError)
	}

	coord.CapturePhoto()
	if !waitStatus(coord, func(s coordinator.Status) bool { return s.LastPhoto != "" || s.LastError != "" }) {
		logger.Fatal("photo timed out")
	}
	if s := coord.Status(); s.LastPhoto != "" {
		logger.Infof("photo: %s", s.LastPhoto)
	} else {
		logger.Fatalf("photo: %s", s.LastError)
	}

	if *record <= 0 {
		return
	}
	if !waitStatus(coord, func(s coordinator.Status) bool { return s.State == coordinator.StatePreviewing }) {
		logger.Fatal("preview did not resume")
	}
	coord.StartRecording()
	if !waitStatus(coord, func(s coordinator.Status) bool { return s.Recording || s.LastError != "" }) || !coord.Status().Recording {
		logger.Fatalf("record: %s", coord.Status().LastError)
	}
	time.Sleep(*record)
	coord.StopRecording()
	if !waitStatus(coord, func(s coordinator.Status) bool { return s.LastVideo != "" }) {
		logger.Fatalf("record: %s", coord.Status().LastError)
	}
	logger.Infof("video: %s", coord.Status().LastVideo)
}

func waitStatus(coord *coordinator.Coordinator, cond func(coordinator.Status) bool) bool {
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond(coord.Status()) {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return false
}
