package main

import (
	"context"
	"flag"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"pocket-shutter/pkg/camera"
	"pocket-shutter/pkg/camera/v4l"
	"pocket-shutter/pkg/camera/virtual"
	"pocket-shutter/pkg/clock"
	"pocket-shutter/pkg/config"
	"pocket-shutter/pkg/coordinator"
	"pocket-shutter/pkg/display"
	"pocket-shutter/pkg/notice"
	"pocket-shutter/pkg/permission"
	"pocket-shutter/pkg/schedule"
	"pocket-shutter/pkg/server"
	"pocket-shutter/pkg/storage"
	"pocket-shutter/pkg/utils"
	"pocket-shutter/pkg/video"
	"pocket-shutter/pkg/webdav"
)

var (
	configFile = flag.String("config", "./pocket-shutter.yaml", "config file")
	port       = flag.Int("port", 0, "ui port, overrides the config file")
	storageDir = flag.String("dir", "", "storage dir, overrides the config file")
	useVirtual = flag.Bool("virtual", false, "use the virtual camera")

	logger *zap.SugaredLogger
)

func init() {
	logger = utils.GetLogger()
	flag.Parse()
}

func main() {
	defer logger.Sync()

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Fatal(err)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *storageDir != "" {
		cfg.Storage.Dir = *storageDir
	}
	if *useVirtual {
		cfg.Camera.Driver = config.DriverVirtual
	}
	if err = utils.SetLevel(cfg.Log.Level); err != nil {
		logger.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var clk clock.Clock = clock.System{}
	if cfg.Clock.NTPServer != "" {
		c := clock.NewNTP(cfg.Clock.NTPServer, logger)
		_ = c.Sync()
		clk = c
	}

	stg, err := storage.New(cfg.Storage.Dir)
	if err != nil {
		logger.Fatal(err)
	}
	notices := notice.NewBroadcaster()

	provider, devicePath := newProvider(ctx, cfg)

	permFile := cfg.Permissions.File
	if permFile == "" {
		// kept out of the storage dir, which webdav exports
		permFile = filepath.Join(filepath.Dir(*configFile), "permissions.json")
	}
	perms, err := permission.NewStore(permission.Options{
		Path:      permFile,
		AutoGrant: cfg.Permissions.AutoGrant,
		Probe:     permission.AccessProbe(devicePath, stg.Root()),
		Notifier:  notices,
	}, logger)
	if err != nil {
		logger.Fatal(err)
	}

	coord := coordinator.New(coordinator.Options{
		Provider: provider,
		Gate:     permission.NewGate(perms),
		Encoder:  video.NewEncoder(logger),
		Storage:  stg,
		Clock:    clk,
		Notifier: notices,
		Config: coordinator.Config{
			DeviceID:    cfg.Camera.Device,
			PhotoWidth:  cfg.Photo.Width,
			PhotoHeight: cfg.Photo.Height,
			Video: coordinator.VideoConfig{
				Width:       cfg.Video.Width,
				Height:      cfg.Video.Height,
				FrameRate:   cfg.Video.FrameRate,
				BitRate:     cfg.Video.BitRate,
				Container:   cfg.Video.Container,
				VideoCodec:  cfg.Video.VideoCodec,
				AudioCodec:  cfg.Video.AudioCodec,
				AudioSource: cfg.Video.AudioSource,
			},
		},
	}, logger)

	binding := display.NewBinding(cfg.Display.Width, cfg.Display.Height, logger)
	binding.SetListener(coord)

	srv := server.New(server.Options{
		Coordinator: coord,
		Display:     binding,
		Notices:     notices,
		Permissions: perms,
		Storage:     stg,
		Scheduler:   schedule.New(ctx, coord, logger),
		Webdav:      webdav.New(ctx, cfg.Server.WebdavPort, stg.Root(), logger),
		Statics:     cfg.Server.Statics,
	}, logger)
	h, err := srv.Handler()
	if err != nil {
		logger.Fatal(err)
	}

	logger.Infof("listening on :%d, camera driver %s", cfg.Server.Port, cfg.Camera.Driver)
	if err = utils.ListenAndServe(h, cfg.Server.Port); err != nil {
		logger.Error(err)
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err = coord.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("coordinator shutdown: %s", err)
	}
}

// newProvider returns the camera provider of the configured driver and the
// device node the camera permission is probed against.
func newProvider(ctx context.Context, cfg *config.Config) (camera.Provider, string) {
	var devices []string
	if cfg.Camera.Device != "" {
		devices = []string{cfg.Camera.Device}
	}
	if cfg.Camera.Driver == config.DriverVirtual {
		return virtual.New(devices, cfg.Camera.FPS), ""
	}

	devicePath := cfg.Camera.Device
	if devicePath == "" {
		devicePath = v4l.DefaultDevice
	}
	return v4l.NewProvider(ctx, devices, cfg.Camera.FPS), devicePath
}
