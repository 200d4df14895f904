// Package server exposes the camera over HTTP: the buttons, the live preview
// and the notice stream.
package server

import (
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/vincent-vinf/go-jsend"
	"go.uber.org/zap"

	"pocket-shutter/pkg/coordinator"
	"pocket-shutter/pkg/display"
	"pocket-shutter/pkg/notice"
	"pocket-shutter/pkg/permission"
	"pocket-shutter/pkg/storage"
	"pocket-shutter/pkg/utils"
)

type Coordinator interface {
	Open()
	Close()
	Pause()
	Resume()
	CapturePhoto()
	StartRecording()
	StopRecording()
	Status() coordinator.Status
}

type Permissions interface {
	Snapshot() permission.Result
	Pending() []permission.Permission
	Resolve(granted []permission.Permission) error
}

type Scheduler interface {
	Begin(interval time.Duration) error
	Stop()
	Interval() (time.Duration, int)
}

type Exporter interface {
	Start() (string, error)
	Stop() bool
}

type Options struct {
	Coordinator Coordinator
	Display     *display.Binding
	Notices     *notice.Broadcaster
	Permissions Permissions
	Storage     *storage.Storage
	Scheduler   Scheduler
	Webdav      Exporter
	// Statics is an optional web UI directory served at /.
	Statics string
}

type Server struct {
	opts     Options
	logger   *zap.SugaredLogger
	upgrader websocket.Upgrader
}

func New(opts Options, logger *zap.SugaredLogger) *Server {
	return &Server{
		opts:   opts,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) Handler() (http.Handler, error) {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(utils.Cors())
	if s.opts.Statics != "" {
		if err := registerStaticsDir(r, s.opts.Statics, "/"); err != nil {
			return nil, err
		}
	}
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, jsend.SimpleErr("page not found"))
	})

	apiRouter := r.Group("/api")
	apiRouter.GET("/status", s.getStatus)
	apiRouter.POST("/photo", s.capturePhoto)
	apiRouter.PUT("/video", s.ctlVideo)
	apiRouter.GET("/notices", s.streamNotices)
	apiRouter.GET("/notices/recent", s.recentNotices)
	apiRouter.GET("/permissions", s.getPermissions)
	apiRouter.POST("/permissions", s.resolvePermissions)

	deviceRouter := apiRouter.Group("/device")
	deviceRouter.PUT("", s.ctlDevice)
	deviceRouter.GET("/usage", s.deviceUsage)
	deviceRouter.PUT("/webdav", s.ctlWebdav)

	displayRouter := apiRouter.Group("/display")
	displayRouter.GET("/stream", s.streamDisplay)
	displayRouter.GET("/ws", s.wsDisplay)

	mediaRouter := apiRouter.Group("/media")
	mediaRouter.GET("/:kind", s.listMedia)
	mediaRouter.GET("/:kind/:name", s.getMedia)
	mediaRouter.DELETE("/:kind/:name", s.deleteMedia)

	scheduleRouter := apiRouter.Group("/schedule")
	scheduleRouter.GET("", s.getSchedule)
	scheduleRouter.PUT("", s.beginSchedule)
	scheduleRouter.DELETE("", s.stopSchedule)

	return r, nil
}

func registerStaticsDir(group gin.IRoutes, dir, relativeGroup string) error {
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return fmt.Errorf("the specified directory %s does not exist", dir)
	}
	dir = filepath.ToSlash(filepath.Clean(dir))
	group.StaticFile(relativeGroup, filepath.Join(dir, "index.html"))
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			relativePath := path.Join(relativeGroup, strings.Replace(filepath.ToSlash(p), dir, "", 1))
			group.StaticFile(relativePath, p)
		}
		return nil
	})
}

func internalErr(c *gin.Context, err error) {
	c.JSON(http.StatusInternalServerError, jsend.SimpleErr(err.Error()))
}
