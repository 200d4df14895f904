package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vincent-vinf/go-jsend"

	"pocket-shutter/pkg/permission"
	"pocket-shutter/pkg/storage"
	"pocket-shutter/pkg/utils/ps"
)

const (
	opStart    = "start"
	opStop     = "stop"
	opOpen     = "open"
	opClose    = "close"
	opPause    = "pause"
	opResume   = "resume"
	opShutdown = "shutdown"
)

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, jsend.Success(s.opts.Coordinator.Status()))
}

// capturePhoto only queues the request; the outcome arrives as a notice.
func (s *Server) capturePhoto(c *gin.Context) {
	s.opts.Coordinator.CapturePhoto()
	c.JSON(http.StatusAccepted, jsend.Success(s.opts.Coordinator.Status()))
}

func (s *Server) ctlVideo(c *gin.Context) {
	switch c.Query("op") {
	case opStart:
		s.opts.Coordinator.StartRecording()
	case opStop:
		s.opts.Coordinator.StopRecording()
	default:
		c.JSON(http.StatusBadRequest, jsend.SimpleErr("unknown operation"))
		return
	}
	c.JSON(http.StatusAccepted, jsend.Success(s.opts.Coordinator.Status()))
}

func (s *Server) ctlDevice(c *gin.Context) {
	switch c.Query("op") {
	case opOpen:
		s.opts.Coordinator.Open()
	case opClose:
		s.opts.Coordinator.Close()
	case opPause:
		s.opts.Coordinator.Pause()
	case opResume:
		s.opts.Coordinator.Resume()
	default:
		c.JSON(http.StatusBadRequest, jsend.SimpleErr("unknown operation"))
		return
	}
	c.JSON(http.StatusAccepted, jsend.Success(s.opts.Coordinator.Status()))
}

type permissionState struct {
	Status  permission.Result       `json:"status"`
	Pending []permission.Permission `json:"pending"`
}

func (s *Server) getPermissions(c *gin.Context) {
	c.JSON(http.StatusOK, jsend.Success(permissionState{
		Status:  s.opts.Permissions.Snapshot(),
		Pending: s.opts.Permissions.Pending(),
	}))
}

type resolveRequest struct {
	Granted []permission.Permission `json:"granted"`
}

func (s *Server) resolvePermissions(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, jsend.SimpleErr(err.Error()))
		return
	}
	for _, p := range req.Granted {
		if !isKnownPermission(p) {
			c.JSON(http.StatusBadRequest, jsend.SimpleErr(fmt.Sprintf("unknown permission %q", p)))
			return
		}
	}
	if err := s.opts.Permissions.Resolve(req.Granted); err != nil {
		internalErr(c, err)
		return
	}
	c.JSON(http.StatusOK, jsend.Success(permissionState{
		Status:  s.opts.Permissions.Snapshot(),
		Pending: s.opts.Permissions.Pending(),
	}))
}

func isKnownPermission(p permission.Permission) bool {
	for _, k := range permission.All {
		if k == p {
			return true
		}
	}
	return false
}

func (s *Server) listMedia(c *gin.Context) {
	files, err := s.opts.Storage.List(storage.Kind(c.Param("kind")))
	if errors.Is(err, storage.ErrUnknownKind) {
		c.JSON(http.StatusNotFound, jsend.SimpleErr(err.Error()))
		return
	}
	if err != nil {
		internalErr(c, err)
		return
	}
	c.JSON(http.StatusOK, jsend.Success(files))
}

func (s *Server) mediaPath(c *gin.Context) (string, bool) {
	p, err := s.opts.Storage.Path(storage.Kind(c.Param("kind")), c.Param("name"))
	if err != nil {
		c.JSON(http.StatusBadRequest, jsend.SimpleErr(err.Error()))
		return "", false
	}
	return p, true
}

func (s *Server) getMedia(c *gin.Context) {
	p, ok := s.mediaPath(c)
	if !ok {
		return
	}
	c.File(p)
}

func (s *Server) deleteMedia(c *gin.Context) {
	p, ok := s.mediaPath(c)
	if !ok {
		return
	}
	if err := s.opts.Storage.Remove(p); err != nil {
		internalErr(c, err)
		return
	}
	c.JSON(http.StatusOK, jsend.Success(fmt.Sprintf("delete %s success", c.Param("name"))))
}

type usage struct {
	CPU    ps.CPU    `json:"cpu"`
	Memory ps.Memory `json:"memory"`
	Disk   ps.Disk   `json:"disk"`
}

func (s *Server) deviceUsage(c *gin.Context) {
	var (
		u   usage
		err error
	)
	if u.CPU, err = ps.CPUStatus(); err != nil {
		internalErr(c, err)
		return
	}
	if u.Memory, err = ps.MemoryStatus(); err != nil {
		internalErr(c, err)
		return
	}
	if u.Disk, err = ps.DiskStatus(s.opts.Storage.Root()); err != nil {
		internalErr(c, err)
		return
	}
	c.JSON(http.StatusOK, jsend.Success(u))
}

func (s *Server) ctlWebdav(c *gin.Context) {
	switch c.Query("op") {
	case opStart:
		addr, err := s.opts.Webdav.Start()
		if err != nil {
			internalErr(c, err)
			return
		}
		c.JSON(http.StatusOK, jsend.Success(addr))
	case opShutdown:
		if !s.opts.Webdav.Stop() {
			c.JSON(http.StatusOK, jsend.SimpleErr("the webdav service has been shut down"))
			return
		}
		c.JSON(http.StatusOK, jsend.Success(nil))
	default:
		c.JSON(http.StatusBadRequest, jsend.SimpleErr("unknown operation"))
	}
}

type scheduleState struct {
	Interval string `json:"interval"`
	Running  bool   `json:"running"`
	Shots    int    `json:"shots"`
}

func (s *Server) scheduleState() scheduleState {
	interval, shots := s.opts.Scheduler.Interval()
	return scheduleState{Interval: interval.String(), Running: interval > 0, Shots: shots}
}

func (s *Server) getSchedule(c *gin.Context) {
	c.JSON(http.StatusOK, jsend.Success(s.scheduleState()))
}

func (s *Server) beginSchedule(c *gin.Context) {
	interval, err := time.ParseDuration(c.Query("interval"))
	if err != nil {
		c.JSON(http.StatusBadRequest, jsend.SimpleErr(err.Error()))
		return
	}
	if err = s.opts.Scheduler.Begin(interval); err != nil {
		c.JSON(http.StatusBadRequest, jsend.SimpleErr(err.Error()))
		return
	}
	c.JSON(http.StatusOK, jsend.Success(s.scheduleState()))
}

func (s *Server) stopSchedule(c *gin.Context) {
	s.opts.Scheduler.Stop()
	c.JSON(http.StatusOK, jsend.Success(s.scheduleState()))
}
