package server

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/vincent-vinf/go-jsend"
)

const wsWriteTimeout = 2 * time.Second

func viewerSize(c *gin.Context) (int, int) {
	w, _ := strconv.Atoi(c.Query("width"))
	h, _ := strconv.Atoi(c.Query("height"))
	return w, h
}

// streamDisplay serves the preview as multipart JPEG. The viewer keeps the
// display surface alive until the client goes away.
func (s *Server) streamDisplay(c *gin.Context) {
	frames, detach := s.opts.Display.Attach(viewerSize(c))
	defer detach()

	mimeWriter := multipart.NewWriter(c.Writer)
	c.Header("Content-Type", fmt.Sprintf("multipart/x-mixed-replace; boundary=%s", mimeWriter.Boundary()))
	partHeader := make(textproto.MIMEHeader)
	partHeader.Add("Content-Type", "image/jpeg")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			partWriter, err := mimeWriter.CreatePart(partHeader)
			if err != nil {
				s.logger.Warnf("failed to create multi-part writer: %s", err)
				return
			}
			if _, err := partWriter.Write(frame); err != nil {
				s.logger.Debugf("failed to write image: %s", err)
				return
			}
			c.Writer.Flush()
		}
	}
}

func (s *Server) wsDisplay(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warnf("error upgrading websocket connection: %v", err)
		return
	}
	defer conn.Close()

	frames, detach := s.opts.Display.Attach(viewerSize(c))
	defer detach()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				s.logger.Debugf("error writing message to websocket: %v", err)
				return
			}
		}
	}
}

func (s *Server) streamNotices(c *gin.Context) {
	notices, unsub := s.opts.Notices.Subscribe()
	defer unsub()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case n, ok := <-notices:
			if !ok {
				return false
			}
			c.SSEvent("notice", n.JSON())
			return true
		}
	})
}

func (s *Server) recentNotices(c *gin.Context) {
	c.JSON(http.StatusOK, jsend.Success(s.opts.Notices.Recent()))
}
