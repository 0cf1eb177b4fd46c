package session_module

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/ethanbaker/meeting-assistant/internal/capture"
	"github.com/ethanbaker/meeting-assistant/pkg/sdk"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// MediaRecorder chunks are small; video keyframes are the largest frames
	maxUploadFrame = 8 << 20
)

func (s *SessionService) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  32 << 10,
		WriteBufferSize: 4 << 10,
		CheckOrigin:     s.checkOrigin,
	}
}

// UploadTrack handles the websocket a browser streams one track's MediaRecorder
// chunks over. Binary frames are track data; closing the socket ends the track
func UploadTrack(c *gin.Context) {
	id := c.Param("id")

	writer, err := sessionService.Upload(id)
	if err != nil {
		code := http.StatusConflict
		if errors.Is(err, capture.ErrUnknownTrack) {
			code = http.StatusNotFound
		}
		c.JSON(sdk.NewErrorResponse(code, "Could not attach to track", err).AsGinResponse())
		return
	}

	conn, err := sessionService.upgrader().Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		_ = writer.Close()
		return
	}

	sessionService.pumpUpload(conn, id, writer)
}

func (s *SessionService) pumpUpload(conn *websocket.Conn, id string, writer io.WriteCloser) {
	log := s.log.With(zap.String("track", id))
	defer conn.Close()
	defer writer.Close()

	conn.SetReadLimit(maxUploadFrame)
	log.Info("track upload attached")

	var written int64
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("track upload read error", zap.Error(err))
			}
			break
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		n, err := writer.Write(data)
		written += int64(n)
		if err != nil {
			// The track was stopped by the session
			log.Info("track closed while uploading", zap.Error(err))
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "track ended"),
				time.Now().Add(writeWait))
			break
		}
	}

	log.Info("track upload detached", zap.Int64("bytes", written))
}

// StreamEvents handles the websocket pushing a session snapshot after every
// state change, starting with the current one
func StreamEvents(c *gin.Context) {
	conn, err := sessionService.upgrader().Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	sessionService.pumpEvents(conn)
}

func (s *SessionService) pumpEvents(conn *websocket.Conn) {
	defer conn.Close()

	updates, cancel := s.controller.Subscribe()
	defer cancel()

	// Read side only handles control frames and notices the client leaving
	gone := make(chan struct{})
	go func() {
		defer close(gone)

		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	if err := writeSnapshot(conn, s.Snapshot()); err != nil {
		return
	}

	for {
		select {
		case <-gone:
			return

		case snap, ok := <-updates:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(writeWait))
				return
			}
			if err := writeSnapshot(conn, toSnapshotDTO(snap)); err != nil {
				s.log.Debug("event write failed", zap.Error(err))
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeSnapshot(conn *websocket.Conn, snap sdk.SessionSnapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, b)
}
