package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"FinWindow/internal/domain/models"
	"FinWindow/internal/usecase"
	xhttp "FinWindow/pkg/http"
	xlogger "FinWindow/pkg/logger"
)

type StreamConfig struct {
	PingInterval time.Duration
	PongWait     time.Duration
	WriteTimeout time.Duration
	// AllowedOrigins empty means any origin.
	AllowedOrigins []string
}

func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		PingInterval: 30 * time.Second,
		PongWait:     75 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Stream message types.
const (
	msgView  = "view"
	msgZoom  = "zoom"
	msgError = "error"
)

type streamOut struct {
	Type    string       `json:"type"`
	View    *models.View `json:"view,omitempty"`
	Message string       `json:"message,omitempty"`
}

type streamIn struct {
	Type     string `json:"type"`
	IsZoomed bool   `json:"is_zoomed"`
	XDomain  []int  `json:"x_domain"`
}

func (h *WindowHandler) upgrader() *websocket.Upgrader {
	origins := h.stream.AllowedOrigins
	return &websocket.Upgrader{
		EnableCompression: true,
		CheckOrigin: func(r *http.Request) bool {
			if len(origins) == 0 {
				return true
			}
			o := r.Header.Get("Origin")
			for _, allowed := range origins {
				if o == allowed {
					return true
				}
			}
			return false
		},
	}
}

// Stream pushes every View change of the session and accepts zoom reports from the client.
// Pong frames keep the session from idle eviction.
func (h *WindowHandler) Stream(c echo.Context) error {
	ctrl, err := h.session(c)
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	conn, err := h.upgrader().Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader has already answered
		h.logger.Warn("stream upgrade failed", xlogger.String("session", ctrl.SessionID()), xlogger.Error(err))
		return nil
	}
	defer conn.Close()

	views, cancel := ctrl.Subscribe()
	defer cancel()

	out := make(chan streamOut, 8)
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.writeLoop(conn, views, out, done)
	}()

	h.logger.Debug("stream opened", xlogger.String("session", ctrl.SessionID()))
	h.readLoop(conn, ctrl, out)
	close(done)
	wg.Wait()
	h.logger.Debug("stream closed", xlogger.String("session", ctrl.SessionID()))
	return nil
}

// writeLoop is the only writer on conn.
func (h *WindowHandler) writeLoop(conn *websocket.Conn, views <-chan models.View, out <-chan streamOut, done <-chan struct{}) {
	ping := time.NewTicker(h.stream.PingInterval)
	defer ping.Stop()

	write := func(v interface{}) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(h.stream.WriteTimeout))
		return conn.WriteJSON(v) == nil
	}

	for {
		select {
		case v, ok := <-views:
			if !ok {
				// session closed
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"),
					time.Now().Add(h.stream.WriteTimeout))
				_ = conn.Close()
				return
			}
			if !write(streamOut{Type: msgView, View: &v}) {
				_ = conn.Close()
				return
			}
		case m := <-out:
			if !write(m) {
				_ = conn.Close()
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.stream.WriteTimeout)); err != nil {
				_ = conn.Close()
				return
			}
		case <-done:
			return
		}
	}
}

func (h *WindowHandler) readLoop(conn *websocket.Conn, ctrl *usecase.WindowController, out chan<- streamOut) {
	id := ctrl.SessionID()
	_ = conn.SetReadDeadline(time.Now().Add(h.stream.PongWait))
	conn.SetPongHandler(func(string) error {
		_, _ = h.registry.Get(id)
		return conn.SetReadDeadline(time.Now().Add(h.stream.PongWait))
	})

	reply := func(m streamOut) {
		select {
		case out <- m:
		default:
		}
	}

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.stream.PongWait))
		if mt != websocket.TextMessage {
			continue
		}
		if _, err := h.registry.Get(id); err != nil {
			return
		}

		var in streamIn
		if err := json.Unmarshal(data, &in); err != nil {
			reply(streamOut{Type: msgError, Message: "invalid message"})
			continue
		}
		if in.Type != msgZoom {
			reply(streamOut{Type: msgError, Message: "unknown message type " + in.Type})
			continue
		}
		if len(in.XDomain) != 2 || in.XDomain[0] < 0 || in.XDomain[1] < 0 {
			reply(streamOut{Type: msgError, Message: "x_domain must hold two non-negative indices"})
			continue
		}
		if !h.zoomRL.Allow(id) {
			h.metrics.RecordDropped("rate_limited")
			reply(streamOut{Type: msgError, Message: "too many zoom updates"})
			continue
		}
		z := models.ZoomState{IsZoomed: in.IsZoomed}
		copy(z.XDomain[:], in.XDomain)
		ctrl.OnZoomChange(z)
	}
}
