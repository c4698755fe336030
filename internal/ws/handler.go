package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 16 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// SurfaceResizer applies client-reported render sizes to a camera's overlay
type SurfaceResizer interface {
	Resize(cameraID string, width, height int) error
}

// Handler handles WebSocket connections for live annotations
type Handler struct {
	hub     *DetectionHub
	resizer SurfaceResizer
	logger  *slog.Logger
}

// NewHandler creates a new WebSocket handler. resizer may be nil.
func NewHandler(hub *DetectionHub, resizer SurfaceResizer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{hub: hub, resizer: resizer, logger: logger.With("component", "ws")}
}

// ServeHTTP handles WebSocket upgrade requests
// Expected URL format: /ws/annotations/{camera_id}
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSuffix(r.URL.Path, "/")
	cameraID := path[strings.LastIndex(path, "/")+1:]

	if cameraID == "" || cameraID == "annotations" {
		http.Error(w, "camera_id required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", "error", err)
		return
	}

	h.logger.Info("new connection", "camera", cameraID, "remote", r.RemoteAddr)

	c := h.hub.Register(cameraID, conn)
	go h.readPump(c)
}

// readPump reads client messages until the connection drops
func (h *Handler) readPump(c *client) {
	defer h.hub.Unregister(c)

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("read error", "camera", c.cameraID, "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		h.handleMessage(c.cameraID, data)
	}
}

func (h *Handler) handleMessage(cameraID string, data []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.logger.Debug("ignoring malformed message", "camera", cameraID, "error", err)
		return
	}

	switch msg.Type {
	case TypeResize:
		if h.resizer == nil {
			return
		}
		if err := h.resizer.Resize(cameraID, msg.Width, msg.Height); err != nil {
			h.logger.Warn("resize rejected", "camera", cameraID, "width", msg.Width, "height", msg.Height, "error", err)
		}
	default:
		h.logger.Debug("ignoring message", "camera", cameraID, "type", msg.Type)
	}
}
