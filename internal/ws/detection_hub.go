package ws

import (
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"moodcam/internal/pipeline"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 16
)

// client is one websocket connection. Only writePump writes to conn.
type client struct {
	cameraID string
	conn     *websocket.Conn
	send     chan []byte
	once     sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// DetectionHub manages WebSocket connections for live annotation push
type DetectionHub struct {
	// clients maps camera_id -> set of connections
	clients map[string]map[*client]bool
	mu      sync.RWMutex
	logger  *slog.Logger
}

// NewDetectionHub creates a new detection hub
func NewDetectionHub(logger *slog.Logger) *DetectionHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &DetectionHub{
		clients: make(map[string]map[*client]bool),
		logger:  logger.With("component", "ws"),
	}
}

// Register adds a connection for a specific camera and starts its writer
func (h *DetectionHub) Register(cameraID string, conn *websocket.Conn) *client {
	c := &client{
		cameraID: cameraID,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
	}

	h.mu.Lock()
	if h.clients[cameraID] == nil {
		h.clients[cameraID] = make(map[*client]bool)
	}
	h.clients[cameraID][c] = true
	total := len(h.clients[cameraID])
	h.mu.Unlock()

	h.logger.Info("client registered", "camera", cameraID, "total", total)

	go h.writePump(c)
	return c
}

// Unregister removes a connection and stops its writer
func (h *DetectionHub) Unregister(c *client) {
	h.mu.Lock()
	if conns, ok := h.clients[c.cameraID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.clients, c.cameraID)
		}
	}
	h.mu.Unlock()

	c.close()
	h.logger.Info("client unregistered", "camera", c.cameraID)
}

// HasClients returns true if there are any clients connected for a camera
func (h *DetectionHub) HasClients(cameraID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	conns, ok := h.clients[cameraID]
	return ok && len(conns) > 0
}

// GetRegisteredCameras returns all camera IDs with clients, sorted
func (h *DetectionHub) GetRegisteredCameras() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	cameras := make([]string, 0, len(h.clients))
	for cameraID := range h.clients {
		cameras = append(cameras, cameraID)
	}
	sort.Strings(cameras)
	return cameras
}

// BroadcastToCamera queues a message for every client of a camera.
// Clients whose queue is full miss the message; only the latest state matters.
func (h *DetectionHub) BroadcastToCamera(cameraID string, message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients[cameraID] {
		select {
		case c.send <- message:
		default:
			h.logger.Debug("client queue full, dropping message", "camera", cameraID)
		}
	}
}

// Broadcast marshals msg and sends it to the camera's clients
func (h *DetectionHub) Broadcast(cameraID string, msg any) {
	if !h.HasClients(cameraID) {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal message", "camera", cameraID, "error", err)
		return
	}
	h.BroadcastToCamera(cameraID, data)
}

// OnEvent implements pipeline.EventHandler, turning events into client messages
func (h *DetectionHub) OnEvent(event pipeline.Event) {
	switch event.Type {
	case pipeline.EventResult:
		if event.Annotations == nil {
			return
		}
		msg := NewAnnotationMessage(event.CameraID, event.Annotations, event.Time)
		if event.Result != nil {
			msg.LatencyMs = event.Result.Latency.Milliseconds()
		}
		h.Broadcast(event.CameraID, msg)
	case pipeline.EventStarted, pipeline.EventStopped:
		h.Broadcast(event.CameraID, NewStatusMessage(event.CameraID, string(event.Type), event.Time))
	case pipeline.EventError:
		h.Broadcast(event.CameraID, NewErrorMessage(event.CameraID, event.Kind, event.Err, event.Time))
	}
}

// ClientCount returns the total number of connected clients
func (h *DetectionHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, conns := range h.clients {
		count += len(conns)
	}
	return count
}

// Close disconnects every client
func (h *DetectionHub) Close() {
	h.mu.Lock()
	var all []*client
	for cameraID, conns := range h.clients {
		for c := range conns {
			all = append(all, c)
		}
		delete(h.clients, cameraID)
	}
	h.mu.Unlock()

	for _, c := range all {
		c.close()
	}
}

// writePump sends queued messages and pings until the client is closed
func (h *DetectionHub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Debug("write failed", "camera", c.cameraID, "error", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

var _ pipeline.EventHandler = (*DetectionHub)(nil)
