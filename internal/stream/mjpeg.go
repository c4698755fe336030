package stream

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
)

// MJPEGStream fans composited overlay frames out to multipart/x-mixed-replace clients
type MJPEGStream struct {
	cameraID string
	logger   *slog.Logger

	clients   map[chan []byte]bool
	clientsMu sync.RWMutex

	currentFrame []byte
	frameSeq     uint64
	frameMu      sync.RWMutex

	closed bool
}

// MJPEGStreamManager manages MJPEG streams for all cameras
type MJPEGStreamManager struct {
	streams map[string]*MJPEGStream
	mu      sync.RWMutex
	logger  *slog.Logger
}

// NewMJPEGStreamManager creates a new stream manager
func NewMJPEGStreamManager(logger *slog.Logger) *MJPEGStreamManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &MJPEGStreamManager{
		streams: make(map[string]*MJPEGStream),
		logger:  logger.With("component", "mjpeg"),
	}
}

// CreateStream returns the stream for a camera, creating it if needed
func (m *MJPEGStreamManager) CreateStream(cameraID string) *MJPEGStream {
	m.mu.Lock()
	defer m.mu.Unlock()

	if stream, exists := m.streams[cameraID]; exists {
		return stream
	}

	stream := &MJPEGStream{
		cameraID: cameraID,
		logger:   m.logger.With("camera", cameraID),
		clients:  make(map[chan []byte]bool),
	}
	m.streams[cameraID] = stream

	stream.logger.Debug("created stream")
	return stream
}

// DeleteStream closes and removes a stream
func (m *MJPEGStreamManager) DeleteStream(cameraID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stream, exists := m.streams[cameraID]
	if !exists {
		return fmt.Errorf("stream not found for camera %s", cameraID)
	}

	stream.Close()
	delete(m.streams, cameraID)
	return nil
}

// GetStream returns a stream by camera ID
func (m *MJPEGStreamManager) GetStream(cameraID string) *MJPEGStream {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.streams[cameraID]
}

// Snapshot returns the latest frame of a camera, or nil
func (m *MJPEGStreamManager) Snapshot(cameraID string) []byte {
	s := m.GetStream(cameraID)
	if s == nil {
		return nil
	}
	return s.CurrentFrame()
}

// CameraIDs returns the cameras with a stream, sorted
func (m *MJPEGStreamManager) CameraIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.streams))
	for id := range m.streams {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close closes every stream and disconnects their clients
func (m *MJPEGStreamManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, stream := range m.streams {
		stream.Close()
		delete(m.streams, id)
	}
}

// ServeHTTP handles MJPEG stream requests on /video/{camera_id}
func (m *MJPEGStreamManager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cameraID := lastPathSegment(r.URL.Path)
	if cameraID == "" {
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return
	}

	stream := m.GetStream(cameraID)
	if stream == nil {
		http.Error(w, fmt.Sprintf("Stream not found for camera %s", cameraID), http.StatusNotFound)
		return
	}

	stream.ServeHTTP(w, r)
}

// Publish stores frame as the current frame and sends it to every client.
// Slow clients skip frames; Publish never blocks.
func (s *MJPEGStream) Publish(frame []byte) {
	if len(frame) == 0 {
		return
	}

	s.frameMu.Lock()
	s.currentFrame = frame
	s.frameSeq++
	s.frameMu.Unlock()

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for ch := range s.clients {
		select {
		case ch <- frame:
		default:
			// Client is slow, skip frame
		}
	}
}

// CurrentFrame returns the last published frame, nil before the first
func (s *MJPEGStream) CurrentFrame() []byte {
	s.frameMu.RLock()
	defer s.frameMu.RUnlock()
	return s.currentFrame
}

// FrameSeq returns the number of frames published so far
func (s *MJPEGStream) FrameSeq() uint64 {
	s.frameMu.RLock()
	defer s.frameMu.RUnlock()
	return s.frameSeq
}

// ClientCount returns the number of connected viewers
func (s *MJPEGStream) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// Close disconnects all clients. Later subscriptions are refused.
func (s *MJPEGStream) Close() {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for ch := range s.clients {
		close(ch)
		delete(s.clients, ch)
	}
}

func (s *MJPEGStream) subscribe() (chan []byte, bool) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()

	if s.closed {
		return nil, false
	}
	ch := make(chan []byte, 5)
	s.clients[ch] = true
	return ch, true
}

func (s *MJPEGStream) unsubscribe(ch chan []byte) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	delete(s.clients, ch)
}

// ServeHTTP serves the MJPEG stream to a client
func (s *MJPEGStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	clientCh, ok := s.subscribe()
	if !ok {
		http.Error(w, "Stream closed", http.StatusGone)
		return
	}
	defer s.unsubscribe(clientCh)

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.logger.Info("client connected")

	// Start with the latest frame so a viewer never waits for the next render tick
	if frame := s.CurrentFrame(); frame != nil {
		if writeFrame(w, frame) != nil {
			return
		}
		flusher.Flush()
	}

	for {
		select {
		case <-r.Context().Done():
			s.logger.Info("client disconnected")
			return
		case frame, ok := <-clientCh:
			if !ok {
				return
			}
			if err := writeFrame(w, frame); err != nil {
				s.logger.Debug("write failed", "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

func writeFrame(w http.ResponseWriter, frame []byte) error {
	if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(frame)); err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\r\n")
	return err
}

// SnapshotHandler serves single frame snapshots
type SnapshotHandler struct {
	manager *MJPEGStreamManager
}

// NewSnapshotHandler creates a new snapshot handler
func NewSnapshotHandler(manager *MJPEGStreamManager) *SnapshotHandler {
	return &SnapshotHandler{manager: manager}
}

// ServeHTTP serves a single JPEG snapshot on /video/snapshot/{camera_id}
func (h *SnapshotHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cameraID := lastPathSegment(r.URL.Path)
	if cameraID == "" {
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return
	}

	stream := h.manager.GetStream(cameraID)
	if stream == nil {
		http.Error(w, fmt.Sprintf("Stream not found for camera %s", cameraID), http.StatusNotFound)
		return
	}

	frame := stream.CurrentFrame()
	if frame == nil {
		http.Error(w, "No frame available", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(frame)))
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(frame)
}

func lastPathSegment(path string) string {
	path = strings.TrimRight(path, "/")
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return path
	}
	return path[idx+1:]
}
