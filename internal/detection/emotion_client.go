package detection

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"moodcam/internal/pipeline"
)

// maxResponseBytes bounds a detection response body
const maxResponseBytes = 4 << 20

// EmotionClient calls the emotion detection service over HTTP/JSON
type EmotionClient struct {
	endpoint   string
	client     *http.Client
	logger     *slog.Logger
	mu         sync.RWMutex
	healthy    bool
	lastHealth time.Time
}

// EmotionClientConfig holds configuration for the HTTP emotion client
type EmotionClientConfig struct {
	Endpoint string        // Base URL, e.g. http://localhost:5000
	Timeout  time.Duration // Per-request timeout; the loop itself imposes none
}

// detectRequest is the body of POST /emotion/detect
type detectRequest struct {
	Image string `json:"image"` // data:image/jpeg;base64,...
}

// wireFace is one face as the service reports it
type wireFace struct {
	Emotion        string    `json:"emotion"`
	Confidence     float64   `json:"confidence"`
	Box            []float64 `json:"box"` // [x1, y1, x2, y2]
	Label          string    `json:"label,omitempty"`
	EmotionChinese string    `json:"emotion_chinese,omitempty"`
}

// DetectResponse is the body returned by the service for one frame
type DetectResponse struct {
	Success         bool       `json:"success"`
	Emotions        []wireFace `json:"emotions"`
	DominantEmotion string     `json:"dominant_emotion"`
	Confidence      float64    `json:"confidence"`
	FacesDetected   int        `json:"faces_detected"`
	Error           string     `json:"error,omitempty"`
}

// ServiceInfo is the data of GET /emotion/service-info
type ServiceInfo struct {
	ModelLoaded     bool     `json:"model_loaded"`
	NPUAvailable    bool     `json:"npu_available"`
	EmotionLabels   []string `json:"emotion_labels"`
	TotalDetections int      `json:"total_detections"`
}

type serviceInfoResponse struct {
	Success bool        `json:"success"`
	Data    ServiceInfo `json:"data"`
	Error   string      `json:"error,omitempty"`
}

// NewEmotionClient creates a new HTTP emotion detection client
func NewEmotionClient(config EmotionClientConfig, logger *slog.Logger) *EmotionClient {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &EmotionClient{
		endpoint: strings.TrimRight(config.Endpoint, "/"),
		client: &http.Client{
			Timeout: timeout,
		},
		logger: logger.With("component", "emotion_client"),
	}
}

// Name implements pipeline.Detector
func (c *EmotionClient) Name() string {
	return "http"
}

// Detect sends one JPEG frame and converts the response.
// The request is aborted when ctx is cancelled.
func (c *EmotionClient) Detect(ctx context.Context, frame *pipeline.Frame) (*pipeline.DetectionResult, error) {
	body, err := json.Marshal(detectRequest{Image: DataURL(frame.Data)})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	url := fmt.Sprintf("%s/emotion/detect", c.endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, pipeline.TransportError(c.Name(), fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, pipeline.TransportError(c.Name(), fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, pipeline.TransportError(c.Name(), fmt.Errorf("failed to read response: %w", err))
	}
	if len(raw) > maxResponseBytes {
		return nil, pipeline.TransportError(c.Name(), fmt.Errorf("response exceeds %d bytes", maxResponseBytes))
	}

	var decoded DetectResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, pipeline.TransportError(c.Name(), fmt.Errorf("service returned status %d: %s", resp.StatusCode, truncate(raw, 200)))
		}
		return nil, pipeline.TransportError(c.Name(), fmt.Errorf("failed to decode response: %w", err))
	}

	// Error bodies carry success=false whatever the status code
	if !decoded.Success {
		return nil, pipeline.ApplicationError(c.Name(), decoded.Error)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, pipeline.TransportError(c.Name(), fmt.Errorf("service returned status %d", resp.StatusCode))
	}

	return ConvertResponse(&decoded, frame.Width, frame.Height)
}

// CheckHealth queries /emotion/service-info and records whether the model is loaded
func (c *EmotionClient) CheckHealth(ctx context.Context) error {
	err := c.checkHealth(ctx)

	c.mu.Lock()
	c.healthy = err == nil
	c.lastHealth = time.Now()
	c.mu.Unlock()

	return err
}

func (c *EmotionClient) checkHealth(ctx context.Context) error {
	url := fmt.Sprintf("%s/emotion/service-info", c.endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	var info serviceInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return fmt.Errorf("failed to decode health response: %w", err)
	}
	if !info.Success {
		return fmt.Errorf("service unhealthy: %s", info.Error)
	}
	if !info.Data.ModelLoaded {
		return errors.New("service unhealthy: model not loaded")
	}
	return nil
}

// IsHealthy returns the result of the last health check
func (c *EmotionClient) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.healthy
}

// Close implements io.Closer; the HTTP client holds nothing to release
func (c *EmotionClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// DataURL wraps JPEG bytes the way the service expects them
func DataURL(jpeg []byte) string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpeg)
}

// ConvertResponse maps a successful service response onto a DetectionResult.
// Unrecognized labels become pipeline.EmotionUnknown; malformed boxes are an application failure.
// With a known frame size, boxes are clamped to the frame and faces entirely outside it are dropped.
func ConvertResponse(resp *DetectResponse, frameWidth, frameHeight int) (*pipeline.DetectionResult, error) {
	result := &pipeline.DetectionResult{
		Success:    true,
		Dominant:   pipeline.ParseEmotion(resp.DominantEmotion),
		Confidence: resp.Confidence,
		Faces:      make([]pipeline.FaceDetection, 0, len(resp.Emotions)),
	}
	if resp.DominantEmotion == "" {
		result.Dominant = pipeline.EmotionNeutral
	}

	for i, f := range resp.Emotions {
		if len(f.Box) != 4 {
			return nil, pipeline.ApplicationError("http", fmt.Sprintf("face %d: box has %d coordinates", i, len(f.Box)))
		}
		for _, v := range f.Box {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, pipeline.ApplicationError("http", fmt.Sprintf("face %d: non-finite box coordinate", i))
			}
		}
		box := pipeline.BBox{
			X1: math.Min(f.Box[0], f.Box[2]),
			Y1: math.Min(f.Box[1], f.Box[3]),
			X2: math.Max(f.Box[0], f.Box[2]),
			Y2: math.Max(f.Box[1], f.Box[3]),
		}
		if frameWidth > 0 && frameHeight > 0 {
			box = clampBox(box, float64(frameWidth), float64(frameHeight))
			if box.Width() <= 0 || box.Height() <= 0 {
				continue
			}
		}

		label := f.Emotion
		if label == "" {
			label = f.Label
		}
		result.Faces = append(result.Faces, pipeline.FaceDetection{
			Box:        box,
			Emotion:    pipeline.ParseEmotion(label),
			Label:      label,
			Confidence: clamp01(f.Confidence),
		})
	}

	return result, nil
}

func clampBox(b pipeline.BBox, width, height float64) pipeline.BBox {
	return pipeline.BBox{
		X1: math.Max(0, math.Min(b.X1, width)),
		Y1: math.Max(0, math.Min(b.Y1, height)),
		X2: math.Max(0, math.Min(b.X2, width)),
		Y2: math.Max(0, math.Min(b.Y2, height)),
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

var _ pipeline.Detector = (*EmotionClient)(nil)
