package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"moodcam/internal/pipeline"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestRecorderCounters(t *testing.T) {
	m := New()
	m.Submitted("cam1")
	m.Submitted("cam1")
	m.Cancelled("cam1")
	m.Discarded("cam1")
	m.Applied("cam1", 3, 80*time.Millisecond)
	m.Failed("cam1", pipeline.KindTransport)
	m.Rendered("cam1", 3)
	m.SetRunning("cam1", true)

	out := scrape(t, m)
	for _, want := range []string{
		`moodcam_detections_submitted_total{camera="cam1"} 2`,
		`moodcam_detections_cancelled_total{camera="cam1"} 1`,
		`moodcam_detections_discarded_total{camera="cam1"} 1`,
		`moodcam_detections_applied_total{camera="cam1"} 1`,
		`moodcam_faces_detected_total{camera="cam1"} 3`,
		`moodcam_detections_failed_total{camera="cam1",kind="transport"} 1`,
		`moodcam_detection_latency_seconds_count{camera="cam1"} 1`,
		`moodcam_rendered_boxes{camera="cam1"} 3`,
		`moodcam_pipeline_running{camera="cam1"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %s", want)
		}
	}
}

func TestGaugeFunc(t *testing.T) {
	m := New()
	clients := 4
	m.RegisterGaugeFunc("moodcam_ws_clients", "Connected websocket clients", func() float64 { return float64(clients) })

	if out := scrape(t, m); !strings.Contains(out, "moodcam_ws_clients 4") {
		t.Error("gauge func not exported")
	}
}
