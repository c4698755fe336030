package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func resultEvent(camera string, faces ...Emotion) Event {
	res := &DetectionResult{Success: true}
	for _, e := range faces {
		res.Faces = append(res.Faces, FaceDetection{Emotion: e, Confidence: 0.5})
	}
	return Event{Type: EventResult, CameraID: camera, Time: epoch, Result: res}
}

func TestEmotionStatsCounts(t *testing.T) {
	s := NewEmotionStats()

	s.OnEvent(resultEvent("cam1", EmotionHappy, EmotionHappy))
	s.OnEvent(resultEvent("cam1", EmotionSad, EmotionUnknown))
	s.OnEvent(resultEvent("cam2", EmotionAngry))
	s.OnEvent(Event{Type: EventStarted, CameraID: "cam1"})

	snap := s.Snapshot("cam1")
	if snap.TotalDetections != 3 {
		t.Errorf("total = %d, want 3 (unknown excluded)", snap.TotalDetections)
	}
	if snap.Emotions[EmotionHappy].Count != 2 {
		t.Errorf("happy = %d, want 2", snap.Emotions[EmotionHappy].Count)
	}
	if _, ok := snap.Emotions[EmotionUnknown]; ok {
		t.Error("unknown must not be a statistics key")
	}
	if len(snap.Emotions) != len(Emotions) {
		t.Errorf("keys = %d, want %d", len(snap.Emotions), len(Emotions))
	}
	if snap.MostCommon != EmotionHappy {
		t.Errorf("most common = %s, want happy", snap.MostCommon)
	}
	if p := snap.Emotions[EmotionSad].Percentage; p < 33.3 || p > 33.4 {
		t.Errorf("sad percentage = %v", p)
	}
}

func TestEmotionStatsEmptyAndReset(t *testing.T) {
	s := NewEmotionStats()

	if got := s.Snapshot("cam1").MostCommon; got != EmotionNeutral {
		t.Errorf("empty most common = %s, want neutral", got)
	}

	s.OnEvent(resultEvent("cam1", EmotionFear))
	s.Reset("cam1")

	snap := s.Snapshot("cam1")
	if snap.TotalDetections != 0 || snap.Emotions[EmotionFear].Count != 0 {
		t.Errorf("reset left counts: %+v", snap)
	}
	if snap.MostCommon != EmotionNeutral {
		t.Errorf("most common after reset = %s", snap.MostCommon)
	}
}

type memoryHistory struct {
	mu       sync.Mutex
	sessions []*SessionRecord
	err      error
}

func (m *memoryHistory) SaveSession(ctx context.Context, s *SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sessions = append(m.sessions, s)
	return nil
}

func (m *memoryHistory) ListSessions(ctx context.Context, cameraID string, limit int) ([]*SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions, nil
}

func TestSessionRecorder(t *testing.T) {
	store := &memoryHistory{}
	r := NewSessionRecorder(store, nil)

	r.OnEvent(Event{Type: EventStarted, CameraID: "cam1", Time: epoch})
	r.OnEvent(resultEvent("cam1", EmotionHappy))
	r.OnEvent(resultEvent("cam1", EmotionHappy, EmotionSad))
	r.OnEvent(Event{Type: EventError, CameraID: "cam1", Err: errors.New("timeout"), Kind: KindTransport})
	r.OnEvent(Event{Type: EventStopped, CameraID: "cam1", Time: epoch.Add(time.Minute)})

	if len(store.sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(store.sessions))
	}
	s := store.sessions[0]
	if s.ID == "" {
		t.Error("session id is empty")
	}
	if s.Results != 2 || s.Faces != 3 || s.Failures != 1 {
		t.Errorf("results=%d faces=%d failures=%d", s.Results, s.Faces, s.Failures)
	}
	if s.Dominant != EmotionHappy {
		t.Errorf("dominant = %s, want happy", s.Dominant)
	}
	if s.LastError != "timeout" {
		t.Errorf("last error = %q", s.LastError)
	}
	if !s.StoppedAt.Equal(epoch.Add(time.Minute)) {
		t.Errorf("stopped at = %v", s.StoppedAt)
	}
}

func TestSessionRecorderIgnoresStopWithoutStart(t *testing.T) {
	store := &memoryHistory{}
	r := NewSessionRecorder(store, nil)

	r.OnEvent(Event{Type: EventStopped, CameraID: "cam1", Time: epoch})
	if len(store.sessions) != 0 {
		t.Errorf("sessions = %d, want 0", len(store.sessions))
	}
}
