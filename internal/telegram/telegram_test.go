package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"moodcam/internal/clock"
	"moodcam/internal/pipeline"
)

type apiCall struct {
	method  string
	text    string
	caption string
	photo   []byte
}

// fakeAPI records Bot API calls and serves queued getUpdates results
type fakeAPI struct {
	mu      sync.Mutex
	calls   []apiCall
	updates [][]Update
	seen    chan apiCall
}

func newFakeAPI(t *testing.T) (*fakeAPI, *httptest.Server) {
	t.Helper()
	api := &fakeAPI{seen: make(chan apiCall, 16)}
	server := httptest.NewServer(http.HandlerFunc(api.serve))
	t.Cleanup(server.Close)
	return api, server
}

func (f *fakeAPI) serve(w http.ResponseWriter, r *http.Request) {
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	call := apiCall{method: method}
	result := any(true)

	switch method {
	case "sendMessage":
		var body struct {
			Text string `json:"text"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		call.text = body.Text
	case "sendPhoto":
		r.ParseMultipartForm(1 << 20)
		call.caption = r.FormValue("caption")
		if file, _, err := r.FormFile("photo"); err == nil {
			call.photo, _ = io.ReadAll(file)
			file.Close()
		}
	case "getUpdates":
		f.mu.Lock()
		var batch []Update
		if len(f.updates) > 0 {
			batch, f.updates = f.updates[0], f.updates[1:]
		}
		f.mu.Unlock()
		result = batch
	}

	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
	if method != "getUpdates" {
		f.seen <- call
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": result})
}

func (f *fakeAPI) wait(t *testing.T) apiCall {
	t.Helper()
	select {
	case c := <-f.seen:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no api call")
		return apiCall{}
	}
}

type staticSnaps map[string][]byte

func (s staticSnaps) Snapshot(cameraID string) []byte { return s[cameraID] }

func newTestBot(t *testing.T, server *httptest.Server) *Bot {
	t.Helper()
	bot, err := NewBot(Config{BotToken: "123:abc", ChatID: "42", Cooldown: time.Minute, APIBase: server.URL}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return bot
}

func TestValidateConfig(t *testing.T) {
	if _, err := NewBot(Config{ChatID: "42"}, nil); err == nil {
		t.Error("missing token accepted")
	}
	if _, err := NewBot(Config{BotToken: "t"}, nil); err == nil {
		t.Error("missing chat id accepted")
	}
}

func TestBotAllowCooldown(t *testing.T) {
	_, server := newFakeAPI(t)
	bot := newTestBot(t, server)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	bot.now = func() time.Time { return now }

	if !bot.Allow("a") {
		t.Fatal("first alert blocked")
	}
	if bot.Allow("a") {
		t.Error("second alert inside cooldown allowed")
	}
	if !bot.Allow("b") {
		t.Error("cooldown is per key")
	}
	now = now.Add(time.Minute)
	if !bot.Allow("a") {
		t.Error("alert after cooldown blocked")
	}
}

func TestSendPhotoMultipart(t *testing.T) {
	api, server := newFakeAPI(t)
	bot := newTestBot(t, server)

	if err := bot.SendPhoto(context.Background(), []byte{0xFF, 0xD8, 0xFF, 0xD9}, "hello"); err != nil {
		t.Fatal(err)
	}
	call := api.wait(t)
	if call.method != "sendPhoto" || call.caption != "hello" || len(call.photo) != 4 {
		t.Errorf("call = %+v", call)
	}
}

func TestAPIErrorIsReturned(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"ok": false, "error_code": 400, "description": "chat not found"}`))
	}))
	defer server.Close()

	bot := newTestBot(t, server)
	err := bot.SendMessage(context.Background(), "hi")
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Errorf("err = %v", err)
	}
}

func TestNotifierAlerts(t *testing.T) {
	api, server := newFakeAPI(t)
	bot := newTestBot(t, server)
	n := NewNotifier(bot, staticSnaps{"lobby": {0xFF, 0xD8, 0xFF, 0xD9}}, NotifierConfig{
		AlertEmotions: []pipeline.Emotion{pipeline.EmotionAngry},
		MinConfidence: 0.6,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.Run(ctx)

	angry := func(conf float64) pipeline.Event {
		return pipeline.Event{
			Type:     pipeline.EventResult,
			CameraID: "lobby",
			Result: &pipeline.DetectionResult{
				Faces:      []pipeline.FaceDetection{{Emotion: pipeline.EmotionAngry, Confidence: conf}},
				Dominant:   pipeline.EmotionAngry,
				Confidence: conf,
			},
		}
	}

	// Below threshold and not on the list: ignored
	n.OnEvent(angry(0.3))
	n.OnEvent(pipeline.Event{Type: pipeline.EventResult, CameraID: "lobby", Result: &pipeline.DetectionResult{
		Faces:    []pipeline.FaceDetection{{Emotion: pipeline.EmotionHappy, Confidence: 0.9}},
		Dominant: pipeline.EmotionHappy, Confidence: 0.9,
	}})

	n.OnEvent(angry(0.9))
	call := api.wait(t)
	if call.method != "sendPhoto" || !strings.Contains(call.caption, "angry 90%") || len(call.photo) != 4 {
		t.Errorf("alert = %+v", call)
	}

	// Inside the cooldown
	n.OnEvent(angry(0.95))

	n.OnEvent(pipeline.Event{Type: pipeline.EventError, CameraID: "lobby", Kind: pipeline.KindTransport, Err: errors.New("timeout")})
	n.OnEvent(pipeline.Event{Type: pipeline.EventError, CameraID: "lobby", Kind: pipeline.KindAcquisition, Err: errors.New("no /dev/video0")})
	call = api.wait(t)
	if call.method != "sendMessage" || !strings.Contains(call.text, "Camera lobby disabled") || !strings.Contains(call.text, "no /dev/video0") {
		t.Errorf("fault alert = %+v", call)
	}

	select {
	case extra := <-api.seen:
		t.Errorf("unexpected call %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

type readySource struct{}

func (readySource) Open(context.Context) error         { return nil }
func (readySource) Close() error                       { return nil }
func (readySource) ReadyState() pipeline.ReadyState    { return pipeline.ReadyCurrentFrame }
func (readySource) CurrentFrame() (image.Image, error) { return image.NewRGBA(image.Rect(0, 0, 8, 8)), nil }

type blockingDetector struct{}

func (blockingDetector) Name() string { return "blocking" }
func (blockingDetector) Detect(ctx context.Context, _ *pipeline.Frame) (*pipeline.DetectionResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type nullSurface struct{}

func (nullSurface) Size() (int, int)                                { return 64, 48 }
func (nullSurface) Clear()                                          {}
func (nullSurface) DrawBox(pipeline.BBox, string, pipeline.Emotion) {}

func TestCommandHandler(t *testing.T) {
	api, server := newFakeAPI(t)
	bot := newTestBot(t, server)

	manager := pipeline.NewPipelineManager(nil, nil)
	defer manager.Close()
	clk := clock.NewManual(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	manager.Add(pipeline.NewDetectionPipeline(pipeline.Options{CameraID: "lobby"}, clk, readySource{}, blockingDetector{}, nullSurface{}, manager.Events(), nil, nil))

	stats := pipeline.NewEmotionStats()
	ch := NewCommandHandler(bot, manager, stats, staticSnaps{"lobby": {1, 2, 3}}, nil)
	ctx := context.Background()

	if reply := ch.handle(ctx, "/on@moodcam_bot lobby"); reply != "✅ lobby starting" {
		t.Errorf("/on = %q", reply)
	}
	if reply := ch.handle(ctx, "/status"); !strings.Contains(reply, "🟢 <b>lobby</b> running") {
		t.Errorf("/status = %q", reply)
	}
	if reply := ch.handle(ctx, "/off attic"); !strings.HasPrefix(reply, "❌ attic") {
		t.Errorf("/off unknown = %q", reply)
	}
	if reply := ch.handle(ctx, "/off"); reply != "Please specify a camera id." {
		t.Errorf("/off without camera = %q", reply)
	}
	if reply := ch.handle(ctx, "/stats lobby"); !strings.Contains(reply, "No detections") {
		t.Errorf("/stats = %q", reply)
	}

	stats.OnEvent(pipeline.Event{Type: pipeline.EventResult, CameraID: "lobby", Result: &pipeline.DetectionResult{
		Faces: []pipeline.FaceDetection{{Emotion: pipeline.EmotionSad}, {Emotion: pipeline.EmotionSad}, {Emotion: pipeline.EmotionFear}},
	}})
	if reply := ch.handle(ctx, "/stats lobby"); !strings.Contains(reply, "3 faces, mostly sad") || !strings.Contains(reply, "sad: 2 (66.7%)") {
		t.Errorf("/stats = %q", reply)
	}

	if reply := ch.handle(ctx, "/snapshot lobby"); reply != "" {
		t.Errorf("/snapshot reply = %q", reply)
	}
	if call := api.wait(t); call.method != "sendPhoto" || len(call.photo) != 3 {
		t.Errorf("snapshot call = %+v", call)
	}

	if reply := ch.handle(ctx, "/dance"); !strings.Contains(reply, "Unknown command") {
		t.Errorf("unknown = %q", reply)
	}
}

func TestCommandHandlerPollIgnoresOtherChats(t *testing.T) {
	api, server := newFakeAPI(t)
	bot := newTestBot(t, server)

	api.updates = [][]Update{{
		{UpdateID: 7, Message: &TelegramMessage{Chat: &TelegramChat{ID: 99}, Text: "/help"}},
		{UpdateID: 8, Message: &TelegramMessage{Chat: &TelegramChat{ID: 42}, Text: "/help"}},
	}}

	ch := NewCommandHandler(bot, pipeline.NewPipelineManager(nil, nil), nil, nil, nil)
	if err := ch.poll(context.Background(), 0); err != nil {
		t.Fatal(err)
	}
	if ch.offset != 9 {
		t.Errorf("offset = %d, want 9", ch.offset)
	}

	call := api.wait(t)
	if call.method != "sendMessage" || !strings.Contains(call.text, "Available Commands") {
		t.Errorf("reply = %+v", call)
	}
	select {
	case extra := <-api.seen:
		t.Errorf("replied to unauthorized chat: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}
