package telegram

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"time"

	"moodcam/internal/pipeline"
)

// Snapshotter returns the latest composited JPEG of a camera, or nil
type Snapshotter interface {
	Snapshot(cameraID string) []byte
}

// NotifierConfig selects which results raise an alert
type NotifierConfig struct {
	AlertEmotions []pipeline.Emotion
	MinConfidence float64
}

type alert struct {
	text  string
	photo []byte
}

// Notifier turns pipeline events into chat alerts: camera faults always,
// and results whose dominant emotion is on the alert list
type Notifier struct {
	bot           *Bot
	snaps         Snapshotter
	alertOn       map[pipeline.Emotion]bool
	minConfidence float64
	queue         chan alert
	logger        *slog.Logger
}

// NewNotifier creates a notifier; snaps may be nil
func NewNotifier(bot *Bot, snaps Snapshotter, cfg NotifierConfig, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	alertOn := make(map[pipeline.Emotion]bool, len(cfg.AlertEmotions))
	for _, e := range cfg.AlertEmotions {
		alertOn[e] = true
	}
	return &Notifier{
		bot:           bot,
		snaps:         snaps,
		alertOn:       alertOn,
		minConfidence: cfg.MinConfidence,
		queue:         make(chan alert, 8),
		logger:        logger.With("component", "telegram_notifier"),
	}
}

// OnEvent implements pipeline.EventHandler. It never blocks on the network.
func (n *Notifier) OnEvent(event pipeline.Event) {
	switch event.Type {
	case pipeline.EventError:
		if event.Kind != pipeline.KindAcquisition {
			return
		}
		reason := "unknown error"
		if event.Err != nil {
			reason = event.Err.Error()
		}
		n.enqueue("fault:"+event.CameraID, alert{
			text: fmt.Sprintf("⚠️ <b>Camera %s disabled</b>\n\n%s\n\nFix the device, then /rearm %s.",
				html.EscapeString(event.CameraID), html.EscapeString(reason), html.EscapeString(event.CameraID)),
		})

	case pipeline.EventResult:
		r := event.Result
		if r == nil || len(r.Faces) == 0 || !n.alertOn[r.Dominant] || r.Confidence < n.minConfidence {
			return
		}
		key := "emotion:" + event.CameraID
		// Checked before grabbing the snapshot so suppressed results cost nothing
		if !n.bot.Allow(key) {
			return
		}
		var photo []byte
		if n.snaps != nil {
			photo = n.snaps.Snapshot(event.CameraID)
		}
		n.push(alert{
			text: fmt.Sprintf("🎭 <b>%s</b>\n\n📹 Camera: %s\n👤 Faces: %d\n🕐 Time: %s",
				pipeline.FormatLabel(pipeline.DisplayBox{Emotion: r.Dominant, Confidence: r.Confidence}),
				html.EscapeString(event.CameraID), len(r.Faces), formatTime(event.Time)),
			photo: photo,
		})
	}
}

func (n *Notifier) enqueue(key string, a alert) {
	if !n.bot.Allow(key) {
		return
	}
	n.push(a)
}

func (n *Notifier) push(a alert) {
	select {
	case n.queue <- a:
	default:
		n.logger.Warn("alert queue full, dropping alert")
	}
}

// Run sends queued alerts until ctx is done
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case a := <-n.queue:
			sendCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			var err error
			if len(a.photo) > 0 {
				err = n.bot.SendPhoto(sendCtx, a.photo, a.text)
			} else {
				err = n.bot.SendMessage(sendCtx, a.text)
			}
			cancel()
			if err != nil {
				n.logger.Warn("failed to send alert", "error", err)
			}
		}
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.Format("2 Jan 2006, 15:04:05 MST")
}
