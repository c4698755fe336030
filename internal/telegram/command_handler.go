package telegram

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"moodcam/internal/pipeline"
)

// Cameras is the part of the pipeline manager the command handler drives
type Cameras interface {
	List() []*pipeline.DetectionPipeline
	Start(ctx context.Context, cameraID string) error
	Stop(cameraID string) error
	Rearm(cameraID string) error
}

// Update represents a Telegram update
type Update struct {
	UpdateID int64            `json:"update_id"`
	Message  *TelegramMessage `json:"message,omitempty"`
}

// TelegramMessage is the part of a Telegram message the handler reads
type TelegramMessage struct {
	MessageID int64         `json:"message_id"`
	Chat      *TelegramChat `json:"chat,omitempty"`
	Date      int64         `json:"date"`
	Text      string        `json:"text,omitempty"`
}

// TelegramChat represents a Telegram chat
type TelegramChat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// CommandHandler answers chat commands from the configured chat
type CommandHandler struct {
	bot       *Bot
	cameras   Cameras
	stats     *pipeline.EmotionStats
	snaps     Snapshotter
	offset    int64
	startTime time.Time
	logger    *slog.Logger
}

// NewCommandHandler creates a command handler; stats and snaps may be nil
func NewCommandHandler(bot *Bot, cameras Cameras, stats *pipeline.EmotionStats, snaps Snapshotter, logger *slog.Logger) *CommandHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandHandler{
		bot:       bot,
		cameras:   cameras,
		stats:     stats,
		snaps:     snaps,
		startTime: time.Now(),
		logger:    logger.With("component", "telegram_commands"),
	}
}

// Run long-polls for commands until ctx is done
func (ch *CommandHandler) Run(ctx context.Context) error {
	ch.logger.Info("polling for telegram commands")
	for {
		if err := ch.poll(ctx, 25*time.Second); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			ch.logger.Warn("failed to poll telegram updates", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(5 * time.Second):
			}
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (ch *CommandHandler) poll(ctx context.Context, timeout time.Duration) error {
	updates, err := ch.bot.getUpdates(ctx, ch.offset, timeout)
	if err != nil {
		return err
	}

	for _, update := range updates {
		if update.UpdateID >= ch.offset {
			ch.offset = update.UpdateID + 1
		}
		ch.handleMessage(ctx, update.Message)
	}
	return nil
}

func (ch *CommandHandler) handleMessage(ctx context.Context, msg *TelegramMessage) {
	if msg == nil || msg.Chat == nil {
		return
	}

	// Only the configured chat may control cameras
	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	if chatID != ch.bot.ChatID() {
		ch.logger.Warn("ignoring message from unauthorized chat", "chat", chatID)
		return
	}
	if !strings.HasPrefix(msg.Text, "/") {
		return
	}

	ch.logger.Debug("processing command", "text", msg.Text)
	if reply := ch.handle(ctx, msg.Text); reply != "" {
		if err := ch.bot.SendMessage(ctx, reply); err != nil {
			ch.logger.Warn("failed to send reply", "error", err)
		}
	}
}

// handle runs one command and returns the reply text. /snapshot replies with a photo
// and returns "" on success.
func (ch *CommandHandler) handle(ctx context.Context, text string) string {
	parts := strings.Fields(text)
	command := strings.ToLower(parts[0])
	args := parts[1:]

	// Remove bot username suffix if present (e.g., /status@mybot)
	if at := strings.Index(command, "@"); at != -1 {
		command = command[:at]
	}

	switch command {
	case "/start", "/help":
		return helpText
	case "/status":
		return ch.handleStatus()
	case "/on":
		return ch.withCamera(args, func(id string) error { return ch.cameras.Start(ctx, id) }, "starting")
	case "/off":
		return ch.withCamera(args, ch.cameras.Stop, "stopped")
	case "/rearm":
		return ch.withCamera(args, ch.cameras.Rearm, "re-armed")
	case "/stats":
		return ch.handleStats(args)
	case "/snapshot":
		return ch.handleSnapshot(ctx, args)
	default:
		return fmt.Sprintf("Unknown command: %s\nUse /help to see available commands.", html.EscapeString(command))
	}
}

const helpText = "📋 <b>Available Commands</b>\n\n" +
	"/status - Pipeline state of every camera\n" +
	"/on &lt;camera&gt; - Start emotion detection\n" +
	"/off &lt;camera&gt; - Stop emotion detection\n" +
	"/rearm &lt;camera&gt; - Allow start again after a device failure\n" +
	"/stats &lt;camera&gt; - Emotion counts since the last reset\n" +
	"/snapshot &lt;camera&gt; - Current annotated frame"

func (ch *CommandHandler) handleStatus() string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 <b>moodcam</b> up %s\n", formatDuration(time.Since(ch.startTime)))

	pipelines := ch.cameras.List()
	if len(pipelines) == 0 {
		b.WriteString("\nNo cameras configured.")
		return b.String()
	}

	for _, p := range pipelines {
		info := p.Info()
		icon := "⚪"
		switch {
		case info.Disabled:
			icon = "🔴"
		case info.Running:
			icon = "🟢"
		case info.Status == pipeline.StatusStarting:
			icon = "🟡"
		}
		fmt.Fprintf(&b, "\n%s <b>%s</b> %s", icon, html.EscapeString(info.CameraID), info.Status)
		if info.Running {
			fmt.Fprintf(&b, ", %d faces", len(info.Annotations.Boxes))
		}
		if info.Disabled {
			fmt.Fprintf(&b, "\n    %s", html.EscapeString(info.Fault))
		}
	}
	return b.String()
}

func (ch *CommandHandler) withCamera(args []string, action func(string) error, done string) string {
	if len(args) == 0 {
		return "Please specify a camera id."
	}
	id := args[0]
	if err := action(id); err != nil {
		return fmt.Sprintf("❌ %s: %s", html.EscapeString(id), html.EscapeString(err.Error()))
	}
	return fmt.Sprintf("✅ %s %s", html.EscapeString(id), done)
}

func (ch *CommandHandler) handleStats(args []string) string {
	if len(args) == 0 {
		return "Please specify a camera id."
	}
	if ch.stats == nil {
		return "Statistics are not collected."
	}

	snap := ch.stats.Snapshot(args[0])
	if snap.TotalDetections == 0 {
		return fmt.Sprintf("No detections on %s yet.", html.EscapeString(args[0]))
	}

	emotions := make([]pipeline.Emotion, 0, len(snap.Emotions))
	for e := range snap.Emotions {
		emotions = append(emotions, e)
	}
	sort.Slice(emotions, func(i, j int) bool {
		return snap.Emotions[emotions[i]].Count > snap.Emotions[emotions[j]].Count
	})

	var b strings.Builder
	fmt.Fprintf(&b, "🎭 <b>%s</b>: %d faces, mostly %s\n", html.EscapeString(args[0]), snap.TotalDetections, snap.MostCommon)
	for _, e := range emotions {
		c := snap.Emotions[e]
		fmt.Fprintf(&b, "\n%s: %d (%.1f%%)", e, c.Count, c.Percentage)
	}
	return b.String()
}

func (ch *CommandHandler) handleSnapshot(ctx context.Context, args []string) string {
	if len(args) == 0 {
		return "Please specify a camera id."
	}
	if ch.snaps == nil {
		return "Snapshots are not available."
	}
	frame := ch.snaps.Snapshot(args[0])
	if len(frame) == 0 {
		return fmt.Sprintf("No frame available for %s.", html.EscapeString(args[0]))
	}
	if err := ch.bot.SendPhoto(ctx, frame, fmt.Sprintf("📸 %s, %s", html.EscapeString(args[0]), formatTime(time.Now()))); err != nil {
		return fmt.Sprintf("Failed to send snapshot: %s", html.EscapeString(err.Error()))
	}
	return ""
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Minute)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h >= 24 {
		return fmt.Sprintf("%dd %dh", h/24, h%24)
	}
	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
