// Package emitter fans pipeline results out to an MQTT broker.
package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"moodcam/internal/pipeline"
)

// Config holds broker connection and topic settings
type Config struct {
	Broker      string // host:port or a full tcp:// URL
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string // Topics are <prefix>/<camera>/{emotions,status,command}
	QoS         byte
	QueueSize   int
}

// Controller is what remote commands act on
type Controller interface {
	Start(ctx context.Context, cameraID string) error
	Stop(cameraID string) error
	Rearm(cameraID string) error
}

// Command is a control message received on <prefix>/<camera>/command
type Command struct {
	Command string `json:"command"` // "start", "stop", "rearm"
}

// ResultPayload is published on <prefix>/<camera>/emotions for each applied result
type ResultPayload struct {
	CameraID        string        `json:"camera_id"`
	Timestamp       time.Time     `json:"timestamp"`
	DominantEmotion string        `json:"dominant_emotion"`
	Confidence      float64       `json:"confidence"`
	FacesDetected   int           `json:"faces_detected"`
	Faces           []FacePayload `json:"faces"`
	LatencyMs       int64         `json:"latency_ms"`
}

// FacePayload is one face in capture-space pixels
type FacePayload struct {
	Emotion    string     `json:"emotion"`
	Confidence float64    `json:"confidence"`
	Box        [4]float64 `json:"box"`
}

// StatusPayload is published on <prefix>/<camera>/status
type StatusPayload struct {
	CameraID  string    `json:"camera_id"`
	Timestamp time.Time `json:"timestamp"`
	Event     string    `json:"event"` // started, stopped, error
	Kind      string    `json:"kind,omitempty"`
	Error     string    `json:"error,omitempty"`
}

type message struct {
	topic   string
	payload []byte
}

// MQTTEmitter publishes pipeline events to an MQTT broker.
// OnEvent only enqueues; a single worker publishes.
type MQTTEmitter struct {
	cfg    Config
	client mqtt.Client
	logger *slog.Logger
	queue  chan message

	mu        sync.RWMutex
	published map[string]uint64 // count per topic
	dropped   uint64
	errors    uint64
	connected bool
}

// Stats contains emitter statistics
type Stats struct {
	Connected bool              `json:"connected"`
	Published map[string]uint64 `json:"published"`
	Dropped   uint64            `json:"dropped"`
	Errors    uint64            `json:"errors"`
}

// NewMQTTEmitter creates an emitter with a paho client; call Connect before Run
func NewMQTTEmitter(cfg Config, logger *slog.Logger) *MQTTEmitter {
	e := newEmitter(cfg, nil, logger)

	broker := cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(e.cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.setConnected(true)
		e.logger.Info("mqtt connection established", "broker", broker, "client_id", e.cfg.ClientID)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.setConnected(false)
		e.logger.Warn("mqtt connection lost, will auto-reconnect", "error", err, "broker", broker)
	}

	e.client = mqtt.NewClient(opts)
	return e
}

func newEmitter(cfg Config, client mqtt.Client, logger *slog.Logger) *MQTTEmitter {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "moodcam"
	}
	cfg.TopicPrefix = strings.TrimRight(cfg.TopicPrefix, "/")
	if cfg.ClientID == "" {
		cfg.ClientID = "moodcam"
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.QoS > 2 {
		cfg.QoS = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &MQTTEmitter{
		cfg:       cfg,
		client:    client,
		logger:    logger.With("component", "mqtt"),
		queue:     make(chan message, cfg.QueueSize),
		published: make(map[string]uint64),
	}
}

// Connect establishes the broker connection
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	e.logger.Info("connecting to mqtt broker", "broker", e.cfg.Broker)

	token := e.client.Connect()
	if !waitToken(ctx, token, 5*time.Second) {
		return errors.New("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	e.setConnected(true)
	return nil
}

// Topic returns <prefix>/<camera>/<kind>
func (e *MQTTEmitter) Topic(cameraID, kind string) string {
	return fmt.Sprintf("%s/%s/%s", e.cfg.TopicPrefix, cameraID, kind)
}

// OnEvent implements pipeline.EventHandler
func (e *MQTTEmitter) OnEvent(event pipeline.Event) {
	var (
		topic   string
		payload any
	)

	switch event.Type {
	case pipeline.EventResult:
		if event.Result == nil {
			return
		}
		topic = e.Topic(event.CameraID, "emotions")
		payload = NewResultPayload(event)
	case pipeline.EventStarted, pipeline.EventStopped, pipeline.EventError:
		topic = e.Topic(event.CameraID, "status")
		payload = NewStatusPayload(event)
	default:
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		e.countError()
		e.logger.Error("failed to marshal payload", "topic", topic, "error", err)
		return
	}

	select {
	case e.queue <- message{topic: topic, payload: data}:
	default:
		e.mu.Lock()
		e.dropped++
		e.mu.Unlock()
	}
}

// Run publishes queued messages until ctx is done
func (e *MQTTEmitter) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-e.queue:
			if err := e.publish(ctx, msg); err != nil {
				e.logger.Debug("publish failed", "topic", msg.topic, "error", err)
			}
		}
	}
}

func (e *MQTTEmitter) publish(ctx context.Context, msg message) error {
	if !e.isConnected() {
		e.countError()
		return errors.New("mqtt not connected")
	}

	token := e.client.Publish(msg.topic, e.cfg.QoS, false, msg.payload)
	if !waitToken(ctx, token, 2*time.Second) {
		e.countError()
		return errors.New("publish timeout")
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	e.mu.Lock()
	e.published[msg.topic]++
	e.mu.Unlock()
	return nil
}

// SubscribeCommands routes <prefix>/+/command messages to ctrl
func (e *MQTTEmitter) SubscribeCommands(ctx context.Context, ctrl Controller) error {
	topic := e.Topic("+", "command")

	token := e.client.Subscribe(topic, e.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		e.handleCommand(ctx, ctrl, msg.Topic(), msg.Payload())
	})
	if !waitToken(ctx, token, 5*time.Second) {
		return errors.New("command subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("command subscription failed: %w", err)
	}

	e.logger.Info("subscribed to commands", "topic", topic)
	return nil
}

func (e *MQTTEmitter) handleCommand(ctx context.Context, ctrl Controller, topic string, payload []byte) {
	cameraID, ok := e.cameraFromTopic(topic)
	if !ok {
		return
	}

	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		e.logger.Warn("failed to parse command", "topic", topic, "error", err)
		return
	}

	var err error
	switch cmd.Command {
	case "start":
		err = ctrl.Start(ctx, cameraID)
	case "stop":
		err = ctrl.Stop(cameraID)
	case "rearm":
		err = ctrl.Rearm(cameraID)
	default:
		err = fmt.Errorf("unknown command %q", cmd.Command)
	}

	if err != nil {
		e.logger.Warn("command failed", "camera", cameraID, "command", cmd.Command, "error", err)
		return
	}
	e.logger.Info("command executed", "camera", cameraID, "command", cmd.Command)
}

func (e *MQTTEmitter) cameraFromTopic(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, e.cfg.TopicPrefix+"/")
	if !ok {
		return "", false
	}
	cameraID, ok := strings.CutSuffix(rest, "/command")
	if !ok || cameraID == "" || strings.Contains(cameraID, "/") {
		return "", false
	}
	return cameraID, true
}

// Disconnect closes the MQTT connection
func (e *MQTTEmitter) Disconnect() {
	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(250)
		e.logger.Info("mqtt disconnected")
	}
	e.setConnected(false)
}

// Stats returns emitter statistics
func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}
	return Stats{
		Connected: e.connected,
		Published: published,
		Dropped:   e.dropped,
		Errors:    e.errors,
	}
}

func (e *MQTTEmitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}

// NewResultPayload summarizes a result event
func NewResultPayload(event pipeline.Event) *ResultPayload {
	res := event.Result
	p := &ResultPayload{
		CameraID:        event.CameraID,
		Timestamp:       event.Time,
		DominantEmotion: string(res.Dominant),
		Confidence:      res.Confidence,
		FacesDetected:   len(res.Faces),
		Faces:           make([]FacePayload, 0, len(res.Faces)),
		LatencyMs:       res.Latency.Milliseconds(),
	}
	for _, f := range res.Faces {
		p.Faces = append(p.Faces, FacePayload{
			Emotion:    string(f.Emotion),
			Confidence: f.Confidence,
			Box:        [4]float64{f.Box.X1, f.Box.Y1, f.Box.X2, f.Box.Y2},
		})
	}
	return p
}

// NewStatusPayload summarizes a started, stopped or error event
func NewStatusPayload(event pipeline.Event) *StatusPayload {
	p := &StatusPayload{
		CameraID:  event.CameraID,
		Timestamp: event.Time,
		Event:     string(event.Type),
		Kind:      string(event.Kind),
	}
	if event.Err != nil {
		p.Error = event.Err.Error()
	}
	return p
}

// waitToken waits for the token, the timeout or ctx, whichever comes first
func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

var _ pipeline.EventHandler = (*MQTTEmitter)(nil)
