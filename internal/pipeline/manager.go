package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// PipelineManager manages detection pipelines for all cameras
type PipelineManager struct {
	pipelines map[string]*DetectionPipeline
	events    *EventBus
	logger    *slog.Logger
	mu        sync.RWMutex
}

// NewPipelineManager creates a new pipeline manager sharing one event bus
func NewPipelineManager(events *EventBus, logger *slog.Logger) *PipelineManager {
	if events == nil {
		events = NewEventBus()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PipelineManager{
		pipelines: make(map[string]*DetectionPipeline),
		events:    events,
		logger:    logger.With("component", "pipeline_manager"),
	}
}

// Events returns the shared event bus
func (m *PipelineManager) Events() *EventBus {
	return m.events
}

// Add registers an idle pipeline
func (m *PipelineManager) Add(p *DetectionPipeline) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := p.CameraID()
	if _, exists := m.pipelines[id]; exists {
		return fmt.Errorf("pipeline already exists for camera %s", id)
	}
	m.pipelines[id] = p
	return nil
}

// Get returns the pipeline for a camera
func (m *PipelineManager) Get(cameraID string) (*DetectionPipeline, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.pipelines[cameraID]
	if !ok {
		return nil, fmt.Errorf("camera %s: %w", cameraID, ErrPipelineNotFound)
	}
	return p, nil
}

// List returns all pipelines ordered by camera id
func (m *PipelineManager) List() []*DetectionPipeline {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := make([]*DetectionPipeline, 0, len(m.pipelines))
	for _, p := range m.pipelines {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].CameraID() < list[j].CameraID()
	})
	return list
}

// Start starts the pipeline for a camera
func (m *PipelineManager) Start(ctx context.Context, cameraID string) error {
	p, err := m.Get(cameraID)
	if err != nil {
		return err
	}
	return p.Start(ctx)
}

// Stop stops the pipeline for a camera
func (m *PipelineManager) Stop(cameraID string) error {
	p, err := m.Get(cameraID)
	if err != nil {
		return err
	}
	p.Stop()
	return nil
}

// Rearm re-enables Start after an acquisition failure
func (m *PipelineManager) Rearm(cameraID string) error {
	p, err := m.Get(cameraID)
	if err != nil {
		return err
	}
	p.Rearm()
	return nil
}

// Resize changes the render surface size of a camera's pipeline
func (m *PipelineManager) Resize(cameraID string, width, height int) error {
	p, err := m.Get(cameraID)
	if err != nil {
		return err
	}
	return p.Resize(width, height)
}

// StartAll starts the given cameras, logging failures instead of aborting
func (m *PipelineManager) StartAll(ctx context.Context, cameraIDs []string) {
	for _, id := range cameraIDs {
		if err := m.Start(ctx, id); err != nil {
			m.logger.Error("failed to start pipeline", "camera", id, "error", err)
		}
	}
}

// Close stops every pipeline
func (m *PipelineManager) Close() error {
	for _, p := range m.List() {
		p.Stop()
	}
	m.logger.Info("closed all detection pipelines")
	return nil
}
