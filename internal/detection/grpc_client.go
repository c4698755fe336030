package detection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"moodcam/internal/pipeline"
)

const (
	// EmotionDetectorService is the gRPC service name exposed by the detector
	EmotionDetectorService = "moodcam.detector.v1.EmotionDetector"

	// detectMethod takes the JPEG as BytesValue and answers with the same
	// document the HTTP endpoint returns, as a Struct
	detectMethod = "/" + EmotionDetectorService + "/Detect"
)

// GRPCClient calls the emotion detector over gRPC using well-known wrapper types
type GRPCClient struct {
	endpoint string
	timeout  time.Duration
	conn     *grpc.ClientConn
	health   healthpb.HealthClient
	logger   *slog.Logger

	healthMu   sync.RWMutex
	healthy    bool
	lastHealth time.Time
}

// GRPCClientConfig holds configuration for the gRPC emotion client
type GRPCClientConfig struct {
	Endpoint string        // host:port
	Timeout  time.Duration // Per-request timeout
}

// NewGRPCClient creates the client connection. The connection is established lazily.
func NewGRPCClient(config GRPCClientConfig, logger *slog.Logger, opts ...grpc.DialOption) (*GRPCClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	kacp := keepalive.ClientParameters{
		Time:                10 * time.Second,
		Timeout:             5 * time.Second,
		PermitWithoutStream: true,
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, opts...)

	conn, err := grpc.NewClient(config.Endpoint, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client for %s: %w", config.Endpoint, err)
	}

	c := &GRPCClient{
		endpoint: config.Endpoint,
		timeout:  timeout,
		conn:     conn,
		health:   healthpb.NewHealthClient(conn),
		logger:   logger.With("component", "grpc_client"),
	}
	c.logger.Info("created grpc detector client", "endpoint", config.Endpoint)
	return c, nil
}

// Name implements pipeline.Detector
func (c *GRPCClient) Name() string {
	return "grpc"
}

// Detect sends one JPEG frame as a unary call; cancelling ctx aborts the RPC
func (c *GRPCClient) Detect(ctx context.Context, frame *pipeline.Frame) (*pipeline.DetectionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, detectMethod, wrapperspb.Bytes(frame.Data), out); err != nil {
		return nil, pipeline.TransportError(c.Name(), fmt.Errorf("detect rpc failed: %w", err))
	}

	raw, err := protojson.Marshal(out)
	if err != nil {
		return nil, pipeline.TransportError(c.Name(), fmt.Errorf("failed to marshal response: %w", err))
	}

	var decoded DetectResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, pipeline.TransportError(c.Name(), fmt.Errorf("failed to decode response: %w", err))
	}
	if !decoded.Success {
		return nil, pipeline.ApplicationError(c.Name(), decoded.Error)
	}

	return ConvertResponse(&decoded, frame.Width, frame.Height)
}

// CheckHealth asks the standard gRPC health service whether the detector is serving
func (c *GRPCClient) CheckHealth(ctx context.Context) error {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: EmotionDetectorService})

	c.healthMu.Lock()
	defer c.healthMu.Unlock()
	c.lastHealth = time.Now()

	if err != nil {
		c.healthy = false
		return fmt.Errorf("health check failed: %w", err)
	}
	c.healthy = resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
	if !c.healthy {
		return fmt.Errorf("service unhealthy: status=%s", resp.GetStatus())
	}
	return nil
}

// IsHealthy returns the result of the last health check
func (c *GRPCClient) IsHealthy() bool {
	c.healthMu.RLock()
	defer c.healthMu.RUnlock()
	return c.healthy
}

// Close closes the gRPC connection
func (c *GRPCClient) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

var _ pipeline.Detector = (*GRPCClient)(nil)
