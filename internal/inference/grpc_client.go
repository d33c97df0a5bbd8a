package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/flow23flow23/artistrm-360-sub002/internal/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// DefaultGenerateMethod is the full gRPC method name of the inference RPC.
const DefaultGenerateMethod = "/zeus.v1.Assistant/Generate"

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

// GrpcClient calls the inference endpoint over gRPC. Messages are
// google.protobuf.Struct values shaped as
//
//	request:  {query, sessionId, requestId, conversationHistory: [{role, content, timestamp}]}
//	response: {messageId, response}
type GrpcClient struct {
	conn    *grpc.ClientConn
	cfg     GrpcClientConfig
	history int
	logger  *slog.Logger
}

// GrpcClientConfig holds configuration for the gRPC client.
type GrpcClientConfig struct {
	Address          string
	Method           string
	AuthToken        string
	HistoryLimit     int
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGrpcClientConfig returns default configuration.
func DefaultGrpcClientConfig() GrpcClientConfig {
	return GrpcClientConfig{
		Address:          "localhost:50051",
		Method:           DefaultGenerateMethod,
		HistoryLimit:     DefaultHistoryLimit,
		ConnectTimeout:   5 * time.Second,
		RequestTimeout:   30 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// NewGrpcClient connects to the inference service. Extra dial options are
// appended after the defaults.
func NewGrpcClient(cfg GrpcClientConfig, logger *slog.Logger, opts ...grpc.DialOption) (*GrpcClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultGrpcClientConfig()
	if cfg.Address == "" {
		cfg.Address = def.Address
	}
	if cfg.Method == "" {
		cfg.Method = def.Method
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.KeepaliveTime <= 0 {
		cfg.KeepaliveTime = def.KeepaliveTime
	}
	if cfg.KeepaliveTimeout <= 0 {
		cfg.KeepaliveTimeout = def.KeepaliveTimeout
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, opts...)

	// Build client connection (no network I/O yet).
	conn, err := grpc.NewClient(cfg.Address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create inference client for %s: %w", cfg.Address, err)
	}

	// Force a connection attempt during startup so we fail fast on bad endpoints.
	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("inference service at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to inference service", "address", cfg.Address, "method", cfg.Method)

	return &GrpcClient{
		conn:    conn,
		cfg:     cfg,
		history: cfg.HistoryLimit,
		logger:  logger,
	}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Close closes the gRPC connection.
func (c *GrpcClient) Close() {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

// Generate sends one inference request. It never retries.
func (c *GrpcClient) Generate(ctx context.Context, req Request) (Reply, error) {
	in, err := encodeRequest(req, BoundHistory(req.History, c.history))
	if err != nil {
		return Reply{}, fmt.Errorf("%w: encode request: %w", ErrRemote, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	md := []string{"x-request-id", req.RequestID}
	if req.UserID != "" {
		md = append(md, "x-user-id", req.UserID)
	}
	if c.cfg.AuthToken != "" {
		md = append(md, "authorization", "Bearer "+c.cfg.AuthToken)
	}
	ctx = metadata.AppendToOutgoingContext(ctx, md...)

	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, c.cfg.Method, in, out); err != nil {
		mapped := mapStatus(err)
		c.logger.Warn("Inference request failed",
			"request_id", req.RequestID,
			"session_id", req.SessionID,
			"code", status.Code(err).String(),
			"error", err,
		)
		return Reply{}, mapped
	}

	fields := out.GetFields()
	reply := Reply{
		MessageID: fields["messageId"].GetStringValue(),
		Text:      fields["response"].GetStringValue(),
	}
	if reply.Text == "" {
		return Reply{}, fmt.Errorf("%w: empty response", ErrRemote)
	}
	return reply, nil
}

func encodeRequest(req Request, history []domain.Turn) (*structpb.Struct, error) {
	turns := make([]any, 0, len(history))
	for _, t := range history {
		turns = append(turns, map[string]any{
			"role":      string(t.Role),
			"content":   t.Content,
			"timestamp": t.Timestamp.UTC().Format(time.RFC3339Nano),
		})
	}
	return structpb.NewStruct(map[string]any{
		"query":               req.Prompt,
		"sessionId":           req.SessionID,
		"requestId":           req.RequestID,
		"conversationHistory": turns,
	})
}

func mapStatus(err error) error {
	if mapped := classifyContext(err); mapped != nil {
		return fmt.Errorf("%w: %w", mapped, err)
	}
	switch status.Code(err) {
	case codes.Unauthenticated, codes.PermissionDenied:
		return fmt.Errorf("%w: %w", ErrAuth, err)
	case codes.DeadlineExceeded:
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	default:
		return fmt.Errorf("%w: %w", ErrRemote, err)
	}
}

var _ Client = (*GrpcClient)(nil)
