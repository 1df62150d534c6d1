package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/huriyeeym/ppe-compliance-system-sub000/internal/models"
	"github.com/huriyeeym/ppe-compliance-system-sub000/internal/services"
	"github.com/huriyeeym/ppe-compliance-system-sub000/pkg/pb"
)

type GRPCHandler struct {
	pb.UnimplementedComplianceEngineServer
	engine *services.Engine
}

func NewGRPCHandler(engine *services.Engine) *GRPCHandler {
	return &GRPCHandler{engine: engine}
}

// NewGRPCServer builds a server with the compliance service and the standard
// health service registered. Both report SERVING.
func NewGRPCServer(engine *services.Engine, maxMessageSize int) (*grpc.Server, *health.Server) {
	if maxMessageSize <= 0 {
		maxMessageSize = 16 * 1024 * 1024
	}
	srv := grpc.NewServer(
		grpc.MaxRecvMsgSize(maxMessageSize),
		grpc.MaxSendMsgSize(maxMessageSize),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	pb.RegisterComplianceEngineServer(srv, NewGRPCHandler(engine))

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(pb.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	return srv, hs
}

func (h *GRPCHandler) Observe(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req models.FrameRequest
	if err := pb.Decode(in, &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "malformed frame: %v", err)
	}
	return h.observe(ctx, req)
}

func (h *GRPCHandler) observe(ctx context.Context, req models.FrameRequest) (*structpb.Struct, error) {
	res, err := h.engine.ProcessFrame(ctx, req)
	if err != nil {
		return nil, toStatus(err)
	}
	out, err := pb.Encode(res)
	if err != nil {
		slog.Error("failed to encode frame result", "error", err)
		return nil, status.Error(codes.Internal, "encoding result failed")
	}
	return out, nil
}

// ObserveStream answers every frame on the stream with its result, in order.
func (h *GRPCHandler) ObserveStream(stream pb.ComplianceEngine_ObserveStreamServer) error {
	slog.Debug("observe stream started")
	frames := 0
	defer func() {
		slog.Debug("observe stream finished", "frames", frames)
	}()

	for {
		in, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		var req models.FrameRequest
		if err := pb.Decode(in, &req); err != nil {
			return status.Errorf(codes.InvalidArgument, "malformed frame: %v", err)
		}
		out, err := h.observe(stream.Context(), req)
		if err != nil {
			return err
		}
		if err := stream.Send(out); err != nil {
			return err
		}
		frames++
	}
}

func (h *GRPCHandler) Stats(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	out, err := pb.Encode(h.engine.Stats())
	if err != nil {
		return nil, status.Error(codes.Internal, "encoding stats failed")
	}
	return out, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, services.ErrInvalidFrame):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		slog.Error("frame processing failed", "error", err)
		return status.Error(codes.Internal, "processing failed")
	}
}
