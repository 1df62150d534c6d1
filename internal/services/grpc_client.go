package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/huriyeeym/ppe-compliance-system-sub000/internal/models"
	"github.com/huriyeeym/ppe-compliance-system-sub000/pkg/pb"
)

// GRPCClient talks to a running compliance engine over gRPC.
type GRPCClient struct {
	conn   *grpc.ClientConn
	client pb.ComplianceEngineClient
	health healthpb.HealthClient
	url    string
}

func NewGRPCClient(url string, extra ...grpc.DialOption) (*GRPCClient, error) {
	slog.Info("connecting to compliance engine", "url", url)

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(16*1024*1024),
			grpc.MaxCallSendMsgSize(16*1024*1024),
		),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                10 * time.Second,
			Timeout:             3 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	opts = append(opts, extra...)

	conn, err := grpc.NewClient(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("could not connect to compliance engine at %s: %w", url, err)
	}

	return &GRPCClient{
		conn:   conn,
		client: pb.NewComplianceEngineClient(conn),
		health: healthpb.NewHealthClient(conn),
		url:    url,
	}, nil
}

func (gc *GRPCClient) Observe(ctx context.Context, frame models.FrameRequest) (models.FrameResult, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	in, err := pb.Encode(frame)
	if err != nil {
		return models.FrameResult{}, err
	}
	out, err := gc.client.Observe(ctx, in)
	if err != nil {
		return models.FrameResult{}, fmt.Errorf("observe frame: %w", err)
	}
	var res models.FrameResult
	if err := pb.Decode(out, &res); err != nil {
		return models.FrameResult{}, err
	}
	return res, nil
}

func (gc *GRPCClient) StartStream(ctx context.Context) (pb.ComplianceEngine_ObserveStreamClient, error) {
	stream, err := gc.client.ObserveStream(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not open observe stream: %w", err)
	}
	return stream, nil
}

func (gc *GRPCClient) Stats(ctx context.Context) (models.Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	out, err := gc.client.Stats(ctx, &emptypb.Empty{})
	if err != nil {
		return models.Stats{}, fmt.Errorf("fetch stats: %w", err)
	}
	var stats models.Stats
	if err := pb.Decode(out, &stats); err != nil {
		return models.Stats{}, err
	}
	return stats, nil
}

func (gc *GRPCClient) HealthCheck() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := gc.health.Check(ctx, &healthpb.HealthCheckRequest{Service: pb.ServiceName})
	return err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
}

func (gc *GRPCClient) Close() error {
	if gc.conn != nil {
		return gc.conn.Close()
	}
	return nil
}
