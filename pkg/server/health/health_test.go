package health

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthv1pb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/portablefn/fnharness/pkg/server/dataplane"
)

type readiness struct {
	ready bool
	err   error
}

func (r readiness) IsReady(context.Context) (bool, error) {
	return r.ready, r.err
}

func TestChecker(t *testing.T) {
	tests := []struct {
		name    string
		target  TargetService
		service string
		status  healthv1pb.HealthCheckResponse_ServingStatus
		code    codes.Code
	}{
		{
			name:    "serving_any",
			target:  readiness{ready: true},
			service: "",
			status:  healthv1pb.HealthCheckResponse_SERVING,
		},
		{
			name:    "serving_data_service",
			target:  dataplane.NewServer(nil),
			service: dataplane.ServiceName,
			status:  healthv1pb.HealthCheckResponse_SERVING,
		},
		{
			name:    "not_ready",
			target:  readiness{ready: false},
			service: dataplane.ServiceName,
			status:  healthv1pb.HealthCheckResponse_NOT_SERVING,
		},
		{
			name:    "readiness_error",
			target:  readiness{err: errors.New("boom")},
			service: "",
			status:  healthv1pb.HealthCheckResponse_NOT_SERVING,
			code:    codes.Unavailable,
		},
		{
			name:    "unknown_service",
			target:  readiness{ready: true},
			service: "other.Service",
			code:    codes.NotFound,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			checker := &Checker{TargetService: test.target, TargetServiceName: dataplane.ServiceName}

			resp, err := checker.Check(context.Background(), &healthv1pb.HealthCheckRequest{Service: test.service})
			require.Equal(t, test.code, status.Code(err))
			if test.code == codes.NotFound {
				return
			}
			require.Equal(t, test.status, resp.GetStatus())
		})
	}
}

func newHealthClient(t *testing.T, checker *Checker) healthv1pb.HealthClient {
	t.Helper()

	lis := bufconn.Listen(1024 * 1024)
	grpcServer := grpc.NewServer()
	healthv1pb.RegisterHealthServer(grpcServer, checker)
	go func() {
		_ = grpcServer.Serve(lis)
	}()
	t.Cleanup(grpcServer.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) {
			return lis.Dial()
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return healthv1pb.NewHealthClient(conn)
}

func TestWatchReportsShutdown(t *testing.T) {
	dataServer := dataplane.NewServer(nil)
	client := newHealthClient(t, &Checker{
		TargetService:     dataServer,
		TargetServiceName: dataplane.ServiceName,
		WatchInterval:     5 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := client.Watch(ctx, &healthv1pb.HealthCheckRequest{Service: dataplane.ServiceName})
	require.NoError(t, err)

	resp, err := stream.Recv()
	require.NoError(t, err)
	require.Equal(t, healthv1pb.HealthCheckResponse_SERVING, resp.GetStatus())

	dataServer.Shutdown()

	resp, err = stream.Recv()
	require.NoError(t, err)
	require.Equal(t, healthv1pb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())
}

func TestWatchUnknownService(t *testing.T) {
	client := newHealthClient(t, &Checker{
		TargetService:     readiness{ready: true},
		TargetServiceName: dataplane.ServiceName,
	})

	stream, err := client.Watch(context.Background(), &healthv1pb.HealthCheckRequest{Service: "other.Service"})
	require.NoError(t, err)

	_, err = stream.Recv()
	require.Equal(t, codes.NotFound, status.Code(err))
}
