// Package health reports whether the data service takes new data streams.
package health

import (
	"context"
	"time"

	"google.golang.org/grpc/codes"
	healthv1pb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// DefaultWatchInterval is how often Watch polls readiness.
const DefaultWatchInterval = time.Second

// TargetService is implemented by the data service. It stops being ready once
// shutdown has begun, while open streams are still draining.
type TargetService interface {
	IsReady(ctx context.Context) (bool, error)
}

// Checker serves the gRPC health protocol for the data service. The empty service
// name is an alias of TargetServiceName.
type Checker struct {
	healthv1pb.UnimplementedHealthServer
	TargetService
	TargetServiceName string

	// WatchInterval overrides DefaultWatchInterval when positive.
	WatchInterval time.Duration
}

func (o *Checker) Check(ctx context.Context, req *healthv1pb.HealthCheckRequest) (*healthv1pb.HealthCheckResponse, error) {
	if err := o.checkService(req.GetService()); err != nil {
		return nil, err
	}

	servingStatus, err := o.servingStatus(ctx)
	return &healthv1pb.HealthCheckResponse{Status: servingStatus}, err
}

// Watch sends the current status, then every change of it until the client goes
// away. Runners use it to stop opening data streams on a draining server.
func (o *Checker) Watch(req *healthv1pb.HealthCheckRequest, stream healthv1pb.Health_WatchServer) error {
	if err := o.checkService(req.GetService()); err != nil {
		return err
	}

	interval := o.WatchInterval
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx := stream.Context()
	last := healthv1pb.HealthCheckResponse_UNKNOWN
	for {
		// errors surface to the watcher as NOT_SERVING
		current, _ := o.servingStatus(ctx)
		if current != last {
			if err := stream.Send(&healthv1pb.HealthCheckResponse{Status: current}); err != nil {
				return err
			}
			last = current
		}

		select {
		case <-ctx.Done():
			return status.FromContextError(ctx.Err()).Err()
		case <-ticker.C:
		}
	}
}

func (o *Checker) checkService(service string) error {
	if service == "" || service == o.TargetServiceName {
		return nil
	}
	return status.Errorf(codes.NotFound, "service '%s' is not registered with the Health server", service)
}

func (o *Checker) servingStatus(ctx context.Context) (healthv1pb.HealthCheckResponse_ServingStatus, error) {
	ready, err := o.IsReady(ctx)
	if err != nil {
		return healthv1pb.HealthCheckResponse_NOT_SERVING, status.Errorf(codes.Unavailable, "readiness check failed: %v", err)
	}
	if !ready {
		return healthv1pb.HealthCheckResponse_NOT_SERVING, nil
	}
	return healthv1pb.HealthCheckResponse_SERVING, nil
}
