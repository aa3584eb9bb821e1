package mocks

import (
	"context"
	"net"
	"sync"

	otlpcollector "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	"google.golang.org/grpc"
)

// MockTracingServer is an OTLP trace collector that counts exported spans.
type MockTracingServer struct {
	otlpcollector.UnimplementedTraceServiceServer

	server *grpc.Server
	addr   string

	serviceMu sync.Mutex
	spans     int
}

func (s *MockTracingServer) Export(_ context.Context, req *otlpcollector.ExportTraceServiceRequest) (*otlpcollector.ExportTraceServiceResponse, error) {
	s.serviceMu.Lock()
	defer s.serviceMu.Unlock()
	for _, rs := range req.GetResourceSpans() {
		for _, ss := range rs.GetScopeSpans() {
			s.spans += len(ss.GetSpans())
		}
	}
	return &otlpcollector.ExportTraceServiceResponse{}, nil
}

// NewMockTracingServer serves a collector on a local ephemeral port.
func NewMockTracingServer() (*MockTracingServer, error) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	mockServer := &MockTracingServer{
		server: grpc.NewServer(),
		addr:   lis.Addr().String(),
	}
	otlpcollector.RegisterTraceServiceServer(mockServer.server, mockServer)

	go func() {
		_ = mockServer.server.Serve(lis)
	}()
	return mockServer, nil
}

// Addr is the host:port the collector listens on.
func (s *MockTracingServer) Addr() string {
	return s.addr
}

func (s *MockTracingServer) GetSpanCount() int {
	s.serviceMu.Lock()
	defer s.serviceMu.Unlock()
	return s.spans
}

func (s *MockTracingServer) Stop() {
	s.server.Stop()
}
