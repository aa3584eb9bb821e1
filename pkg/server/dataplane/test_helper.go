package dataplane

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

const testBufSize = 1024 * 1024

// SetupTestClientServer serves a data service over an in-memory listener and
// returns a connection to it. Both are torn down when the test ends.
// This is exported for use in other test packages.
func SetupTestClientServer(t testing.TB, newObserver ObserverFactory, opts ...ServerOption) (*grpc.ClientConn, *Server) {
	lis := bufconn.Listen(testBufSize)
	grpcServer := grpc.NewServer()
	server := NewServer(newObserver, opts...)
	RegisterDataServiceServer(grpcServer, server)

	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			t.Logf("Server exited with error: %v", err)
		}
	}()

	bufDialer := func(context.Context, string) (net.Conn, error) {
		return lis.Dial()
	}

	conn, err := grpc.NewClient("passthrough://bufnet",
		grpc.WithContextDialer(bufDialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		grpcServer.Stop()
	})

	return conn, server
}
