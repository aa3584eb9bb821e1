package dataplane

import (
	"context"

	"google.golang.org/grpc"

	"github.com/portablefn/fnharness/pkg/fnapi"
)

// ServiceName is the fully qualified name of the data service.
const ServiceName = "fnharness.fnapi.v1.DataService"

const dataMethod = "/" + ServiceName + "/Data"

// DataServiceServer is the server API of the data service. Data carries batches
// of elements from the runner and returns completion notices, one per
// instruction.
type DataServiceServer interface {
	Data(DataService_DataServer) error
}

type DataService_DataServer interface {
	Send(*fnapi.Elements) error
	Recv() (*fnapi.Elements, error)
	grpc.ServerStream
}

type dataServiceDataServer struct {
	grpc.ServerStream
}

func (x *dataServiceDataServer) Send(m *fnapi.Elements) error {
	return x.ServerStream.SendMsg(m)
}

func (x *dataServiceDataServer) Recv() (*fnapi.Elements, error) {
	m := new(fnapi.Elements)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func dataHandler(srv any, stream grpc.ServerStream) error {
	return srv.(DataServiceServer).Data(&dataServiceDataServer{stream})
}

// DataService_ServiceDesc describes the data service for grpc.ServiceRegistrar.
var DataService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DataServiceServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Data",
			Handler:       dataHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "fnharness/fnapi/v1/data.proto",
}

// RegisterDataServiceServer registers srv with s.
func RegisterDataServiceServer(s grpc.ServiceRegistrar, srv DataServiceServer) {
	s.RegisterService(&DataService_ServiceDesc, srv)
}

// DataServiceClient is the client API of the data service.
type DataServiceClient interface {
	Data(ctx context.Context, opts ...grpc.CallOption) (DataService_DataClient, error)
}

type DataService_DataClient interface {
	Send(*fnapi.Elements) error
	Recv() (*fnapi.Elements, error)
	grpc.ClientStream
}

type dataServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewDataServiceClient(cc grpc.ClientConnInterface) DataServiceClient {
	return &dataServiceClient{cc}
}

func (c *dataServiceClient) Data(ctx context.Context, opts ...grpc.CallOption) (DataService_DataClient, error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	stream, err := c.cc.NewStream(ctx, &DataService_ServiceDesc.Streams[0], dataMethod, opts...)
	if err != nil {
		return nil, err
	}
	return &dataServiceDataClient{stream}, nil
}

type dataServiceDataClient struct {
	grpc.ClientStream
}

func (x *dataServiceDataClient) Send(m *fnapi.Elements) error {
	return x.ClientStream.SendMsg(m)
}

func (x *dataServiceDataClient) Recv() (*fnapi.Elements, error) {
	m := new(fnapi.Elements)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
