package grpcpeer

import (
	"context"

	"google.golang.org/grpc"
)

const (
	serviceName = "ringd.P2P"

	getInfoMethod    = "/" + serviceName + "/GetInfo"
	getChainMethod   = "/" + serviceName + "/GetChain"
	getObjectsMethod = "/" + serviceName + "/GetObjects"
)

// p2pService is the server side of the peer protocol.
type p2pService interface {
	getInfo(ctx context.Context, request *getInfoRequest) (*getInfoResponse, error)
	getChain(ctx context.Context, request *getChainRequest) (*getChainResponse, error)
	getObjects(ctx context.Context, request *getObjectsRequest) (*getObjectsResponse, error)
}

func unaryHandler[Request any, Response any, RequestPtr interface {
	*Request
	wireMessage
}](method string, handle func(p2pService, context.Context, RequestPtr) (Response, error)) func(srv interface{}, ctx context.Context,
	dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {

	return func(srv interface{}, ctx context.Context, dec func(interface{}) error,
		interceptor grpc.UnaryServerInterceptor) (interface{}, error) {

		request := RequestPtr(new(Request))
		err := dec(request)
		if err != nil {
			return nil, err
		}
		if interceptor == nil {
			return handle(srv.(p2pService), ctx, request)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		return interceptor(ctx, request, info, func(ctx context.Context, req interface{}) (interface{}, error) {
			return handle(srv.(p2pService), ctx, req.(RequestPtr))
		})
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*p2pService)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetInfo",
			Handler:    unaryHandler[getInfoRequest](getInfoMethod, p2pService.getInfo),
		},
		{
			MethodName: "GetChain",
			Handler:    unaryHandler[getChainRequest](getChainMethod, p2pService.getChain),
		},
		{
			MethodName: "GetObjects",
			Handler:    unaryHandler[getObjectsRequest](getObjectsMethod, p2pService.getObjects),
		},
	},
	Metadata: "ringd/p2p",
}
