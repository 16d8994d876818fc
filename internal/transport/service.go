// ABOUTME: Hand-written gRPC service descriptor for the handshake exchange
// ABOUTME: Single bidirectional stream of google.protobuf.Struct messages

package transport

import (
	"google.golang.org/grpc"
)

// Service and metadata names.
const (
	ServiceName        = "coven.authflow.v1.Handshake"
	ExchangeMethod     = "Exchange"
	FullExchangeMethod = "/" + ServiceName + "/" + ExchangeMethod

	// MetadataScheme is the request metadata key naming the scheme.
	MetadataScheme = "x-auth-scheme"

	// MetadataSession is the response header carrying the server's session ID.
	MetadataSession = "x-auth-session"
)

// handshakeServer is the server-side handler interface for the service.
type handshakeServer interface {
	Exchange(stream grpc.ServerStream) error
}

func exchangeHandler(srv any, stream grpc.ServerStream) error {
	return srv.(handshakeServer).Exchange(stream)
}

var exchangeStream = grpc.StreamDesc{
	StreamName:    ExchangeMethod,
	Handler:       exchangeHandler,
	ServerStreams: true,
	ClientStreams: true,
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*handshakeServer)(nil),
	Streams:     []grpc.StreamDesc{exchangeStream},
	Metadata:    "coven/authflow/v1/handshake.proto",
}
