// Package admin implements the alarmd administrative gRPC service.
//
// The service is described by a hand-written grpc.ServiceDesc whose messages
// are protobuf well-known types (Empty, Struct and wrappers), so clients can
// call it with grpc.ClientConn.Invoke and the method names exported here.
package admin
