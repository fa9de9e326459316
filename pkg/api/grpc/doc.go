// Package grpc exposes the engine over gRPC. It serves the standard health
// protocol, driven by worker pool health, and server reflection.
package grpc
