package client

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// HealthService is the service name the server reports in grpc.health.v1.
const HealthService = "clinicvault"

// DialHealth prepares a connection to the gRPC health endpoint. The
// connection is lazy: nothing is dialed until the first Ping.
func DialHealth(addr string) (*grpc.ClientConn, error) {
	return grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
}
