// Package client connects to a running recalld daemon.
package client

import (
	"fmt"
	"strings"

	"github.com/aschepis/backscratcher/recall/api/memorypb"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	// DefaultSocketPath is the default Unix socket path for the daemon.
	DefaultSocketPath = "/tmp/recalld.sock"
)

// Client wraps the gRPC connection to recalld.
type Client struct {
	conn *grpc.ClientConn

	Memory *memorypb.Client
}

// Connect connects to the recalld daemon.
// The address can be:
//   - A Unix socket path (e.g., "/tmp/recalld.sock")
//   - A TCP address (e.g., "localhost:50051")
//
// If the address starts with "unix://", it will be treated as a Unix socket.
// Otherwise, if it contains ":" it will be treated as TCP, else Unix socket.
func Connect(address string) (*Client, error) {
	if address == "" {
		address = DefaultSocketPath
	}

	conn, err := grpc.NewClient(Target(address), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon at %s: %w", address, err)
	}

	return &Client{
		conn:   conn,
		Memory: memorypb.NewClient(conn),
	}, nil
}

// Target converts a socket path or host:port into a gRPC dial target.
func Target(address string) string {
	switch {
	case strings.HasPrefix(address, "unix://"):
		return address
	case strings.Contains(address, ":") && !strings.HasPrefix(address, "/"):
		return address
	default:
		return "unix://" + address
	}
}

// Close closes the connection to the daemon.
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
