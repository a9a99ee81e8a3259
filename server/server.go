// Package server implements the gRPC server for the recalld daemon.
package server

import (
	"context"
	"net"
	"os"
	"sync"
	"time"

	"github.com/aschepis/backscratcher/recall/api/memorypb"
	"github.com/aschepis/backscratcher/recall/conversations"
	"github.com/aschepis/backscratcher/recall/memory"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
)

// Server is the main gRPC server for recalld.
type Server struct {
	memorypb.UnimplementedMemoryServiceServer

	grpcServer    *grpc.Server
	service       *memory.Service
	conversations *conversations.Store
	info          Info
	defaultOwner  string
	logger        zerolog.Logger

	mu         sync.RWMutex
	startedAt  time.Time
	socketPath string
}

// Info describes the running daemon for the Info RPC.
type Info struct {
	Version           string
	Index             string
	EmbeddingProvider string
	ExtractionModel   string
	DecisionModel     string
}

// Config holds server configuration options.
type Config struct {
	SocketPath   string
	DefaultOwner string
	Info         Info
	Logger       zerolog.Logger
}

// New creates a new gRPC server.
func New(cfg Config, service *memory.Service, convs *conversations.Store) *Server {
	s := &Server{
		service:       service,
		conversations: convs,
		info:          cfg.Info,
		defaultOwner:  cfg.DefaultOwner,
		logger:        cfg.Logger.With().Str("component", "grpc-server").Logger(),
		socketPath:    cfg.SocketPath,
		startedAt:     time.Now(),
	}
	if s.defaultOwner == "" {
		s.defaultOwner = "default"
	}

	s.grpcServer = grpc.NewServer(grpc.ChainUnaryInterceptor(s.loggingInterceptor))
	memorypb.RegisterMemoryServiceServer(s.grpcServer, s)
	return s
}

// Serve starts the gRPC server on the given listener.
func (s *Server) Serve(listener net.Listener) error {
	s.mu.Lock()
	s.startedAt = time.Now()
	s.mu.Unlock()
	s.logger.Info().Str("address", listener.Addr().String()).Msg("Starting gRPC server")
	return s.grpcServer.Serve(listener)
}

// ServeUnix starts the server on a Unix domain socket, replacing a stale
// socket file left by a previous run.
func (s *Server) ServeUnix(socketPath string) error {
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.socketPath = socketPath
	s.mu.Unlock()
	return s.Serve(listener)
}

// ServeTCP starts the server on a TCP address.
func (s *Server) ServeTCP(address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

// GracefulStop gracefully stops the server.
func (s *Server) GracefulStop() {
	s.logger.Info().Msg("Gracefully stopping gRPC server")
	s.grpcServer.GracefulStop()
}

// Stop immediately stops the server.
func (s *Server) Stop() {
	s.logger.Info().Msg("Stopping gRPC server")
	s.grpcServer.Stop()
}

// loggingInterceptor logs unary RPC calls.
func (s *Server) loggingInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	duration := time.Since(start)

	if err != nil {
		s.logger.Error().
			Str("method", info.FullMethod).
			Dur("duration", duration).
			Err(err).
			Msg("RPC failed")
	} else {
		s.logger.Debug().
			Str("method", info.FullMethod).
			Dur("duration", duration).
			Msg("RPC completed")
	}

	return resp, err
}
