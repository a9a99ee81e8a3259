package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/aschepis/backscratcher/recall/client"
	"github.com/aschepis/backscratcher/recall/config"
	recalllogger "github.com/aschepis/backscratcher/recall/logger"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: recall [flags] <command> [args]

Commands:
  append    record a conversation turn
  enqueue   schedule extraction for a conversation
  search    search facts by meaning
  remember  store a fact directly
  profile   show the core profile
  facts     list facts (--all includes invalidated, --history only invalidated)
  queue     show queue status
  drain     process pending queue items now
  info      show daemon information

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	var (
		socketPath = flag.String("socket", "", "Unix socket path for daemon connection")
		tcpAddress = flag.String("tcp", "", "TCP address to connect to (e.g., localhost:50051). If set, disables Unix socket")
		owner      = flag.String("owner", "", "Owner to act for (default from cli config)")
		jsonOut    = flag.Bool("json", false, "Print raw JSON responses")
		logFile    = flag.String("logfile", recalllogger.StderrFile, "Path to log file")
	)
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	logger, err := recalllogger.InitWithOptions(*logFile, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	clientConfig, err := config.LoadClientConfig(config.GetClientConfigPath())
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to load client configuration, using defaults")
		clientConfig = &config.ClientConfig{Owner: "default", Timeout: 30}
		clientConfig.Daemon.Socket = client.DefaultSocketPath
	}

	// command line flags override config
	var address string
	switch {
	case *tcpAddress != "":
		address = *tcpAddress
	case *socketPath != "":
		address = *socketPath
	case clientConfig.Daemon.TCP != "":
		address = clientConfig.Daemon.TCP
	case clientConfig.Daemon.Socket != "":
		address = clientConfig.Daemon.Socket
	default:
		address = client.DefaultSocketPath
	}
	if *owner == "" {
		*owner = clientConfig.Owner
	}

	grpcClient, err := client.Connect(address)
	if err != nil {
		logger.Error().Err(err).Str("address", address).Msg("Failed to connect to daemon")
		fmt.Fprintf(os.Stderr, "Cannot connect to recalld at %s\n", address)
		os.Exit(1)
	}
	defer grpcClient.Close() //nolint:errcheck // No remedy for grpcClient close errors

	timeout := 30 * time.Second
	if clientConfig.Timeout > 0 {
		timeout = time.Duration(clientConfig.Timeout) * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cli := &cli{api: grpcClient.Memory, owner: *owner, json: *jsonOut, out: os.Stdout}
	if err := cli.run(ctx, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1) //nolint:gocritic // Exiting will close the grpc client anyways
	}
}
