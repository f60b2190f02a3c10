// intcoded: Intcode machine node
//
// This is the main entry point for intcoded, a service that stores Intcode
// programs and runs machine sessions on behalf of JSON-RPC and gRPC clients.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fortiblox/intcode/pkg/node"
)

// Version information
var (
	Version   = "0.1.0"
	GitCommit = "dev"
)

// Configuration flags. Flags that are set override the config file.
var (
	configPath  = flag.String("config", "", "Path to a TOML config file")
	dataDir     = flag.String("data-dir", "./data", "Data directory for images and checkpoints")
	inMemory    = flag.Bool("in-memory", false, "Keep images and checkpoints in memory")
	rpcAddr     = flag.String("rpc-addr", ":8645", "JSON-RPC server listen address")
	disableRPC  = flag.Bool("disable-rpc", false, "Disable the JSON-RPC server")
	grpcAddr    = flag.String("grpc-addr", ":8646", "gRPC server listen address")
	enableGRPC  = flag.Bool("enable-grpc", false, "Enable the gRPC server")
	grpcToken   = flag.String("grpc-token", "", "Shared token required by the gRPC server")
	dashboard   = flag.Bool("dashboard", false, "Enable the web dashboard")
	dashPort    = flag.Int("dashboard-port", 8647, "Web dashboard port")
	logRequests = flag.Bool("log-requests", false, "Log every JSON-RPC request")
	maxSessions = flag.Int("max-sessions", 1024, "Maximum number of live sessions (0 = unlimited)")
	maxSteps    = flag.Uint64("max-steps", 0, "Lifetime instruction budget per machine (0 = unlimited)")
	statusEvery = flag.Duration("status-interval", time.Minute, "Interval between status log lines (0 = off)")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("intcoded %s (%s)\n", Version, GitCommit)
		os.Exit(0)
	}

	// Setup logging
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Printf("Starting intcoded %s", Version)

	config, err := loadConfig()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A server that fails to listen or serve takes the node down.
	config.OnError = func(err error) {
		cancel()
	}

	n, err := node.New(&config)
	if err != nil {
		log.Fatalf("Failed to create node: %v", err)
	}

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	if err := n.Start(ctx); err != nil {
		log.Fatalf("Failed to start node: %v", err)
	}

	// Print status periodically
	var ticker *time.Ticker
	var tick <-chan time.Time
	if *statusEvery > 0 {
		ticker = time.NewTicker(*statusEvery)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			if err := n.Stop(); err != nil {
				log.Printf("Shutdown error: %v", err)
			}
			log.Println("intcoded stopped")
			return
		case <-tick:
			stats := n.Stats()
			log.Printf("Status: sessions=%d created=%d reaped=%d checkpoints=%d uptime=%s",
				stats.Sessions.Live, stats.Sessions.Created, stats.Reaped, stats.Checkpoints,
				stats.Uptime.Round(time.Second))
		}
	}
}

// loadConfig builds the node configuration from the optional config file
// and the flags given on the command line.
func loadConfig() (node.Config, error) {
	config := node.DefaultConfig()
	if *configPath != "" {
		var err error
		config, err = node.LoadConfig(*configPath)
		if err != nil {
			return node.Config{}, err
		}
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "data-dir":
			config.DataDir = *dataDir
		case "in-memory":
			config.InMemory = *inMemory
		case "rpc-addr":
			config.RPC.Addr = *rpcAddr
		case "disable-rpc":
			config.RPCEnabled = !*disableRPC
		case "grpc-addr":
			config.GRPC.Addr = *grpcAddr
		case "enable-grpc":
			config.GRPCEnabled = *enableGRPC
		case "grpc-token":
			config.GRPC.Token = *grpcToken
		case "dashboard":
			config.DashboardEnabled = *dashboard
		case "dashboard-port":
			config.Dashboard.Port = *dashPort
		case "log-requests":
			config.RPC.LogRequests = *logRequests
		case "max-sessions":
			config.Session.MaxSessions = *maxSessions
		case "max-steps":
			config.Session.MaxSteps = *maxSteps
		}
	})

	config.RPC.Version = Version
	return config, nil
}
