package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"chainvault/go-backend/internal/composition/custodyserver"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	listen := flag.String("listen", "", "JSON-RPC listen address (overrides config)")
	configPath := flag.String("config", "", "Path to config.yaml (optional)")
	apiToken := flag.String("api-token", "", "Bearer token required on RPC calls (optional)")
	flag.Parse()
	if *showVersion {
		fmt.Printf("custodiad version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *listen != "" {
		_ = os.Setenv("CVLT_LISTEN", *listen)
	}
	if *apiToken != "" {
		_ = os.Setenv("CVLT_API_TOKEN", *apiToken)
	}

	srv, err := custodyserver.New(*configPath)
	if err != nil {
		log.Fatalf("custodiad failed to initialize: %v", err)
	}

	log.Println("custodiad starting")
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("custodiad failed: %v", err)
	}
	log.Println("custodiad stopped")
}
