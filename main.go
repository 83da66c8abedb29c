// Package main is the entry point for the leadscout engine.
package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/leadscout/leadscout/internal/logger"
)

var (
	// version can be set at build time via -ldflags
	version = "dev"
)

func main() {
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	switch command {
	case "serve", "all":
		// Control plane, agent fleet, and maintenance jobs in one process
		runServe()
	case "api":
		runAPI()
	case "fleet":
		runFleet()
	case "version":
		log.Printf("leadscout version %s\n", version)
		os.Exit(0)
	case "help", "-h", "--help":
		printUsage()
		os.Exit(0)
	default:
		log.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

// waitForShutdown blocks until SIGINT or SIGTERM.
func waitForShutdown(log logger.Logger) {
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	sig := <-shutdown
	log.Info("shutdown signal received", logger.String("signal", sig.String()))
}

func printUsage() {
	log.Println("leadscout - agent scheduling and state coordination engine")
	log.Println()
	log.Println("Usage:")
	log.Println("  leadscout [command]")
	log.Println()
	log.Println("Commands:")
	log.Println("  serve      Run control plane, agent fleet, and maintenance jobs (default)")
	log.Println("  api        Run the control-plane HTTP API only")
	log.Println("  fleet      Run the agent fleet only, reporting to a remote control plane")
	log.Println("  version    Print version information")
	log.Println("  help       Show this help message")
	log.Println()
	log.Println("Environment Variables:")
	log.Println("  CONFIG_PATH          - Path to the YAML config file (default: config.yml)")
	log.Println("  LEADSCOUT_PORT       - Control plane HTTP port (default: 8090)")
	log.Println("  POSTGRES_HOST        - PostgreSQL host (default: localhost)")
	log.Println("  POSTGRES_PASSWORD    - PostgreSQL password")
	log.Println("  REDIS_ADDR           - Redis address (default: localhost:6379)")
	log.Println("  AUTOMATION_URL       - Browser-automation sidecar URL (empty disables the fleet)")
	log.Println("  CONTROL_PLANE_URL    - Remote control plane for the fleet command")
	log.Println("  CLEANUP_TOKEN        - Bearer token for the cleanup endpoint")
	log.Println("  LOG_LEVEL            - debug|info|warn|error (default: info)")
}
