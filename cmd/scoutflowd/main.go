// Command scoutflowd runs the scoutflow session orchestrator as an HTTP
// service: the signal API, the WebSocket event stream, health checks, and
// Prometheus metrics.
//
// Usage:
//
//	scoutflowd serve                        # start the service
//	scoutflowd serve --config config.yaml   # with a config file
//	scoutflowd version                      # print version information
//	scoutflowd health                       # probe a running instance
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"
)

// Injected at build time.
var (
	Version   = "dev"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "version":
		fmt.Printf("scoutflowd %s (%s)\n", Version, GitCommit)
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "server address")
	fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/healthz")
	if err != nil {
		fmt.Fprintf(os.Stderr, "health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "health check failed: status %d\n", resp.StatusCode)
		os.Exit(1)
	}
	fmt.Println("OK")
}

func printUsage() {
	fmt.Println(`scoutflowd - scouting-session orchestration service

Usage:
  scoutflowd <command> [options]

Commands:
  serve     Start the service
  version   Print version information
  health    Probe a running instance
  help      Show this help message

Options for 'serve':
  --config <path>   Path to configuration file (YAML)
  --listen <addr>   Listen address (default :8080)

Examples:
  scoutflowd serve
  scoutflowd serve --config /etc/scoutflow/config.yaml
  scoutflowd health --addr http://localhost:8080`)
}
