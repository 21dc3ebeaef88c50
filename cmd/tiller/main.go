package main

import (
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/tillerlabs/tiller/pkg/config"
	"github.com/tillerlabs/tiller/pkg/constitution"
)

// Dispatcher
func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is a variable to allow mocking in tests
var startServer = runServer

// Run is the entrypoint for testing
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		// Default to server
		startServer()
		return 0
	}

	switch args[1] {
	case "server", "serve":
		startServer()
		return 0
	case "export":
		return runExportCmd(args[2:], stdout, stderr)
	case "verify":
		return runVerifyCmd(args[2:], stdout, stderr)
	case "token":
		return runTokenCmd(args[2:], stdout, stderr)
	case "health":
		return runHealthCmd(stdout, stderr)
	case "version":
		fmt.Fprintf(stdout, "tiller %s (constitution %s)\n", Version, constitution.Version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		if args[1][0] == '-' {
			startServer()
			return 0
		}
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

// Version is stamped at build time via -ldflags.
var Version = "dev"

// ANSI Colors
const (
	ColorReset  = "\033[0m"
	ColorBold   = "\033[1m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorBlue   = "\033[34m"
	ColorCyan   = "\033[36m"
	ColorGray   = "\033[37m"
)

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sTiller Kernel %s%s\n", ColorBold+ColorBlue, Version, ColorReset)
	fmt.Fprintf(w, "%sPods propose. The kernel governs.%s\n", ColorGray, ColorReset)
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sUSAGE:%s\n", ColorBold, ColorReset)
	fmt.Fprintln(w, "  tiller <command> [flags]")
	fmt.Fprintln(w, "")

	printSection(w, "KERNEL")
	printCommand(w, "server", "Run the governance API server (default)")
	printCommand(w, "health", "Check server health (HTTP)")

	printSection(w, "LEDGER")
	printCommand(w, "export", "Snapshot the ledger to the archive store (--json)")
	printCommand(w, "verify", "Verify ledger integrity (--snapshot, --json)")

	printSection(w, "ACCESS")
	printCommand(w, "token", "Mint a bearer token (--subject, --type, --roles)")

	printSection(w, "UTILITIES")
	printCommand(w, "version", "Show version information")
	printCommand(w, "help", "Show this help")
	fmt.Fprintln(w, "")
}

func printSection(w io.Writer, title string) {
	fmt.Fprintf(w, "%s%s:%s\n", ColorBold+ColorCyan, title, ColorReset)
}

func printCommand(w io.Writer, name, desc string) {
	fmt.Fprintf(w, "  %s%-12s%s %s\n", ColorGreen, name, ColorReset, desc)
}

// runHealthCmd probes the running server's public health endpoint.
func runHealthCmd(out, errOut io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(errOut, "Error: %v\n", err)
		return 2
	}
	resp, err := http.Get("http://localhost:" + cfg.Port + "/health")
	if err != nil {
		_, _ = fmt.Fprintf(errOut, "Error: server not reachable: %v\n", err)
		return 1
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = fmt.Fprintf(errOut, "Error: health check returned %d\n", resp.StatusCode)
		return 1
	}
	_, _ = fmt.Fprintf(out, "%sOK%s\n", ColorGreen, ColorReset)
	return 0
}
