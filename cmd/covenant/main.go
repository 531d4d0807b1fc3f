package main

import (
	"fmt"
	"io"
	"os"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "validate":
		return runValidateCmd(args[2:], stdout, stderr)
	case "simulate":
		return runSimulateCmd(args[2:], stdout, stderr)
	case "show":
		return runShowCmd(args[2:], stdout, stderr)
	case "list":
		return runListCmd(args[2:], stdout, stderr)
	case "initdb":
		return runInitDBCmd(args[2:], stdout, stderr)
	case "help", "-h", "--help":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, `Usage: covenant <command> [flags]

Commands:
  validate  Validate a contract definition file
  simulate  Run a contract lifecycle from a definition and consumption script
  show      Print a persisted contract record
  list      List persisted contract records
  initdb    Initialize the Postgres schema
  help      Show this help`)
}
