package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/covenant-labs/covenant/core/pkg/config"
)

// runValidateCmd implements `covenant validate`.
//
// Exit codes:
//
//	0 = definition is valid
//	1 = definition is invalid
//	2 = usage error
func runValidateCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("validate", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		specPath   string
		jsonOutput bool
	)
	cmd.StringVar(&specPath, "spec", "", "Path to contract definition YAML (REQUIRED)")
	cmd.BoolVar(&jsonOutput, "json", false, "Print the parsed spec as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if specPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --spec is required")
		return 2
	}

	spec, err := config.LoadSpecFile(specPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Invalid: %v\n", err)
		return 1
	}

	if jsonOutput {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(spec); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		return 0
	}

	_, _ = fmt.Fprintf(stdout, "OK: %s (%d dimensions, policy=%s)\n",
		spec.Name, len(spec.Budget), spec.Policy)
	return 0
}
