package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/covenant-labs/covenant/core/pkg/advisor"
	"github.com/covenant-labs/covenant/core/pkg/audit"
	"github.com/covenant-labs/covenant/core/pkg/config"
	"github.com/covenant-labs/covenant/core/pkg/contract"
	"github.com/covenant-labs/covenant/core/pkg/observability"
	"github.com/covenant-labs/covenant/core/pkg/policy"
	"github.com/covenant-labs/covenant/core/pkg/store"
)

// recordFlags collects repeated --record dimension=amount flags.
type recordFlags []recordStep

type recordStep struct {
	Dimension string
	Amount    int64
}

func (r *recordFlags) String() string {
	parts := make([]string, 0, len(*r))
	for _, s := range *r {
		parts = append(parts, fmt.Sprintf("%s=%d", s.Dimension, s.Amount))
	}
	return strings.Join(parts, ",")
}

func (r *recordFlags) Set(v string) error {
	dim, amountStr, ok := strings.Cut(v, "=")
	if !ok || dim == "" {
		return fmt.Errorf("expected dimension=amount, got %q", v)
	}
	amount, err := strconv.ParseInt(amountStr, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid amount in %q: %w", v, err)
	}
	*r = append(*r, recordStep{Dimension: dim, Amount: amount})
	return nil
}

type stepResult struct {
	Dimension string `json:"dimension"`
	Amount    int64  `json:"amount"`
	Decision  string `json:"decision"`
	Error     string `json:"error,omitempty"`
	Delay     string `json:"delay,omitempty"`
}

type simulationReport struct {
	ContractID    string                 `json:"contract_id"`
	Name          string                 `json:"name"`
	FinalState    string                 `json:"final_state"`
	HasViolations bool                   `json:"has_violations"`
	Steps         []stepResult           `json:"steps"`
	Advisory      advisor.Recommendation `json:"advisory"`
	PackChecksum  string                 `json:"pack_checksum,omitempty"`
	PackLocation  string                 `json:"pack_location,omitempty"`
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// runSimulateCmd implements `covenant simulate`: activate a contract from a
// definition file, replay a consumption script against it, and report the
// enforcement outcome of every step.
//
// Exit codes:
//
//	0 = simulation completed (including halted runs; the halt is the result)
//	1 = definition invalid
//	2 = usage or runtime error
func runSimulateCmd(args []string, stdout, stderr io.Writer) int {
	cfg := config.Load()
	ctx := context.Background()

	cmd := flag.NewFlagSet("simulate", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		specPath string
		records  recordFlags
		packPath string
		dbPath   string
		fulfill  bool
		upload   bool
		mode     string
	)
	cmd.StringVar(&specPath, "spec", "", "Path to contract definition YAML (REQUIRED)")
	cmd.Var(&records, "record", "Consumption step dimension=amount (repeatable)")
	cmd.StringVar(&packPath, "pack", "", "Write the evidence pack zip to this path")
	cmd.StringVar(&dbPath, "db", "", "Persist the final snapshot to this SQLite database")
	cmd.BoolVar(&fulfill, "fulfill", false, "Attempt fulfillment after the script runs")
	cmd.BoolVar(&upload, "upload", false, "Upload the evidence pack via the EVIDENCE_* sink settings")
	cmd.StringVar(&mode, "mode", "balanced", "Advisory mode: urgent, balanced, economical")

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
	// Definitions that name no policy fall back to DEFAULT_POLICY.
	if spec.Policy == "" {
		spec.Policy = policy.Kind(cfg.DefaultPolicy)
	}

	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))

	c, err := contract.New(spec, contract.WithLogger(logger))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Invalid: %v\n", err)
		return 1
	}

	if cfg.Telemetry {
		oc := observability.DefaultConfig()
		oc.Enabled = true
		oc.OTLPEndpoint = cfg.OTLPEndpoint
		oc.Insecure = true // local collector; the CLI is a dev tool
		provider, err := observability.New(ctx, oc)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		defer func() { _ = provider.Shutdown(ctx) }()
		c.Subscribe(provider.Observer())
	}

	if err := c.Activate(); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	report := simulationReport{ContractID: c.ID(), Name: spec.Name}
	for _, step := range records {
		res := stepResult{Dimension: step.Dimension, Amount: step.Amount}
		outcome, err := c.RecordConsumption(step.Dimension, step.Amount)
		if err != nil {
			res.Error = err.Error()
		} else {
			res.Decision = outcome.Decision.String()
			if outcome.Delay > 0 {
				res.Delay = outcome.Delay.String()
			}
		}
		report.Steps = append(report.Steps, res)
	}

	if fulfill && c.State() == contract.StateActive {
		if err := c.MarkFulfilled(); err != nil && !errors.Is(err, contract.ErrCriteriaNotMet) {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
	}

	report.FinalState = string(c.State())
	report.HasViolations = c.HasViolations()
	report.Advisory = advisor.New(c).Recommend(advisor.Mode(mode))

	if packPath != "" || upload {
		pack, err := c.ExportPack()
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		data, checksum, err := pack.ZipBytes()
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		report.PackChecksum = checksum

		if packPath != "" {
			if err := os.WriteFile(packPath, data, 0o600); err != nil {
				_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
				return 2
			}
		}
		if upload {
			sink, err := audit.NewSinkFromEnv(ctx)
			if err != nil {
				_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
				return 2
			}
			loc, err := sink.Store(ctx, c.ID()+"/evidence.zip", data)
			if err != nil {
				_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
				return 2
			}
			report.PackLocation = loc
		}
	}

	if dbPath != "" {
		if err := persistSnapshot(ctx, dbPath, c); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	return 0
}

func persistSnapshot(ctx context.Context, dbPath string, c *contract.Contract) error {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	s, err := store.NewSQLiteStore(db)
	if err != nil {
		return err
	}
	spec := c.Spec()
	return s.Save(ctx, &store.Record{
		ContractID:    c.ID(),
		Name:          spec.Name,
		Version:       spec.Version,
		State:         string(c.State()),
		HasViolations: c.HasViolations(),
		Usage:         c.Usage(),
		Violations:    c.Violations(),
		UpdatedAt:     time.Now().UTC(),
	})
}
