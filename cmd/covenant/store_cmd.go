package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	_ "github.com/lib/pq" // Postgres driver

	"github.com/covenant-labs/covenant/core/pkg/config"
	"github.com/covenant-labs/covenant/core/pkg/store"
)

// openStore selects the snapshot backend from the environment config
// (STORE_BACKEND). Postgres connects via DATABASE_URL; every other backend
// reads the SQLite file at dbPath. The in-memory store is a library-only
// backend; a separate process has nothing to read from it.
func openStore(cfg *config.Config, dbPath string) (store.Store, func(), error) {
	if cfg.StoreBackend == "postgres" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return store.NewPostgresStore(db), func() { _ = db.Close() }, nil
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, nil, err
	}
	s, err := store.NewSQLiteStore(db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return s, func() { _ = db.Close() }, nil
}

// runShowCmd implements `covenant show`: print one persisted contract record.
func runShowCmd(args []string, stdout, stderr io.Writer) int {
	cfg := config.Load()
	cmd := flag.NewFlagSet("show", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		dbPath string
		id     string
	)
	cmd.StringVar(&dbPath, "db", cfg.SQLitePath, "SQLite database path (default from SQLITE_PATH)")
	cmd.StringVar(&id, "id", "", "Contract id (REQUIRED)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if id == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --id is required")
		return 2
	}

	s, closeStore, err := openStore(cfg, dbPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer closeStore()

	rec, err := s.Get(context.Background(), id)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rec); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	return 0
}

// runListCmd implements `covenant list`: most recently updated records first.
func runListCmd(args []string, stdout, stderr io.Writer) int {
	cfg := config.Load()
	cmd := flag.NewFlagSet("list", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		dbPath string
		limit  int
	)
	cmd.StringVar(&dbPath, "db", cfg.SQLitePath, "SQLite database path (default from SQLITE_PATH)")
	cmd.IntVar(&limit, "limit", 20, "Maximum records to print")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	s, closeStore, err := openStore(cfg, dbPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer closeStore()

	records, err := s.List(context.Background(), limit)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	for _, rec := range records {
		_, _ = fmt.Fprintf(stdout, "%s  %-12s  %s (v%s)\n",
			rec.UpdatedAt.Format("2006-01-02 15:04:05"), rec.State, rec.Name, rec.Version)
	}
	return 0
}

// runInitDBCmd implements `covenant initdb`: create the Postgres schema.
func runInitDBCmd(args []string, stdout, stderr io.Writer) int {
	cfg := config.Load()
	cmd := flag.NewFlagSet("initdb", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var dbURL string
	cmd.StringVar(&dbURL, "db-url", cfg.DatabaseURL, "Postgres connection URL (default from DATABASE_URL)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if dbURL == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --db-url is required")
		return 2
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer func() { _ = db.Close() }()

	if err := store.NewPostgresStore(db).Init(context.Background()); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	_, _ = fmt.Fprintln(stdout, "Schema initialized")
	return 0
}
