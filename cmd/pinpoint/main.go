package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jward/pinpoint"
	"github.com/jward/pinpoint/conventions"
)

var version = "dev"

var (
	flagDB          string
	flagFormat      string
	flagLogLevel    string
	flagLogJSON     bool
	flagConventions []string
	flagNoBuiltin   bool
)

// errorHandled is set by outputError so main() doesn't double-print.
var errorHandled bool

// logger writes to stderr; stdout carries command results and LSP traffic.
var logger = zap.NewNop().Sugar()

func main() {
	err := rootCmd.Execute()
	_ = logger.Sync()
	if err != nil {
		if !errorHandled {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "pinpoint",
	Short:         "Ruby code intelligence",
	Long:          "Pinpoint maps Ruby sources into pins, infers types and answers completion, definition and signature queries.",
	Version:       version,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := validateFormat(flagFormat); err != nil {
			return err
		}
		l, err := newLogger(flagLogLevel, flagLogJSON)
		if err != nil {
			return err
		}
		logger = l
		return nil
	},
	// No Run, so cobra prints help.
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "database path (default: .pinpoint/index.db relative to repo root)")
	rootCmd.PersistentFlags().StringVar(&flagFormat, "format", "json", "output format: json|text")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "warn", "log level: debug|info|warn|error")
	rootCmd.PersistentFlags().BoolVar(&flagLogJSON, "log-json", false, "write JSON logs instead of console logs")
	rootCmd.PersistentFlags().StringSliceVar(&flagConventions, "conventions", nil, "extra convention scripts, relative to the project root")
	rootCmd.PersistentFlags().BoolVar(&flagNoBuiltin, "no-builtin", false, "skip the built-in convention scripts")

	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(completeCmd)
	rootCmd.AddCommand(defineCmd)
	rootCmd.AddCommand(signatureCmd)
	rootCmd.AddCommand(symbolsCmd)
	rootCmd.AddCommand(pathCmd)
	rootCmd.AddCommand(searchCmd)
}

var (
	flagForce  bool
	flagSerial bool
)

var indexCmd = &cobra.Command{
	Use:   "index [path]",
	Short: "Map a Ruby project into the pin database",
	Long:  "Parses every file the project's inclusion policy accepts, runs convention scripts and writes pins to the SQLite database. Unchanged files are reused.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runIndex,
}

func init() {
	indexCmd.Flags().BoolVar(&flagForce, "force", false, "delete database and remap from scratch")
	indexCmd.Flags().BoolVar(&flagSerial, "serial", false, "map files one at a time")
}

func runIndex(cmd *cobra.Command, args []string) error {
	start := time.Now()

	targetDir, err := resolveTargetDir(args)
	if err != nil {
		return outputError("index", err)
	}
	dbPath, err := prepareDB(findRepoRoot(targetDir))
	if err != nil {
		return outputError("index", err)
	}

	if flagForce {
		if err := os.Remove(dbPath); err != nil && !os.IsNotExist(err) {
			return outputError("index", errors.Wrap(err, "removing database for --force"))
		}
		fmt.Fprintf(os.Stderr, "Cleared database: %s\n", dbPath)
	}

	opts := libraryOptions(dbPath)
	if flagSerial {
		opts = append(opts, pinpoint.WithParallel(false))
	}
	lib, err := pinpoint.Load(context.Background(), targetDir, opts...)
	if err != nil {
		return outputError("index", err)
	}
	defer lib.Shutdown()

	duration := time.Since(start)
	fmt.Fprintf(os.Stderr, "Mapped %s in %s\n", targetDir, duration.Round(time.Millisecond))
	fmt.Fprintf(os.Stderr, "Database: %s\n", dbPath)

	return outputResult(CLIResult{
		Command: "index",
		Results: statsToCLI(lib, dbPath, duration),
	})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the Language Server Protocol over stdio",
	Long:  "Runs a language server on stdin/stdout. The project is loaded from the workspace root the client sends on initialize.",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	return newServer().RunStdio()
}

// libraryOptions builds the Library options shared by every command.
func libraryOptions(dbPath string) []pinpoint.Option {
	opts := []pinpoint.Option{pinpoint.WithLogger(logger)}
	if dbPath != "" {
		opts = append(opts, pinpoint.WithDatabase(dbPath))
	}
	if len(flagConventions) > 0 {
		opts = append(opts, pinpoint.WithConventions(flagConventions...))
	}
	if !flagNoBuiltin {
		opts = append(opts, pinpoint.WithScriptsFS(conventions.FS, conventions.Builtin...))
	}
	return opts
}

// prepareDB resolves the database path for repoRoot and creates its
// directory.
func prepareDB(repoRoot string) (string, error) {
	dbPath := resolveDBPath(repoRoot)
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "creating %s", dir)
	}
	return dbPath, nil
}

// resolveTargetDir returns the absolute path of the directory to map.
func resolveTargetDir(args []string) (string, error) {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", errors.Wrapf(err, "resolving path %q", dir)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", errors.Newf("directory not found: %s", abs)
	}
	if !info.IsDir() {
		return "", errors.Newf("not a directory: %s", abs)
	}
	return abs, nil
}

// findRepoRoot walks up from startDir looking for a .git directory.
// Returns the directory containing .git, or startDir if not found.
func findRepoRoot(startDir string) string {
	dir := startDir
	for {
		if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return startDir
		}
		dir = parent
	}
}

// resolveDBPath returns the database path from the --db flag or the default.
func resolveDBPath(repoRoot string) string {
	if flagDB != "" {
		if filepath.IsAbs(flagDB) {
			return flagDB
		}
		return filepath.Join(repoRoot, flagDB)
	}
	return filepath.Join(repoRoot, ".pinpoint", "index.db")
}
