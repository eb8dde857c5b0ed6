package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/jward/pinpoint"
)

var (
	flagLimit  int
	flagPrefix bool
)

var completeCmd = &cobra.Command{
	Use:   "complete <file> <line> <col>",
	Short: "List completions at a position",
	Long:  "Suggests the methods, constants and variables that can be written at a position. Line and column numbers are 0-based.",
	Args:  cobra.ExactArgs(3),
	RunE:  runComplete,
}

var defineCmd = &cobra.Command{
	Use:   "define <file> <line> <col>",
	Short: "Find the definitions of the word at a position",
	Args:  cobra.ExactArgs(3),
	RunE:  runDefine,
}

var signatureCmd = &cobra.Command{
	Use:   "signature <file> <line> <col>",
	Short: "Find the signatures of the method called at a position",
	Args:  cobra.ExactArgs(3),
	RunE:  runSignature,
}

var symbolsCmd = &cobra.Command{
	Use:   "symbols <file>",
	Short: "List the namespaces and methods declared in a file",
	Args:  cobra.ExactArgs(1),
	RunE:  runSymbols,
}

var pathCmd = &cobra.Command{
	Use:   "path <path>",
	Short: "Look up pins by fully qualified path (e.g. Foo::Bar or Foo#bar)",
	Args:  cobra.ExactArgs(1),
	RunE:  runPath,
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search namespaces and methods by name",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearch,
}

func init() {
	pathCmd.Flags().BoolVar(&flagPrefix, "prefix", false, "list namespaces whose path starts with <path>")
	searchCmd.Flags().IntVar(&flagLimit, "limit", 50, "maximum results (max 500)")
}

func runComplete(cmd *cobra.Command, args []string) error {
	return withPosition("complete", args, func(lib *pinpoint.Library, file string, line, col int) (any, error) {
		c, err := lib.CompletionsAt(file, line, col)
		if err != nil {
			return nil, err
		}
		return CLICompletion{Word: c.Word, Pins: pinsToCLI(c.Pins)}, nil
	})
}

func runDefine(cmd *cobra.Command, args []string) error {
	return withPosition("define", args, func(lib *pinpoint.Library, file string, line, col int) (any, error) {
		pins, err := lib.DefinitionsAt(file, line, col)
		if err != nil {
			return nil, err
		}
		return pinsToCLI(pins), nil
	})
}

func runSignature(cmd *cobra.Command, args []string) error {
	return withPosition("signature", args, func(lib *pinpoint.Library, file string, line, col int) (any, error) {
		pins, err := lib.SignaturesAt(file, line, col)
		if err != nil {
			return nil, err
		}
		return pinsToCLI(pins), nil
	})
}

func runSymbols(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	lib, err := loadProject(ctx)
	if err != nil {
		return outputError("symbols", err)
	}
	defer lib.Shutdown()

	file, err := openFile(ctx, lib, args[0])
	if err != nil {
		return outputError("symbols", err)
	}
	pins, err := lib.FileSymbols(file)
	if err != nil {
		return outputError("symbols", err)
	}
	return outputResult(CLIResult{Command: "symbols", Results: pinsToCLI(pins)})
}

func runPath(cmd *cobra.Command, args []string) error {
	lib, err := loadProject(context.Background())
	if err != nil {
		return outputError("path", err)
	}
	defer lib.Shutdown()

	pins := lib.PathPins(args[0])
	if flagPrefix {
		pins = lib.PathSuggestions(args[0])
	}
	return outputResult(CLIResult{Command: "path", Results: pinsToCLI(pins)})
}

func runSearch(cmd *cobra.Command, args []string) error {
	lib, err := loadProject(context.Background())
	if err != nil {
		return outputError("search", err)
	}
	defer lib.Shutdown()

	results, err := lib.QuerySymbols(args[0], flagLimit)
	if err != nil {
		return outputError("search", err)
	}
	out := make([]CLISearchResult, 0, len(results))
	for _, r := range results {
		out = append(out, CLISearchResult{
			Path: r.Path,
			Name: r.Name,
			Kind: r.Kind,
			File: r.FilePath,
			Line: r.Line,
			Col:  r.Col,
		})
	}
	total := len(out)
	return outputResult(CLIResult{Command: "search", Results: out, TotalCount: &total})
}

// --- Helpers ---

// withPosition loads the project, opens the <file> argument and runs query
// at the <line> <col> arguments.
func withPosition(command string, args []string, query func(lib *pinpoint.Library, file string, line, col int) (any, error)) error {
	line, err := parseIntArg(args[1], "line")
	if err != nil {
		return outputError(command, err)
	}
	col, err := parseIntArg(args[2], "col")
	if err != nil {
		return outputError(command, err)
	}

	ctx := context.Background()
	lib, err := loadProject(ctx)
	if err != nil {
		return outputError(command, err)
	}
	defer lib.Shutdown()

	file, err := openFile(ctx, lib, args[0])
	if err != nil {
		return outputError(command, err)
	}
	results, err := query(lib, file, line, col)
	if err != nil {
		return outputError(command, err)
	}
	return outputResult(CLIResult{Command: command, Results: results})
}

// loadProject loads the repository containing the working directory,
// reusing the database written by 'pinpoint index'.
func loadProject(ctx context.Context) (*pinpoint.Library, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrap(err, "getting cwd")
	}
	repoRoot := findRepoRoot(cwd)
	dbPath, err := prepareDB(repoRoot)
	if err != nil {
		return nil, err
	}
	return pinpoint.Load(ctx, repoRoot, libraryOptions(dbPath)...)
}

// openFile reads a file from disk and opens it in lib, returning the
// absolute path queries address it by.
func openFile(ctx context.Context, lib *pinpoint.Library, file string) (string, error) {
	abs, err := resolveFilePath(file)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", errors.Wrapf(err, "reading %s", abs)
	}
	if err := lib.Open(ctx, abs, string(data), 0); err != nil {
		return "", err
	}
	return abs, nil
}

// resolveFilePath converts a file argument to an absolute path.
// If the path is already absolute, it's returned as-is.
// Otherwise, it's resolved relative to the current working directory.
func resolveFilePath(file string) (string, error) {
	if filepath.IsAbs(file) {
		return file, nil
	}
	abs, err := filepath.Abs(file)
	if err != nil {
		return "", errors.Wrapf(err, "resolving file path %q", file)
	}
	return abs, nil
}

// parseIntArg parses a positional argument as an integer with a clear error.
func parseIntArg(value, name string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.Newf("invalid %s %q: must be a non-negative integer", name, value)
	}
	if n < 0 {
		return 0, errors.Newf("invalid %s %q: must be non-negative", name, value)
	}
	return n, nil
}

// outputResult marshals a CLIResult to stdout in the selected format.
func outputResult(result CLIResult) error {
	if flagFormat == "text" {
		return outputResultText(os.Stdout, result)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// outputError writes an error in the selected format and returns it so RunE
// can propagate it to Cobra. In JSON mode the error is written to stdout as a
// CLIResult envelope. In text mode it goes to stderr.
func outputError(command string, err error) error {
	errorHandled = true
	if flagFormat == "text" {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return err
	}
	result := CLIResult{
		Command: command,
		Error:   err.Error(),
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(result)
	return err
}

// pinToCLI converts a pin to a CLIPin.
func pinToCLI(p *pinpoint.Pin) CLIPin {
	return CLIPin{
		Kind:       p.Kind.String(),
		Name:       p.Name,
		Path:       p.Path,
		Namespace:  p.Namespace,
		Scope:      p.Scope.String(),
		ReturnType: p.ReturnType,
		Parameters: p.Parameters,
		Docstring:  p.Docstring.Text,
		File:       p.Location.Filename,
		StartLine:  p.Location.StartLine,
		StartCol:   p.Location.StartCol,
		EndLine:    p.Location.EndLine,
		EndCol:     p.Location.EndCol,
	}
}

func pinsToCLI(pins []*pinpoint.Pin) []CLIPin {
	out := make([]CLIPin, 0, len(pins))
	for _, p := range pins {
		out = append(out, pinToCLI(p))
	}
	return out
}

func statsToCLI(lib *pinpoint.Library, dbPath string, duration time.Duration) CLILoadStats {
	out := CLILoadStats{
		Root:       lib.Root(),
		Database:   dbPath,
		DurationMS: duration.Milliseconds(),
	}
	if s := lib.Stats(); s != nil {
		out.Discovered = s.Discovered
		out.Mapped = s.Mapped
		out.Reused = s.Reused
		out.Removed = s.Removed
		out.Failed = s.Failed
	}
	return out
}
