package main

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jward/pinpoint"
	"github.com/jward/pinpoint/internal/lsp"
)

// newServer builds a language server whose Library persists to the
// database of the workspace's repository. A client without a workspace
// folder gets an in-memory Library.
func newServer() *lsp.Server {
	return lsp.NewServer(func(ctx context.Context, root string) (*pinpoint.Library, error) {
		if root == "" {
			return pinpoint.New("", libraryOptions("")...)
		}
		dbPath, err := prepareDB(findRepoRoot(root))
		if err != nil {
			return nil, err
		}
		return pinpoint.Load(ctx, root, libraryOptions(dbPath)...)
	}, logger, version)
}

// newLogger builds the stderr logger. JSON output uses the production
// encoder; otherwise logs are human-readable console lines.
func newLogger(level string, jsonOutput bool) (*zap.SugaredLogger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		return nil, errors.Newf("invalid log level %q: must be debug, info, warn or error", level)
	}

	config := zap.NewDevelopmentConfig()
	if jsonOutput {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "time"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.OutputPaths = []string{"stderr"}
	config.ErrorOutputPaths = []string{"stderr"}

	l, err := config.Build()
	if err != nil {
		return nil, errors.Wrap(err, "creating logger")
	}
	return l.Sugar(), nil
}
