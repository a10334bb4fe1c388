package observability

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/platinummonkey/backstage/pkg/contextkeys"
)

// LogOptions configures the process logger
type LogOptions struct {
	Level      string
	Format     string // "json" or "text"
	FilePath   string // optional; enables rotation through lumberjack
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// NewLogger builds the process logger. Output always goes to stdout and,
// when FilePath is set, also to a rotated file.
func NewLogger(opts LogOptions) (*logrus.Logger, error) {
	logger := logrus.New()

	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if opts.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	var out io.Writer = os.Stdout
	if opts.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(opts.FilePath), 0o755); err != nil {
			return nil, err
		}
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		})
	}
	logger.SetOutput(out)

	return logger, nil
}

// WithLogger adds a logger to the context
func WithLogger(ctx context.Context, logger logrus.FieldLogger) context.Context {
	return contextkeys.WithLogger(ctx, logger)
}

// GetLogger retrieves the logger from context, falling back to the standard logger
func GetLogger(ctx context.Context) logrus.FieldLogger {
	if logger, ok := ctx.Value(contextkeys.LoggerKey).(logrus.FieldLogger); ok {
		return logger
	}
	return logrus.StandardLogger()
}

// FromContext returns the context logger with request_id and principal_id attached
func FromContext(ctx context.Context) logrus.FieldLogger {
	logger := GetLogger(ctx)

	if requestID := contextkeys.GetRequestID(ctx); requestID != "" {
		logger = logger.WithField("request_id", requestID)
	}
	if principalID := contextkeys.GetPrincipalID(ctx); principalID != "" {
		logger = logger.WithField("principal_id", principalID)
	}
	return logger
}
