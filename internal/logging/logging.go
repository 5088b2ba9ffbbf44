// Package logging wires up the process-wide zerolog.Logger, optionally
// sinking to a rotating file the way vkuznet-MLHub's rotateLogWriter wraps
// file-rotatelogs, and installs it as the HTTP layer's access logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/toydogcat/model-server/internal/httpapi"
)

// Config selects the log level and, optionally, a rotating file sink.
// An empty FilePath keeps logs on stderr.
type Config struct {
	Level    string
	FilePath string
}

// Setup builds a zerolog.Logger per cfg, installs it into internal/httpapi
// via SetLogger, sets it as the package-level default (log.Logger), and
// returns it so cmd/inferd can log through the same instance.
func Setup(cfg Config) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var out io.Writer = os.Stderr
	if cfg.FilePath != "" {
		rl, err := rotatelogs.New(
			cfg.FilePath+".%Y%m%d",
			rotatelogs.WithLinkName(cfg.FilePath),
			rotatelogs.WithMaxAge(30*24*time.Hour),
			rotatelogs.WithRotationTime(24*time.Hour),
		)
		if err != nil {
			return zerolog.Logger{}, fmt.Errorf("logging: open rotating file %s: %w", cfg.FilePath, err)
		}
		out = rl
	}

	logger := zerolog.New(out).Level(level).With().Timestamp().Logger()
	httpapi.SetLogger(logger)
	log.Logger = logger
	return logger, nil
}
