package observability

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fairyhunter13/stock-analyzer/internal/config"
)

// SetupLogger configures a JSON slog logger with environment fields. When
// LOG_DIR is set the stream is mirrored to <dir>/server.log so local runs
// keep an inspectable trail without a collector.
func SetupLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{}
	// In dev, show debug level; in prod, default to info
	if cfg.IsDev() {
		opts.Level = slog.LevelDebug
	}
	var w io.Writer = os.Stdout
	if cfg.LogDir != "" {
		if f, err := openLogFile(cfg.LogDir); err == nil {
			w = io.MultiWriter(os.Stdout, f)
		}
	}
	h := slog.NewJSONHandler(w, opts)
	logger := slog.New(h).With(
		slog.String("service", cfg.ServiceName),
		slog.String("env", cfg.AppEnv),
	)
	return logger
}

// openLogFile creates the directory if needed and appends to server.log.
// Failures fall back to stdout-only logging rather than blocking startup.
func openLogFile(dir string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(filepath.Join(dir, "server.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}
