package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/grafana/loki-client-go/loki"
	slogloki "github.com/samber/slog-loki/v3"

	"spotto-service/internal/config"
	"spotto-service/internal/logcontext"
)

const serviceName = "spotto"

// GetLogger returns a Loki-backed logger when cfg.URL is set and a JSON stdout
// logger otherwise. The returned close func flushes the Loki client.
func GetLogger(cfg config.Logs) (*slog.Logger, func()) {
	level := ParseLevel(cfg.Level)
	if cfg.URL == "" {
		return NewLogger(os.Stdout, level), func() {}
	}

	logger, closeFn, err := remoteLogger(cfg.URL, level)
	if err != nil {
		fallback := NewLogger(os.Stdout, level)
		fallback.Error("Falling back to stdout logging", "error", err)
		return fallback, func() {}
	}
	return logger, closeFn
}

// NewLogger builds the local JSON logger used in production and tests.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(logcontext.Handler{Handler: h}).With("service", serviceName)
}

func remoteLogger(url string, level slog.Level) (*slog.Logger, func(), error) {
	lokiConfig, err := loki.NewDefaultConfig(url)
	if err != nil {
		return nil, nil, err
	}
	client, err := loki.New(lokiConfig)
	if err != nil {
		return nil, nil, err
	}

	logger := slog.New(slogloki.Option{
		Level:  level,
		Client: client,
		AttrFromContext: []func(ctx context.Context) []slog.Attr{
			logcontext.Attrs,
		},
	}.NewLokiHandler()).With("service", serviceName)

	return logger, client.Stop, nil
}

func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
