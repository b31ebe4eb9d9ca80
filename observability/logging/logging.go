package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
)

// New returns a structured JSON logger writing to w. Timestamp, severity and
// message keys are remapped to the fleet schema, and the service name and
// environment are attached to every line when provided.
func New(w io.Writer, service, env string) *slog.Logger {
	return slog.New(newHandler(w).WithAttrs(serviceAttrs(service, env)))
}

// Setup configures the standard library logger to emit structured JSON on
// stdout, installs the returned slog.Logger as the process default and
// bridges the legacy log package onto it.
func Setup(service, env string) *slog.Logger {
	handler := newHandler(os.Stdout).WithAttrs(serviceAttrs(service, env))
	base := slog.New(handler)
	slog.SetDefault(base)

	// Bridge the standard library logger so dependencies keep working.
	stdBridge := slog.NewLogLogger(handler, slog.LevelInfo)
	stdBridge.SetFlags(0)
	log.SetOutput(stdBridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return base
}

func newHandler(w io.Writer) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.TimeKey:
				return slog.Attr{Key: "timestamp", Value: attr.Value}
			case slog.LevelKey:
				return slog.String("severity", strings.ToUpper(attr.Value.String()))
			case slog.MessageKey:
				return slog.Attr{Key: "message", Value: attr.Value}
			}
			return attr
		},
	})
}

func serviceAttrs(service, env string) []slog.Attr {
	attrs := []slog.Attr{slog.String("service", strings.TrimSpace(service))}
	if env = strings.TrimSpace(env); env != "" {
		attrs = append(attrs, slog.String("env", env))
	}
	return attrs
}
