package observe

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/felixgeelhaar/bolt/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/felixgeelhaar/graphfusion/internal/events"
)

var tracer = otel.Tracer("graphfusion")

// Observer handles logging and tracing
type Observer struct {
	log *bolt.Logger
}

// New creates a new Observer with console output.
// If verbose is false, only warnings and errors are shown.
func New(out io.Writer, verbose bool) *Observer {
	l := bolt.New(bolt.NewConsoleHandler(out))
	if !verbose {
		l.SetLevel(bolt.WARN)
	}
	return &Observer{log: l}
}

// NewJSON creates a new Observer with JSON output.
// If verbose is false, only warnings and errors are shown.
func NewJSON(out io.Writer, verbose bool) *Observer {
	l := bolt.New(bolt.NewJSONHandler(out))
	if !verbose {
		l.SetLevel(bolt.WARN)
	}
	return &Observer{log: l}
}

// NewWithLevel picks the handler from format ("console" or "json") and sets
// the minimum level by name. Unknown levels fall back to warn.
func NewWithLevel(out io.Writer, level, format string) *Observer {
	var l *bolt.Logger
	if strings.EqualFold(format, "json") {
		l = bolt.New(bolt.NewJSONHandler(out))
	} else {
		l = bolt.New(bolt.NewConsoleHandler(out))
	}
	l.SetLevel(parseLevel(level))
	return &Observer{log: l}
}

func parseLevel(level string) bolt.Level {
	switch strings.ToLower(level) {
	case "debug":
		return bolt.DEBUG
	case "info":
		return bolt.INFO
	case "error":
		return bolt.ERROR
	}
	return bolt.WARN
}

// Log returns the underlying logger
func (o *Observer) Log() *bolt.Logger {
	return o.log
}

// StartSpan starts a new OTel span carrying attrs.
func (o *Observer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if len(attrs) == 0 {
		return tracer.Start(ctx, name)
	}
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// Attach logs every event published on bus at debug level, except guard
// violations which are warnings.
func (o *Observer) Attach(bus *events.Bus) {
	bus.SubscribeAll(func(e events.Event) {
		entry := o.log.Debug()
		if e.Type == events.GuardViolation || e.Type == events.QueryError {
			entry = o.log.Warn()
		}
		entry = entry.Str("event", string(e.Type))
		if e.QueryID != "" {
			entry = entry.Str("query", e.QueryID)
		}
		keys := make([]string, 0, len(e.Data))
		for k := range e.Data {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			entry = entry.Str(k, fmt.Sprint(e.Data[k]))
		}
		entry.Msg(string(e.Type))
	})
}

// Close ensures any buffered logs or traces are flushed (placeholder)
func (o *Observer) Close() error {
	return nil
}
