// Package observability configures process-wide logging. Records always go to a
// local text or JSON handler on stderr; an OpenTelemetry exporter can be added
// alongside it.
package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	slogmulti "github.com/samber/slog-multi"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/florianilch/mindline/internal/redact"
)

const instrumentationName = "github.com/florianilch/mindline"

// Exporter selects where OpenTelemetry log records are shipped.
type Exporter string

const (
	ExporterNone     Exporter = "none"
	ExporterStdout   Exporter = "stdout"
	ExporterOTLPHTTP Exporter = "otlp-http"
	ExporterOTLPGRPC Exporter = "otlp-grpc"
)

// Options configures Instrument.
type Options struct {
	Level    slog.Level
	Format   string
	Exporter Exporter
	// Output receives local log lines. Defaults to os.Stderr.
	Output io.Writer
	// ExportOutput receives records of the stdout exporter. Defaults to os.Stdout.
	ExportOutput io.Writer
}

// ShutdownFunc flushes and stops exporters.
type ShutdownFunc func(context.Context) error

// Instrument installs the default slog logger. OTLP exporters read their endpoint and
// headers from the standard OTEL_EXPORTER_OTLP_* environment variables.
func Instrument(ctx context.Context, opts Options) (ShutdownFunc, error) {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	local, err := newLocalHandler(out, opts.Level, opts.Format)
	if err != nil {
		return nil, err
	}

	if opts.Exporter == "" || opts.Exporter == ExporterNone {
		slog.SetDefault(slog.New(local))
		return func(context.Context) error { return nil }, nil
	}

	processor, err := newProcessor(ctx, opts.Exporter, opts.ExportOutput)
	if err != nil {
		return nil, fmt.Errorf("creating %s exporter: %w", opts.Exporter, err)
	}

	provider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(minsev.NewLogProcessor(processor, severity(opts.Level))),
	)
	global.SetLoggerProvider(provider)

	remote := otelslog.NewHandler(instrumentationName, otelslog.WithLoggerProvider(provider))
	slog.SetDefault(slog.New(slogmulti.Fanout(
		local,
		slogmulti.Pipe(scrubbing()).Handler(remote),
	)))

	return provider.Shutdown, nil
}

func newLocalHandler(out io.Writer, level slog.Level, format string) (slog.Handler, error) {
	handlerOpts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: scrubAttr,
	}

	switch format {
	case "", "text":
		return slog.NewTextHandler(out, handlerOpts), nil
	case "json":
		return slog.NewJSONHandler(out, handlerOpts), nil
	default:
		return nil, fmt.Errorf("unsupported log format: %q", format)
	}
}

func newProcessor(ctx context.Context, exporter Exporter, out io.Writer) (sdklog.Processor, error) {
	switch exporter {
	case ExporterStdout:
		if out == nil {
			out = os.Stdout
		}
		exp, err := stdoutlog.New(stdoutlog.WithWriter(out))
		if err != nil {
			return nil, err
		}
		return sdklog.NewSimpleProcessor(exp), nil
	case ExporterOTLPHTTP:
		exp, err := otlploghttp.New(ctx)
		if err != nil {
			return nil, err
		}
		return sdklog.NewBatchProcessor(exp), nil
	case ExporterOTLPGRPC:
		exp, err := otlploggrpc.New(ctx)
		if err != nil {
			return nil, err
		}
		return sdklog.NewBatchProcessor(exp), nil
	default:
		return nil, fmt.Errorf("unsupported log exporter: %q", exporter)
	}
}

func severity(level slog.Level) minsev.Severity {
	switch {
	case level <= slog.LevelDebug:
		return minsev.SeverityDebug
	case level <= slog.LevelInfo:
		return minsev.SeverityInfo
	case level <= slog.LevelWarn:
		return minsev.SeverityWarn
	default:
		return minsev.SeverityError
	}
}

// sensitiveKeys are attribute keys whose values never leave the process.
var sensitiveKeys = map[string]func() string{
	"token":         redact.Token,
	"access_token":  redact.Token,
	"refresh_token": redact.Token,
	"authorization": redact.Token,
	"password":      redact.Password,
}

func scrubAttr(_ []string, a slog.Attr) slog.Attr {
	if mask, ok := sensitiveKeys[strings.ToLower(a.Key)]; ok {
		return slog.String(a.Key, mask())
	}

	a.Value = a.Value.Resolve()
	if a.Value.Kind() != slog.KindGroup {
		return a
	}
	group := a.Value.Group()
	clean := make([]any, len(group))
	for i, member := range group {
		clean[i] = scrubAttr(nil, member)
	}
	return slog.Group(a.Key, clean...)
}

// scrubbing applies scrubAttr to handlers that have no ReplaceAttr hook.
func scrubbing() slogmulti.Middleware {
	return slogmulti.NewInlineMiddleware(
		func(ctx context.Context, level slog.Level, next func(context.Context, slog.Level) bool) bool {
			return next(ctx, level)
		},
		func(ctx context.Context, r slog.Record, next func(context.Context, slog.Record) error) error {
			clean := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
			r.Attrs(func(a slog.Attr) bool {
				clean.AddAttrs(scrubAttr(nil, a))
				return true
			})
			return next(ctx, clean)
		},
		func(attrs []slog.Attr, next func([]slog.Attr) slog.Handler) slog.Handler {
			clean := make([]slog.Attr, len(attrs))
			for i, a := range attrs {
				clean[i] = scrubAttr(nil, a)
			}
			return next(clean)
		},
		func(name string, next func(string) slog.Handler) slog.Handler {
			return next(name)
		},
	)
}
