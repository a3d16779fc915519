package logging

import (
	"io"
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Output formats.
const (
	FormatLogfmt = "logfmt"
	FormatJSON   = "json"
)

// Options configures New.
type Options struct {
	// Verbose lets debug messages through, including SQL statements.
	Verbose bool
	// Writer defaults to stderr.
	Writer io.Writer
	// Format is logfmt or json. Empty means logfmt.
	Format string
	// Timestamp adds a UTC ts key to every line.
	Timestamp bool
}

// New builds a leveled go-kit logger filtered at info, or debug when
// Verbose is set.
func New(opts Options) log.Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	w = log.NewSyncWriter(w)

	var logger log.Logger
	switch opts.Format {
	case FormatJSON:
		logger = log.NewJSONLogger(w)
	default:
		logger = log.NewLogfmtLogger(w)
	}
	if opts.Timestamp {
		logger = log.With(logger, "ts", log.DefaultTimestampUTC)
	}

	allow := level.AllowInfo()
	if opts.Verbose {
		allow = level.AllowDebug()
	}
	return level.NewFilter(logger, allow)
}

// Component tags logger with a component key, falling back to a no-op
// logger when logger is nil.
func Component(logger log.Logger, name string) log.Logger {
	if logger == nil {
		return log.NewNopLogger()
	}
	return log.With(logger, "component", name)
}
