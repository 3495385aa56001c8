// Package log is a thin leveled layer over log/slog.
package log

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"runtime"
	"time"
)

// LevelFatal marks failures that may leave the display unusable.
// Logging at this level never exits the process.
const LevelFatal = slog.Level(12)

const badKey = "!BADKEY"

// New returns a text logger writing to w. Debug records are only
// emitted when verbose is set.
func New(w io.Writer, verbose bool) *slog.Logger {
	lvl := slog.LevelInfo
	if verbose {
		lvl = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       lvl,
		AddSource:   verbose,
		ReplaceAttr: replaceLevel,
	}))
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: LevelFatal + 1}))
}

// OrDiscard returns logger, or a discarding logger if it is nil.
func OrDiscard(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return Discard()
	}
	return logger
}

func replaceLevel(groups []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey || len(groups) > 0 {
		return a
	}
	if lvl, ok := a.Value.Any().(slog.Level); ok && lvl >= LevelFatal {
		a.Value = slog.StringValue("FATAL")
	}
	return a
}

// logArgsToAttr turns a prefix of the nonempty args slice into an slog.Attr
// and returns the unconsumed portion of the slice.
func logArgsToAttr(args []any) (slog.Attr, []any) {
	switch x := args[0].(type) {
	case string:
		if len(args) == 1 {
			return slog.String(badKey, x), nil
		}
		return slog.Any(x, args[1]), args[2:]

	case slog.Attr:
		return x, args[1:]

	default:
		return slog.Any(badKey, x), args[1:]
	}
}

// Log emits a record attributed to the caller skip frames up.
func Log(logger *slog.Logger, lvl slog.Level, skip int, msg string, args ...any) {
	if logger == nil || !logger.Enabled(context.Background(), lvl) {
		return
	}
	var pcs [1]uintptr
	runtime.Callers(skip, pcs[:])
	r := slog.NewRecord(time.Now(), lvl, msg, pcs[0])
	for len(args) > 0 {
		var attr slog.Attr
		attr, args = logArgsToAttr(args)
		r.AddAttrs(attr)
	}
	_ = logger.Handler().Handle(context.Background(), r)
}

func Fatal(logger *slog.Logger, msg string, args ...any) {
	Log(logger, LevelFatal, 3, msg, args...)
}

var joinedType = reflect.TypeOf(errors.Join(errors.New("")))

// IsErr logs err at lvl, one record per error of an errors.Join, and
// reports whether err was non-nil.
func IsErr(logger *slog.Logger, lvl slog.Level, err error, args ...any) bool {
	if err == nil {
		return false
	}
	if errs, ok := err.(interface{ Unwrap() []error }); ok && reflect.TypeOf(err) == joinedType {
		for _, err := range errs.Unwrap() {
			Log(logger, lvl, 3, err.Error(), args...)
		}
		return true
	}
	Log(logger, lvl, 3, err.Error(), args...)
	return true
}
