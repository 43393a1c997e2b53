package logger

import (
	"io"
	"log/slog"
	"os"
)

var (
	Log   *slog.Logger = slog.Default()
	level slog.LevelVar
)

// Init initializes the global logger. Records go to console (nil to skip,
// e.g. while the terminal is mirrored) and to logFile when set. The returned
// closer releases the log file.
func Init(lvl string, logFile string, console io.Writer) (*slog.Logger, io.Closer, error) {
	level.Set(ParseLevel(lvl))

	var writers []io.Writer
	if console != nil {
		writers = append(writers, console)
	}

	var closer io.Closer = nopCloser{}
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, nil, err
		}
		writers = append(writers, f)
		closer = f
	}

	var out io.Writer = io.Discard
	if len(writers) > 0 {
		out = io.MultiWriter(writers...)
	}

	handler := slog.NewTextHandler(out, &slog.HandlerOptions{
		Level: &level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Shorten time format
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.String("time", a.Value.Time().Format("15:04:05"))
			}
			return a
		},
	})

	Log = slog.New(handler)
	slog.SetDefault(Log)

	return Log, closer, nil
}

// SetLevel changes the level of the logger built by Init in place.
func SetLevel(lvl string) {
	level.Set(ParseLevel(lvl))
}

// ParseLevel maps a config level name to a slog level. Unknown names are
// treated as info.
func ParseLevel(lvl string) slog.Level {
	switch lvl {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
