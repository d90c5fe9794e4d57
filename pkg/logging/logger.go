package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/mattn/go-isatty"
)

// output is the shared output sink for a logger and all of its subloggers.
type output struct {
	// lock serializes writes to writer.
	lock sync.Mutex
	// writer is the underlying destination.
	writer io.Writer
	// colorize indicates whether or not warnings and errors are colored.
	colorize bool
}

// write writes a single formatted line.
func (o *output) write(line string) {
	o.lock.Lock()
	defer o.lock.Unlock()
	fmt.Fprintln(o.writer, time.Now().Format("2006-01-02 15:04:05.000000"), line)
}

// Logger is the main logger type. It has the novel property that it still
// functions if nil, but it doesn't log anything. It is safe for concurrent
// usage.
type Logger struct {
	// level is the log level.
	level Level
	// prefix is any prefix specified for the logger.
	prefix string
	// output is the shared output sink.
	output *output
}

// NewLogger creates a new root logger at the specified level that writes to
// the specified writer. Coloring of warnings and errors is enabled only if the
// writer is a terminal.
func NewLogger(level Level, destination io.Writer) *Logger {
	var colorize bool
	if file, ok := destination.(*os.File); ok {
		colorize = isatty.IsTerminal(file.Fd()) && !color.NoColor
	}
	return &Logger{
		level: level,
		output: &output{
			writer:   destination,
			colorize: colorize,
		},
	}
}

// Level returns the logger's level.
func (l *Logger) Level() Level {
	if l == nil {
		return LevelDisabled
	}
	return l.level
}

// Sublogger creates a new sublogger with the specified name.
func (l *Logger) Sublogger(name string) *Logger {
	// If the logger is nil, then the sublogger will be as well.
	if l == nil {
		return nil
	}

	// Compute the new prefix.
	prefix := name
	if l.prefix != "" {
		prefix = l.prefix + "." + name
	}

	// Create the new logger.
	return &Logger{
		level:  l.level,
		prefix: prefix,
		output: l.output,
	}
}

// enabled returns whether or not the logger emits messages at the specified
// level.
func (l *Logger) enabled(level Level) bool {
	return l != nil && l.level >= level
}

// log is the internal logging method.
func (l *Logger) log(level Level, line string) {
	if l.prefix != "" {
		line = fmt.Sprintf("[%s] %s", l.prefix, line)
	}
	if l.output.colorize {
		switch level {
		case LevelError:
			line = color.RedString("%s", line)
		case LevelWarn:
			line = color.YellowString("%s", line)
		}
	}
	l.output.write(fmt.Sprintf("[%s] %s", level, line))
}

// Error logs errors with semantics equivalent to fmt.Sprint.
func (l *Logger) Error(v ...interface{}) {
	if l.enabled(LevelError) {
		l.log(LevelError, fmt.Sprint(v...))
	}
}

// Errorf logs errors with semantics equivalent to fmt.Sprintf.
func (l *Logger) Errorf(format string, v ...interface{}) {
	if l.enabled(LevelError) {
		l.log(LevelError, fmt.Sprintf(format, v...))
	}
}

// Warn logs warnings with semantics equivalent to fmt.Sprint.
func (l *Logger) Warn(v ...interface{}) {
	if l.enabled(LevelWarn) {
		l.log(LevelWarn, fmt.Sprint(v...))
	}
}

// Warnf logs warnings with semantics equivalent to fmt.Sprintf.
func (l *Logger) Warnf(format string, v ...interface{}) {
	if l.enabled(LevelWarn) {
		l.log(LevelWarn, fmt.Sprintf(format, v...))
	}
}

// Info logs information with semantics equivalent to fmt.Sprint.
func (l *Logger) Info(v ...interface{}) {
	if l.enabled(LevelInfo) {
		l.log(LevelInfo, fmt.Sprint(v...))
	}
}

// Infof logs information with semantics equivalent to fmt.Sprintf.
func (l *Logger) Infof(format string, v ...interface{}) {
	if l.enabled(LevelInfo) {
		l.log(LevelInfo, fmt.Sprintf(format, v...))
	}
}

// Debug logs debugging information with semantics equivalent to fmt.Sprint.
func (l *Logger) Debug(v ...interface{}) {
	if l.enabled(LevelDebug) {
		l.log(LevelDebug, fmt.Sprint(v...))
	}
}

// Debugf logs debugging information with semantics equivalent to fmt.Sprintf.
func (l *Logger) Debugf(format string, v ...interface{}) {
	if l.enabled(LevelDebug) {
		l.log(LevelDebug, fmt.Sprintf(format, v...))
	}
}

// Trace logs tracing information with semantics equivalent to fmt.Sprint.
func (l *Logger) Trace(v ...interface{}) {
	if l.enabled(LevelTrace) {
		l.log(LevelTrace, fmt.Sprint(v...))
	}
}

// Tracef logs tracing information with semantics equivalent to fmt.Sprintf.
func (l *Logger) Tracef(format string, v ...interface{}) {
	if l.enabled(LevelTrace) {
		l.log(LevelTrace, fmt.Sprintf(format, v...))
	}
}

// Writer returns an io.Writer that writes lines at the specified level.
func (l *Logger) Writer(level Level) io.Writer {
	// If the logger won't emit at this level, then we can just discard input.
	// This saves us the overhead of scanning lines.
	if !l.enabled(level) {
		return io.Discard
	}

	// Create the writer.
	return &writer{
		callback: func(s string) {
			l.log(level, s)
		},
	}
}
