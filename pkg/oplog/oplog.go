package oplog

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"influx-mirror/pkg/store"
)

// Records land in a reserved bucket so they are never mistaken for mirrored
// data, under a fixed measurement name.
const (
	Bucket      = "Logging"
	Measurement = "Logs"

	LevelDebug = "DEBUG"
	LevelError = "ERROR"
)

// Clock interface allows for deterministic testing
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// Logger writes status and failure records to the reserved logging bucket on
// the destination store. It is best-effort and fire-and-forget: a record that
// cannot be written goes to the fallback writer instead, never retried and
// never escalated, so an unreachable destination cannot start a failure loop.
type Logger struct {
	dest     store.Store
	fallback io.Writer
	clock    Clock
}

// New returns a Logger writing to dest, with stderr as the fallback channel.
func New(dest store.Store) *Logger {
	return &Logger{dest: dest, fallback: os.Stderr, clock: realClock{}}
}

// NewWithClock is New with an injected fallback writer and clock, for tests.
func NewWithClock(dest store.Store, fallback io.Writer, clock Clock) *Logger {
	if clock == nil {
		clock = realClock{}
	}
	return &Logger{dest: dest, fallback: fallback, clock: clock}
}

// Debugf records a routine status message.
func (l *Logger) Debugf(ctx context.Context, format string, args ...interface{}) {
	l.write(ctx, LevelDebug, fmt.Sprintf(format, args...))
}

// Errorf records a failure.
func (l *Logger) Errorf(ctx context.Context, format string, args ...interface{}) {
	l.write(ctx, LevelError, fmt.Sprintf(format, args...))
}

func (l *Logger) write(ctx context.Context, level, message string) {
	record := store.DataPoint{
		Measurement: Measurement,
		Tags:        map[string]string{"LOG_LEVEL": level},
		Fields:      map[string]interface{}{"Message": message},
		Time:        l.clock.Now(),
	}
	if err := l.dest.Write(ctx, Bucket, []store.DataPoint{record}); err != nil {
		fmt.Fprintf(l.fallback, "oplog: dropped %s record %q: %v\n", level, message, err)
	}
}
