// Package logger contains a logger implementation.
package logger

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Level is a log level.
type Level int

// Log levels.
const (
	Debug Level = iota + 1
	Info
	Warn
	Error
)

// Destination is a log destination.
type Destination string

// Log destinations.
const (
	DestinationStdout Destination = "stdout"
	DestinationFile   Destination = "file"
)

// Writer is an object that provides a log method.
type Writer interface {
	Log(level Level, format string, args ...interface{})
}

type destination interface {
	log(t time.Time, level Level, format string, args ...interface{})
	close()
}

// Logger is a log handler.
type Logger struct {
	Level        Level
	Destinations []Destination
	FilePath     string

	timeNow      func() time.Time
	stdout       io.Writer
	mutex        sync.Mutex
	destinations []destination
}

// Initialize initializes a Logger.
func (lh *Logger) Initialize() error {
	if lh.timeNow == nil {
		lh.timeNow = time.Now
	}
	if lh.stdout == nil {
		lh.stdout = os.Stdout
	}

	for _, dest := range lh.Destinations {
		switch dest {
		case DestinationStdout:
			lh.destinations = append(lh.destinations, newDestinationStdout(lh.stdout))

		case DestinationFile:
			d, err := newDestinationFile(lh.FilePath)
			if err != nil {
				lh.Close()
				return err
			}
			lh.destinations = append(lh.destinations, d)

		default:
			lh.Close()
			return fmt.Errorf("unsupported log destination: %v", dest)
		}
	}

	return nil
}

// Close closes a Logger.
func (lh *Logger) Close() {
	for _, dest := range lh.destinations {
		dest.close()
	}
}

func writeTime(buf *bytes.Buffer, t time.Time, doColor bool) {
	stamp := t.Format("2006/01/02 15:04:05 ")
	if doColor {
		stamp = renderGray(stamp)
	}
	buf.WriteString(stamp)
}

func levelLabel(level Level) string {
	switch level {
	case Debug:
		return "DEB"
	case Warn:
		return "WAR"
	case Error:
		return "ERR"
	}
	return "INF"
}

func writeLevel(buf *bytes.Buffer, level Level, doColor bool) {
	label := levelLabel(level)
	if doColor {
		switch level {
		case Debug:
			label = renderDebug(label)
		case Warn:
			label = renderWarn(label)
		case Error:
			label = renderError(label)
		default:
			label = renderInfo(label)
		}
	}
	buf.WriteString(label)
	buf.WriteByte(' ')
}

func formatEntry(buf *bytes.Buffer, t time.Time, level Level, doColor bool,
	format string, args []interface{},
) {
	buf.Reset()
	writeTime(buf, t, doColor)
	writeLevel(buf, level, doColor)
	fmt.Fprintf(buf, format, args...)
	buf.WriteByte('\n')
}

// Log writes a log entry.
func (lh *Logger) Log(level Level, format string, args ...interface{}) {
	if level < lh.Level {
		return
	}

	t := lh.timeNow()

	lh.mutex.Lock()
	defer lh.mutex.Unlock()

	for _, dest := range lh.destinations {
		dest.log(t, level, format, args...)
	}
}
