package publisher

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

type BasicLogger interface {
	Printf(format string, a ...interface{})
}

type ConsoleLogger struct{}

func (*ConsoleLogger) Printf(format string, a ...interface{}) {
	fmt.Printf(format, a...)
}

// lineWriter forwards complete lines of tool output to the run log
type lineWriter struct {
	log   logrus.FieldLogger
	level logrus.Level
	mu    sync.Mutex
	buf   []byte
	tee   *teeBuffer
}

// teeBuffer keeps a copy of the tool output shared by stdout and stderr
type teeBuffer struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (t *teeBuffer) WriteLine(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.WriteString(line)
	t.buf.WriteByte('\n')
}

func (t *teeBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}

func newLineWriter(log logrus.FieldLogger, level logrus.Level) *lineWriter {
	return &lineWriter{log: log, level: level}
}

func (w *lineWriter) emit(line string) {
	line = strings.TrimSuffix(line, "\r")
	if w.tee != nil {
		w.tee.WriteLine(line)
	}
	switch w.level {
	case logrus.DebugLevel:
		w.log.Debug(line)
	case logrus.WarnLevel:
		w.log.Warn(line)
	default:
		w.log.Info(line)
	}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(string(w.buf[:i]))
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.emit(string(w.buf))
		w.buf = nil
	}
}
