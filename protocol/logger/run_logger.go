package logger

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"

	"github.com/ChristopherHX/release-publisher/protocol"
)

// RunLogger receives the formatted run log, assigns every line to the current
// timeline record and forwards it to the console and the live feed
type RunLogger struct {
	TimelineRecords *protocol.TimelineRecordWrapper
	CurrentRecord   int64
	CurrentLine     int64
	Console         io.Writer
	Live            LiveLogger
	// GroupMarkers wraps the lines of every record in ::group:: workflow commands
	GroupMarkers bool
	RunBuffer    bytes.Buffer
	stepBuffers  map[string]*bytes.Buffer
	lineBuffer   []byte
	groupOpen    bool
	linefeed     *regexp.Regexp
	linesync     sync.Mutex
	loggersync   sync.Mutex
}

func NewRunLogger(console io.Writer, live LiveLogger) *RunLogger {
	return &RunLogger{
		TimelineRecords: &protocol.TimelineRecordWrapper{},
		Console:         console,
		Live:            live,
	}
}

func (logger *RunLogger) Write(p []byte) (n int, err error) {
	logger.linesync.Lock()
	defer logger.linesync.Unlock()
	logger.lineBuffer = append(logger.lineBuffer, p...)
	if i := bytes.LastIndexByte(logger.lineBuffer, byte('\n')); i != -1 {
		logger.Log(string(logger.lineBuffer[:i]))
		logger.lineBuffer = logger.lineBuffer[i+1:]
	}
	return len(p), nil
}

func (logger *RunLogger) current() *protocol.TimelineRecord {
	if logger.CurrentRecord < logger.TimelineRecords.Count {
		return logger.TimelineRecords.Value[logger.CurrentRecord]
	}
	return nil
}

func (logger *RunLogger) Current() *protocol.TimelineRecord {
	logger.loggersync.Lock()
	defer logger.loggersync.Unlock()
	return logger.current()
}

func (logger *RunLogger) consolef(format string, a ...interface{}) {
	if logger.Console != nil {
		fmt.Fprintf(logger.Console, format, a...)
	}
}

func (logger *RunLogger) closeGroup() {
	if logger.groupOpen {
		logger.consolef("::endgroup::\n")
		logger.groupOpen = false
	}
}

func (logger *RunLogger) openGroup(rec *protocol.TimelineRecord) {
	if logger.GroupMarkers {
		logger.consolef("::group::%s\n", rec.Name)
		logger.groupOpen = true
	}
}

// Start starts the current record
func (logger *RunLogger) Start() *protocol.TimelineRecord {
	logger.loggersync.Lock()
	defer logger.loggersync.Unlock()
	cur := logger.current()
	if cur != nil {
		cur.Start()
		logger.openGroup(cur)
	}
	return cur
}

// MoveNext leaves the current record and starts the next one
func (logger *RunLogger) MoveNext() *protocol.TimelineRecord {
	return logger.MoveNextExt(true)
}

func (logger *RunLogger) MoveNextExt(startNextRecord bool) *protocol.TimelineRecord {
	logger.loggersync.Lock()
	defer logger.loggersync.Unlock()
	if logger.current() == nil {
		return nil
	}
	logger.closeGroup()
	logger.CurrentRecord++
	if c := logger.current(); c != nil {
		if startNextRecord {
			c.Start()
			logger.openGroup(c)
		}
		return c
	}
	return nil
}

func (logger *RunLogger) Append(record protocol.TimelineRecord) *protocol.TimelineRecord {
	logger.loggersync.Lock()
	defer logger.loggersync.Unlock()
	if l := len(logger.TimelineRecords.Value); l > 0 {
		record.Order = logger.TimelineRecords.Value[l-1].Order + 1
	}
	logger.TimelineRecords.Value = append(logger.TimelineRecords.Value, &record)
	logger.TimelineRecords.Count = int64(len(logger.TimelineRecords.Value))
	return &record
}

// StepLog returns every line logged while the record refName was current
func (logger *RunLogger) StepLog(refName string) string {
	logger.loggersync.Lock()
	defer logger.loggersync.Unlock()
	for _, rec := range logger.TimelineRecords.Value {
		if rec.RefName == refName {
			if buf, ok := logger.stepBuffers[rec.ID]; ok {
				return buf.String()
			}
		}
	}
	return ""
}

// String returns the whole run log
func (logger *RunLogger) String() string {
	logger.loggersync.Lock()
	defer logger.loggersync.Unlock()
	return logger.RunBuffer.String()
}

func (logger *RunLogger) Log(lines string) {
	logger.loggersync.Lock()
	defer logger.loggersync.Unlock()
	if logger.linefeed == nil {
		logger.linefeed = regexp.MustCompile(`(\r\n|\r|\n)`)
	}
	if logger.CurrentLine == 0 {
		logger.CurrentLine = 1
	}
	lines = logger.linefeed.ReplaceAllString(strings.TrimSuffix(strings.TrimSuffix(lines, "\n"), "\r"), "\n")
	_, _ = logger.RunBuffer.WriteString(lines + "\n")
	logger.consolef("%s\n", lines)
	cur := logger.current()
	if cur == nil {
		return
	}
	if logger.stepBuffers == nil {
		logger.stepBuffers = map[string]*bytes.Buffer{}
	}
	buf, ok := logger.stepBuffers[cur.ID]
	if !ok {
		buf = &bytes.Buffer{}
		logger.stepBuffers[cur.ID] = buf
	}
	_, _ = buf.WriteString(lines + "\n")
	cline := logger.CurrentLine
	wrapper := &protocol.TimelineRecordFeedLinesWrapper{
		StartLine: &cline,
		Value:     strings.Split(lines, "\n"),
		StepID:    cur.ID,
	}
	wrapper.Count = int64(len(wrapper.Value))
	logger.CurrentLine += wrapper.Count
	if logger.Live != nil {
		_ = logger.Live.SendLog(wrapper)
	}
}

// Close flushes an incomplete last line and closes the live feed
func (logger *RunLogger) Close() error {
	logger.linesync.Lock()
	rest := logger.lineBuffer
	logger.lineBuffer = nil
	logger.linesync.Unlock()
	if len(rest) > 0 {
		logger.Log(string(rest))
	}
	logger.loggersync.Lock()
	logger.closeGroup()
	live := logger.Live
	logger.Live = nil
	logger.loggersync.Unlock()
	if live != nil {
		return live.Close()
	}
	return nil
}
