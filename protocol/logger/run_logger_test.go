package logger

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChristopherHX/release-publisher/protocol"
)

type recordingLiveLogger struct {
	mu     sync.Mutex
	lines  []*protocol.TimelineRecordFeedLinesWrapper
	closed bool
}

func (l *recordingLiveLogger) SendLog(lines *protocol.TimelineRecordFeedLinesWrapper) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, lines)
	return nil
}

func (l *recordingLiveLogger) Close() error {
	l.closed = true
	return nil
}

func TestRunLoggerRecordOrder(t *testing.T) {
	logger := NewRunLogger(nil, nil)
	logger.Append(protocol.CreateTimelineEntry("", "checkout", "Checkout"))
	logger.Append(protocol.CreateTimelineEntry("", "build", "Build"))
	require.Len(t, logger.TimelineRecords.Value, 2)
	assert.Equal(t, "checkout", logger.TimelineRecords.Value[0].RefName)
	assert.Equal(t, "build", logger.TimelineRecords.Value[1].RefName)
	assert.Equal(t, logger.TimelineRecords.Value[0].Order+1, logger.TimelineRecords.Value[1].Order)
	assert.Equal(t, int64(2), logger.TimelineRecords.Count)
}

func TestRunLoggerSplitsLinesPerRecord(t *testing.T) {
	console := &bytes.Buffer{}
	live := &recordingLiveLogger{}
	logger := NewRunLogger(console, live)
	logger.GroupMarkers = true
	logger.Append(protocol.CreateTimelineEntry("", "checkout", "Checkout"))
	logger.Append(protocol.CreateTimelineEntry("", "build", "Build"))

	logger.Start()
	_, err := logger.Write([]byte("first line\nsecond "))
	require.NoError(t, err)
	_, err = logger.Write([]byte("line\r\n"))
	require.NoError(t, err)
	next := logger.MoveNext()
	require.NotNil(t, next)
	assert.Equal(t, "InProgress", next.State)
	_, _ = logger.Write([]byte("built"))
	require.NoError(t, logger.Close())

	assert.Equal(t, "first line\nsecond line\n", logger.StepLog("checkout"))
	assert.Equal(t, "built\n", logger.StepLog("build"))
	assert.Equal(t, "first line\nsecond line\nbuilt\n", logger.String())
	assert.Equal(t, "::group::Checkout\nfirst line\nsecond line\n::endgroup::\n::group::Build\nbuilt\n::endgroup::\n", console.String())

	require.Len(t, live.lines, 3)
	assert.Equal(t, int64(1), *live.lines[0].StartLine)
	assert.Equal(t, int64(2), *live.lines[1].StartLine)
	assert.Equal(t, int64(3), *live.lines[2].StartLine)
	assert.Equal(t, next.ID, live.lines[2].StepID)
	assert.True(t, live.closed)
}

func TestRunLoggerMoveNextPastEnd(t *testing.T) {
	logger := NewRunLogger(nil, nil)
	logger.Append(protocol.CreateTimelineEntry("", "only", "Only"))
	assert.NotNil(t, logger.Start())
	assert.Nil(t, logger.MoveNext())
	assert.Nil(t, logger.Current())
	assert.Nil(t, logger.MoveNext())
	logger.Log("after the last record")
	assert.Equal(t, "after the last record\n", logger.String())
}
