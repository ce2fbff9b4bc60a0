package logger

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"github.com/ChristopherHX/release-publisher/protocol"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	liveLogTimeout  = time.Minute
	liveLogInterval = time.Second
)

type LiveLogger interface {
	io.Closer
	SendLog(lines *protocol.TimelineRecordFeedLinesWrapper) error
}

// WebsocketLiveLogger streams log lines as json messages to a feed
type WebsocketLiveLogger struct {
	FeedStreamURL string
	HTTPClient    *http.Client
	Header        http.Header
	Trace         bool
	ws            *websocket.Conn
}

func (logger *WebsocketLiveLogger) Close() error {
	if logger.ws != nil {
		err := logger.ws.Close(websocket.StatusNormalClosure, "run finished")
		logger.ws = nil
		return err
	}
	return nil
}

func (logger *WebsocketLiveLogger) Connect() error {
	err := logger.Close()
	if err != nil && logger.Trace {
		fmt.Printf("Failed to close old websocket connection %s\n", err.Error())
	}
	re := regexp.MustCompile("(?i)^http(s?)://")
	feedStreamURL, err := url.Parse(re.ReplaceAllString(logger.FeedStreamURL, "ws$1://"))
	if err != nil {
		return err
	}
	if logger.Trace {
		fmt.Printf("Try to connect to websocket %s\n", feedStreamURL.Redacted())
	}
	ctx, cancel := context.WithTimeout(context.Background(), liveLogTimeout)
	defer cancel()
	header := logger.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set("User-Agent", protocol.DefaultUserAgent)
	logger.ws, _, err = websocket.Dial(ctx, feedStreamURL.String(), &websocket.DialOptions{
		HTTPClient: logger.HTTPClient,
		HTTPHeader: header,
	})
	return err
}

func (logger *WebsocketLiveLogger) SendLog(lines *protocol.TimelineRecordFeedLinesWrapper) error {
	if logger.ws == nil {
		if err := logger.Connect(); err != nil {
			return err
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), liveLogTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, logger.ws, lines); err != nil {
		// reconnect once, the feed may have dropped an idle connection
		if err := logger.Connect(); err != nil {
			return err
		}
		return wsjson.Write(ctx, logger.ws, lines)
	}
	return nil
}

// BufferedLiveLogger batches lines of the same step for up to a second,
// so the run never waits on the feed
type BufferedLiveLogger struct {
	LiveLogger
	logchan     chan *protocol.TimelineRecordFeedLinesWrapper
	logfinished chan struct{}
}

func (logger *BufferedLiveLogger) sendLogs(logchan chan *protocol.TimelineRecordFeedLinesWrapper, logfinished chan struct{}) {
	defer close(logfinished)
	for {
		lines, ok := <-logchan
		if !ok {
			return
		}
		start := time.Now()
		closed := false
	batch:
		for {
			wait := liveLogInterval - time.Since(start)
			if wait <= 0 {
				break
			}
			select {
			case line, ok := <-logchan:
				if !ok {
					closed = true
					break batch
				}
				if line.StepID == lines.StepID {
					lines.Count += line.Count
					lines.Value = append(lines.Value, line.Value...)
				} else {
					_ = logger.LiveLogger.SendLog(lines)
					lines = line
					start = time.Now()
				}
			case <-time.After(wait):
				break batch
			}
		}
		_ = logger.LiveLogger.SendLog(lines)
		if closed {
			return
		}
	}
}

func (logger *BufferedLiveLogger) Close() error {
	if logger.logchan != nil {
		close(logger.logchan)
		logger.logchan = nil
		<-logger.logfinished
	}
	return logger.LiveLogger.Close()
}

func (logger *BufferedLiveLogger) SendLog(wrapper *protocol.TimelineRecordFeedLinesWrapper) error {
	if logger.logchan == nil {
		logchan := make(chan *protocol.TimelineRecordFeedLinesWrapper, 64)
		logger.logchan = logchan
		logfinished := make(chan struct{})
		logger.logfinished = logfinished
		go logger.sendLogs(logchan, logfinished)
	}
	logger.logchan <- wrapper
	return nil
}
