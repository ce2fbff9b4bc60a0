package protocol

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ChristopherHX/release-publisher/common"
)

const (
	maxIdleConnections = 1
	maxRedirects       = 10

	idleConnectionTimeout = 100 * time.Second
	httpClientTimeout     = 100 * time.Second

	DefaultUserAgent = "release-publisher/0.1.0"
)

// RawBody is sent as is with the given content type
type RawBody struct {
	ContentType string
	Reader      io.Reader
}

// HTTPError is returned for every response outside of the 2xx range
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http failure: %v %v returned %v: %v", e.Method, e.URL, e.StatusCode, strings.TrimSpace(e.Body))
}

type Tracer interface {
	Printf(format string, a ...interface{})
}

type stdoutTracer struct{}

func (stdoutTracer) Printf(format string, a ...interface{}) {
	fmt.Printf(format, a...)
}

type Connection struct {
	Client     *http.Client
	Token      string
	AuthHeader string
	UserAgent  string
	Trace      bool
	Tracer     Tracer
	// Mask is applied to every traced request and response
	Mask func(string) string
}

func (con *Connection) HTTPClient() *http.Client {
	if con.Client == nil {
		customTransport := http.DefaultTransport.(*http.Transport).Clone()
		customTransport.MaxIdleConns = maxIdleConnections
		customTransport.IdleConnTimeout = idleConnectionTimeout
		if v, ok := common.LookupEnvBool("SKIP_TLS_CERT_VALIDATION"); ok && v {
			//nolint:gosec // Intentionally allows insecure TLS when explicitly configured
			customTransport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		con.Client = &http.Client{
			Timeout:   httpClientTimeout,
			Transport: customTransport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		}
	}
	return con.Client
}

// WithAuthHeader returns a copy of the connection that authenticates with header
func (con *Connection) WithAuthHeader(header string) *Connection {
	copy := *con
	copy.Token = ""
	copy.AuthHeader = header
	return &copy
}

func (con *Connection) tracef(format string, a ...interface{}) {
	msg := fmt.Sprintf(format, a...)
	if con.Mask != nil {
		msg = con.Mask(msg)
	}
	tracer := con.Tracer
	if tracer == nil {
		tracer = stdoutTracer{}
	}
	tracer.Printf("%s", msg)
}

func extractReader(body interface{}) (io.Reader, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case *RawBody:
		return b.Reader, b.ContentType, nil
	case *bytes.Buffer:
		return b, "application/octet-stream", nil
	case url.Values:
		return strings.NewReader(b.Encode()), "application/x-www-form-urlencoded; charset=utf-8", nil
	}
	buf := new(bytes.Buffer)
	enc := json.NewEncoder(buf)
	if err := enc.Encode(body); err != nil {
		return nil, "", err
	}
	return buf, "application/json; charset=utf-8", nil
}

func getHeadersAsString(header http.Header) string {
	redacted := header.Clone()
	if len(redacted.Get("Authorization")) > 0 {
		redacted.Set("Authorization", "***")
	}
	headerbuf := new(bytes.Buffer)
	if err := redacted.Write(headerbuf); err != nil {
		return err.Error()
	}
	return headerbuf.String()
}

func getBodyAsString(body interface{}) string {
	switch b := body.(type) {
	case *bytes.Buffer:
		return b.String()
	case url.Values:
		return b.Encode()
	case *RawBody:
		return "<" + b.ContentType + ">"
	case nil:
		return ""
	}
	if raw, err := json.Marshal(body); err == nil {
		return string(raw)
	}
	return ""
}

func setResponseBody(r io.Reader, body interface{}) error {
	if body == nil {
		return nil
	}
	if bresponse, ok := body.(*[]byte); ok {
		var err error
		*bresponse, err = io.ReadAll(r)
		return err
	}
	dec := json.NewDecoder(r)
	return dec.Decode(body)
}

// RequestWithContext sends requestBody and decodes the response into responseBody,
// responses outside of the 2xx range are returned as *HTTPError
func (con *Connection) RequestWithContext(ctx context.Context, method, requestURL string, requestBody, responseBody interface{}) error {
	buf, reqContentType, err := extractReader(requestBody)
	if err != nil {
		return err
	}
	request, err := http.NewRequestWithContext(ctx, method, requestURL, buf)
	if err != nil {
		return err
	}
	header := request.Header
	if len(reqContentType) > 0 {
		header.Set("Content-Type", reqContentType)
	}
	if responseBody != nil {
		if _, ok := responseBody.(*[]byte); ok {
			header.Set("Accept", "application/octet-stream")
		} else {
			header.Set("Accept", "application/json")
		}
	}
	userAgent := con.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	header.Set("User-Agent", userAgent)
	header.Set("X-Request-ID", uuid.NewString())
	if con.Token != "" {
		header.Set("Authorization", "bearer "+con.Token)
	} else if con.AuthHeader != "" {
		header.Set("Authorization", con.AuthHeader)
	}
	if con.Trace {
		con.tracef("Http %v Request started %v\nHeaders:\n%v\nBody: `%v`\n",
			method, requestURL, getHeadersAsString(request.Header), getBodyAsString(requestBody))
	}

	response, err := con.HTTPClient().Do(request)
	if err != nil {
		return err
	}
	defer func() {
		_ = response.Body.Close()
	}()
	failed := response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices
	var responseReader io.Reader = response.Body
	var rbytes []byte
	if con.Trace || failed {
		rbytes, err = io.ReadAll(response.Body)
		if err != nil {
			rbytes = []byte("no response: " + err.Error())
		}
		responseReader = bytes.NewReader(rbytes)
	}
	if con.Trace {
		con.tracef("Http %v Request finished %v %v\nHeaders: \n%v\nBody: `%v`\n",
			method, response.StatusCode, requestURL, getHeadersAsString(response.Header), string(rbytes))
	}
	if failed {
		return &HTTPError{
			Method:     method,
			URL:        requestURL,
			StatusCode: response.StatusCode,
			Body:       string(rbytes),
		}
	}
	if response.StatusCode == http.StatusNoContent && responseBody != nil {
		return io.EOF
	}
	return setResponseBody(responseReader, responseBody)
}
