package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingTracer struct {
	lines []string
}

func (r *recordingTracer) Printf(format string, a ...interface{}) {
	r.lines = append(r.lines, fmt.Sprintf(format, a...))
}

func TestRequestWithContextJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "bearer run-token", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json; charset=utf-8", r.Header.Get("Content-Type"))
		assert.Equal(t, DefaultUserAgent, r.Header.Get("User-Agent"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"token":"abc"}`, string(body))
		_, _ = w.Write([]byte(`{"audience":"pypi"}`))
	}))
	defer server.Close()

	con := &Connection{Token: "run-token"}
	resp := &AudienceResponse{}
	err := con.RequestWithContext(context.Background(), http.MethodPost, server.URL, &MintTokenRequest{Token: "abc"}, resp)
	require.NoError(t, err)
	assert.Equal(t, "pypi", resp.Audience)
}

func TestRequestWithContextHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("File already exists"))
	}))
	defer server.Close()

	con := &Connection{}
	err := con.RequestWithContext(context.Background(), http.MethodGet, server.URL, nil, nil)
	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusBadRequest, httpErr.StatusCode)
	assert.Equal(t, "File already exists", httpErr.Body)
	assert.Contains(t, err.Error(), "400")
}

func TestTraceRedactsCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"token":"upload-secret"}`))
	}))
	defer server.Close()

	tracer := &recordingTracer{}
	con := &Connection{
		AuthHeader: "Basic c2VjcmV0",
		Trace:      true,
		Tracer:     tracer,
		Mask: func(s string) string {
			return strings.ReplaceAll(strings.ReplaceAll(s, "upload-secret", "***"), "id-secret", "***")
		},
	}
	resp := &MintTokenResponse{}
	err := con.RequestWithContext(context.Background(), http.MethodPost, server.URL, &MintTokenRequest{Token: "id-secret"}, resp)
	require.NoError(t, err)
	assert.Equal(t, "upload-secret", resp.Token)
	require.Len(t, tracer.lines, 2)
	for _, line := range tracer.lines {
		assert.NotContains(t, line, "c2VjcmV0")
		assert.NotContains(t, line, "upload-secret")
		assert.NotContains(t, line, "id-secret")
	}
}

func TestReleaseEvent(t *testing.T) {
	table := []struct {
		Event     ReleaseEvent
		Published bool
	}{
		{Event: ReleaseEvent{Action: "published", Release: Release{TagName: "v1.2.3"}}, Published: true},
		{Event: ReleaseEvent{Action: "Published", Release: Release{TagName: "v1.2.3"}}, Published: true},
		{Event: ReleaseEvent{Action: "published", Release: Release{TagName: "v1.2.3", Draft: true}}, Published: false},
		{Event: ReleaseEvent{Action: "created", Release: Release{TagName: "v1.2.3"}}, Published: false},
	}
	for _, i := range table {
		assert.Equal(t, i.Published, i.Event.IsPublished(), i.Event.Action)
	}
	e := &ReleaseEvent{Release: Release{TagName: "refs/tags/v1.2.3"}}
	assert.Equal(t, "v1.2.3", e.Tag())
}

func TestTimelineRecord(t *testing.T) {
	rec := CreateTimelineEntry("", "build", "Build")
	assert.Equal(t, "Pending", rec.ResultOrState())
	rec.Start()
	assert.Equal(t, "InProgress", rec.ResultOrState())
	rec.Complete(ResultFailed)
	assert.Equal(t, ResultFailed, rec.ResultOrState())
	assert.NotNil(t, rec.FinishTime)
}
