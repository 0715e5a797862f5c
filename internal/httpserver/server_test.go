package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/opusrec/internal/logger"
	"github.com/tphakala/opusrec/internal/pipeline"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type staticStatus pipeline.Status

func (s staticStatus) Status() pipeline.Status { return pipeline.Status(s) }

func newTestServer(t *testing.T, opts ...Option) *EchoServer {
	t.Helper()
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "opusrec_packets_muxed_total 3\n")
	})
	opts = append([]Option{WithLogger(logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC))}, opts...)
	return New("127.0.0.1:0", metrics, opts...)
}

func serve(s *EchoServer, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, http.NoBody)
	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	t.Parallel()

	rec := serve(newTestServer(t), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestSessionNotFound(t *testing.T) {
	t.Parallel()

	rec := serve(newTestServer(t), "/api/v1/session")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionStatus(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	s.SetStatusProvider(staticStatus{
		ID:      "abc",
		State:   pipeline.StateRunning,
		Output:  "out.webm",
		Packets: 42,
	})

	rec := serve(s, "/api/v1/session")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "abc", body["id"])
	assert.Equal(t, "running", body["state"])
	assert.Equal(t, "out.webm", body["output"])
	assert.InDelta(t, 42, body["packets"], 0)
}

func TestMetricsRoute(t *testing.T) {
	t.Parallel()

	rec := serve(newTestServer(t), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "opusrec_packets_muxed_total 3")
}

func TestMetricsRouteOmittedWithoutHandler(t *testing.T) {
	t.Parallel()

	s := New("127.0.0.1:0", nil, WithLogger(logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)))
	rec := serve(s, "/metrics")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunServesUntilCanceled(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	require.NoError(t, s.Listen())
	addr := s.Addr()

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	require.Eventually(t, func() bool {
		resp, err := client.Get("http://" + addr + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(ShutdownTimeout + time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestListenFailure(t *testing.T) {
	t.Parallel()

	s := New("256.0.0.1:bad", nil, WithLogger(logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)))
	err := s.Run(t.Context())
	require.Error(t, err)
}
