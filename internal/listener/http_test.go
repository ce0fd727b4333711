package listener

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gelflistener/internal/gelf"
	"gelflistener/internal/pipeline"
)

type stubSubmitter struct {
	err    error
	frames []pipeline.Frame
}

func (s *stubSubmitter) Submit(_ context.Context, f pipeline.Frame) error {
	s.frames = append(s.frames, f)
	return s.err
}

func postGelf(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHTTP_PostPublishes(t *testing.T) {
	h := newHarness()
	l := startListener(t, ProtocolHTTP, Options{HTTPPath: "/gelf"}, h.dispatcher)

	resp, err := http.Post("http://"+l.Addr().String()+"/gelf", "application/json", strings.NewReader(sample))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Received", string(body))

	recs := h.rec.WaitFor(1, 2*time.Second)
	require.Len(t, recs, 1)
	payload := decodePayload(t, recs[0])
	assert.Equal(t, "hi", payload["short_message"])
	assert.Equal(t, recs[0].Key, payload[gelf.KeyField])
	assert.NotEmpty(t, payload[gelf.SourceField])
}

func TestHTTP_Handler(t *testing.T) {
	t.Run("admitted frame carries remote address", func(t *testing.T) {
		sub := &stubSubmitter{}
		l := NewHTTPListener(Options{HTTPPath: "/gelf", MaxFrameSize: 1024}, sub, testLogger())

		w := postGelf(t, l.Handler(), "/gelf", sample)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "Received", w.Body.String())
		require.Len(t, sub.frames, 1)
		assert.Equal(t, sample, string(sub.frames[0].Data))
		assert.Equal(t, "192.0.2.1:1234", sub.frames[0].Source)
		assert.Equal(t, ProtocolHTTP, sub.frames[0].Protocol)
	})

	t.Run("invalid body is still acknowledged", func(t *testing.T) {
		sub := &stubSubmitter{}
		l := NewHTTPListener(Options{HTTPPath: "/gelf", MaxFrameSize: 1024}, sub, testLogger())

		w := postGelf(t, l.Handler(), "/gelf", "not json")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Len(t, sub.frames, 1)
	})

	t.Run("oversized body", func(t *testing.T) {
		sub := &stubSubmitter{}
		l := NewHTTPListener(Options{HTTPPath: "/gelf", MaxFrameSize: 8}, sub, testLogger())

		w := postGelf(t, l.Handler(), "/gelf", sample)
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		assert.Empty(t, sub.frames)
	})

	t.Run("saturated pipeline", func(t *testing.T) {
		sub := &stubSubmitter{err: pipeline.ErrSaturated}
		l := NewHTTPListener(Options{HTTPPath: "/gelf", MaxFrameSize: 1024}, sub, testLogger())

		w := postGelf(t, l.Handler(), "/gelf", sample)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("rate limited", func(t *testing.T) {
		sub := &stubSubmitter{}
		l := NewHTTPListener(Options{HTTPPath: "/gelf", MaxFrameSize: 1024, RateLimit: 0.001, RateBurst: 1}, sub, testLogger())

		assert.Equal(t, http.StatusOK, postGelf(t, l.Handler(), "/gelf", sample).Code)
		assert.Equal(t, http.StatusTooManyRequests, postGelf(t, l.Handler(), "/gelf", sample).Code)
		assert.Len(t, sub.frames, 1)
	})

	t.Run("custom path", func(t *testing.T) {
		sub := &stubSubmitter{}
		l := NewHTTPListener(Options{HTTPPath: "/ingest", MaxFrameSize: 1024}, sub, testLogger())

		assert.Equal(t, http.StatusNotFound, postGelf(t, l.Handler(), "/gelf", sample).Code)
		assert.Equal(t, http.StatusOK, postGelf(t, l.Handler(), "/ingest", sample).Code)
	})

	t.Run("healthz", func(t *testing.T) {
		l := NewHTTPListener(Options{HTTPPath: "/gelf", MaxFrameSize: 1024}, &stubSubmitter{}, testLogger())

		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		w := httptest.NewRecorder()
		l.Handler().ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	})
}
