package healthcheck

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type staticName struct {
	name atomic.Value
}

func (s *staticName) DisplayName() string {
	return s.name.Load().(string)
}

func newName(n string) *staticName {
	s := &staticName{}
	s.name.Store(n)
	return s
}

func TestStatusRoute(t *testing.T) {
	names := newName("Loading...")
	srv := New(zaptest.NewLogger(t), Config{Host: "127.0.0.1", Port: 0}, names)
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "✅ Bot Loading... is operational", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")

	names.name.Store("Clutch#1234")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "✅ Bot Clutch#1234 is operational", rec.Body.String())
}

func TestHeadAndUnknownRoutes(t *testing.T) {
	h := New(zaptest.NewLogger(t), Config{}, newName("x")).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestListenAndServe(t *testing.T) {
	srv := New(zaptest.NewLogger(t), Config{Host: "127.0.0.1", Port: 0}, newName("Clutch"))
	assert.Nil(t, srv.Addr())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx) }()

	require.Eventually(t, func() bool { return srv.Addr() != nil }, time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + srv.Addr().String() + "/")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "✅ Bot Clutch is operational", string(body))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(shutdownTimeout + time.Second):
		t.Fatal("server did not stop")
	}
}

func TestConfigAddr(t *testing.T) {
	assert.Equal(t, "0.0.0.0:10000", Config{Host: "0.0.0.0", Port: 10000}.Addr())
	assert.Equal(t, "[::]:10000", Config{Host: "::", Port: 10000}.Addr())
}
