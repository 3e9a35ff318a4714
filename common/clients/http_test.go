package clients

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Debug(string, ...interface{}) {}

func TestGetBytesForwardsSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "s-42", r.Header.Get("X-Session-ID"))
		w.Header().Set("Content-Type", "video/mp4")
		w.Write([]byte("frames"))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.Client(), nopLogger{})
	ctx := WithSessionID(context.Background(), "s-42")

	data, ct, err := c.GetBytes(ctx, srv.URL+"/a.mp4")
	require.NoError(t, err)
	assert.Equal(t, []byte("frames"), data)
	assert.Equal(t, "video/mp4", ct)
}

func TestGetBytesRejectsNonOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.Client(), nopLogger{})
	_, _, err := c.GetBytes(context.Background(), srv.URL)
	assert.Error(t, err)
}
