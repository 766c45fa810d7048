package robotscache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRobotsCache_DisallowedPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path == "/robots.txt" {
			_, _ = w.Write([]byte("User-agent: *\nDisallow: /private\n"))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	rc := New(srv.Client())
	allowed, err := rc.CanFetch(context.Background(), srv.URL+"/private/page", "TestAgent")
	require.NoError(t, err)
	assert.False(t, allowed)

	allowed, err = rc.CanFetch(context.Background(), srv.URL+"/public/page", "TestAgent")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRobotsCache_MissingRobotsAllowsAll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	rc := New(srv.Client())
	allowed, err := rc.CanFetch(context.Background(), srv.URL+"/anything", "TestAgent")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRobotsCache_NetworkErrorFailsOpen(t *testing.T) {
	rc := New(http.DefaultClient)
	allowed, err := rc.CanFetch(context.Background(), "http://127.0.0.1:1/page", "TestAgent")
	require.Error(t, err)
	assert.True(t, allowed)
}
