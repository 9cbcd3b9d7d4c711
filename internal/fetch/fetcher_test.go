package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchPage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><head><title> My Site </title></head><body>hello</body></html>`))
	}))
	t.Cleanup(srv.Close)

	f := New(Config{})
	payload, err := f.FetchPage(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Contains(t, payload.HTML, "hello")
	assert.Contains(t, payload.Markdown, "# My Site")
	assert.Contains(t, payload.Markdown, srv.URL)
	assert.Equal(t, []string{srv.URL}, payload.Links)
	assert.Equal(t, "My Site", payload.Metadata["title"])
}

func TestFetchPageUntitled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body>no title here</body></html>`))
	}))
	t.Cleanup(srv.Close)

	f := New(Config{})
	payload, err := f.FetchPage(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "Untitled", payload.Metadata["title"])
}

func TestFetchPageServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	t.Cleanup(srv.Close)

	f := New(Config{})
	_, err := f.FetchPage(context.Background(), srv.URL)
	assert.Error(t, err)
}

func TestFetchAsset(t *testing.T) {
	t.Parallel()

	css := "body { color: red; }"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/css")
		_, _ = w.Write([]byte(css))
	}))
	t.Cleanup(srv.Close)

	f := New(Config{})
	body, err := f.FetchAsset(context.Background(), srv.URL+"/style.css")
	require.NoError(t, err)
	assert.Equal(t, css, string(body))
}

func TestFetchCanceledContext(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-block
	}))
	t.Cleanup(func() {
		close(block)
		srv.Close()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := New(Config{})
	_, err := f.FetchPage(ctx, srv.URL)
	assert.Error(t, err)
}
