package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/dermascan/internal/domain/analysis"
)

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("image-bytes"))
	}))
	defer srv.Close()

	data, err := New(Config{}).Fetch(context.Background(), srv.URL+"/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, []byte("image-bytes"), data)
}

func TestFetchRejectsByValidator(t *testing.T) {
	d := New(Config{Validate: func(string) error { return errors.New("blocked") }})
	_, err := d.Fetch(context.Background(), "http://10.0.0.1/a.jpg")
	assert.ErrorIs(t, err, analysis.ErrInvalidInput)
}

func TestFetchValidatesRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/start" {
			http.Redirect(w, r, "/private", http.StatusFound)
			return
		}
		_, _ = w.Write([]byte("secret"))
	}))
	defer srv.Close()

	d := New(Config{Validate: func(u string) error {
		if strings.HasSuffix(u, "/private") {
			return errors.New("blocked")
		}
		return nil
	}})
	_, err := d.Fetch(context.Background(), srv.URL+"/start")
	assert.ErrorIs(t, err, analysis.ErrInvalidImage)
}

func TestFetchStatusAndSize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer srv.Close()

	d := New(Config{MaxBytes: 16})
	_, err := d.Fetch(context.Background(), srv.URL+"/missing")
	assert.ErrorIs(t, err, analysis.ErrInvalidImage)

	_, err = d.Fetch(context.Background(), srv.URL+"/big")
	assert.ErrorIs(t, err, analysis.ErrInvalidImage)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestFetchTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	_, err := New(Config{Timeout: 20 * time.Millisecond}).Fetch(context.Background(), srv.URL)
	assert.ErrorIs(t, err, analysis.ErrInvalidImage)
}
