package httpclient

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smmswarm/internal/logging"
)

func TestReadAllWithLimit(t *testing.T) {
	payload := []byte("hello")

	got, err := ReadAllWithLimit(bytes.NewReader(payload), int64(len(payload)))
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	got, err = ReadAllWithLimit(bytes.NewReader(payload), 0)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	_, err = ReadAllWithLimit(bytes.NewReader(payload), 2)
	require.Error(t, err)
	assert.True(t, IsResponseTooLarge(err))
}

func TestNewClientRoundTrips(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	client := New(time.Second, logging.Nop())
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)
}
