package httpclient

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	iriserrors "iris/internal/errors"

	"github.com/stretchr/testify/require"
)

func TestBreakerOpensOnServerErrors(t *testing.T) {
	t.Parallel()

	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewWithCircuitBreakerConfig(time.Second, nil, "remote-store", iriserrors.CircuitBreakerConfig{
		FailureThreshold: 2,
		Timeout:          time.Minute,
	})

	for i := 0; i < 2; i++ {
		resp, err := client.Get(srv.URL)
		require.NoError(t, err)
		resp.Body.Close()
	}

	_, err := client.Get(srv.URL)
	require.Error(t, err)
	require.True(t, iriserrors.IsDegraded(err))
	require.Equal(t, 2, hits)
}

func TestNotFoundDoesNotTripBreaker(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	client := NewWithCircuitBreakerConfig(time.Second, nil, "remote-store", iriserrors.CircuitBreakerConfig{FailureThreshold: 1})
	for i := 0; i < 3; i++ {
		resp, err := client.Get(srv.URL)
		require.NoError(t, err)
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
		resp.Body.Close()
	}
}

func TestReadAllWithLimit(t *testing.T) {
	data, err := ReadAllWithLimit(strings.NewReader("hello"), 5)
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))

	_, err = ReadAllWithLimit(strings.NewReader("hello!"), 5)
	require.True(t, IsResponseTooLarge(err))
}
