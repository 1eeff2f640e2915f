// internal/service/fetch/client_test.go

package fetch

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

const validBody = ")]}'\n\n123\n[[\"wrb.fr\",\"i0OFE\",\"[null,[]]\",null,null,null,\"generic\"]]"

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testConfig(endpoint string) Config {
	return Config{
		Endpoint:    endpoint,
		CategoryID:  6,
		WindowHours: 24,
		MaxRetries:  2,
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
	}
}

func TestFetchSuccess(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		require.Contains(t, r.PostForm.Get("f.req"), "i0OFE")
		require.Contains(t, r.PostForm.Get("f.req"), "US")
		_, _ = w.Write([]byte(validBody))
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL), srv.Client(), testLogger())
	payload, err := client.Fetch(context.Background(), "US")
	require.NoError(t, err)
	require.False(t, payload.RateLimited)
	require.Equal(t, []byte(validBody), payload.Body)
	require.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestFetchRetriesTransientThenSucceeds(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(validBody))
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL), srv.Client(), testLogger())
	payload, err := client.Fetch(context.Background(), "GB")
	require.NoError(t, err)
	require.False(t, payload.RateLimited)
	require.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestFetchRateLimitedExhaustsBudget(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL), srv.Client(), testLogger())
	_, err := client.Fetch(context.Background(), "US")
	require.Error(t, err)
	require.Equal(t, ClassRateLimited, ClassOf(err))
	// Initial attempt plus MaxRetries, never more.
	require.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestFetchRateLimitedThenSuccessFlagsPayload(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(validBody))
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL), srv.Client(), testLogger())
	payload, err := client.Fetch(context.Background(), "US")
	require.NoError(t, err)
	require.True(t, payload.RateLimited)
}

func TestFetchFatalIsNotRetried(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL), srv.Client(), testLogger())
	_, err := client.Fetch(context.Background(), "US")
	require.Error(t, err)
	require.Equal(t, ClassFatal, ClassOf(err))
	require.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestFetchMalformedBodyIsNotRetried(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		_, _ = w.Write([]byte("<html>definitely not the envelope</html>"))
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL), srv.Client(), testLogger())
	_, err := client.Fetch(context.Background(), "US")
	require.Error(t, err)
	require.Equal(t, ClassMalformed, ClassOf(err))
	require.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestFetchThrottleEnvelopeInBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(")]}'\n\n42\n[[\"er\",null,null,null,null,429,null]]"))
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL), srv.Client(), testLogger())
	_, err := client.Fetch(context.Background(), "US")
	require.Error(t, err)
	require.Equal(t, ClassRateLimited, ClassOf(err))
}

func TestFetchContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewClient(testConfig(srv.URL), srv.Client(), testLogger())
	_, err := client.Fetch(ctx, "US")
	require.Error(t, err)
}

func TestFullJitterStaysBounded(t *testing.T) {
	base := 100 * time.Millisecond
	max := 800 * time.Millisecond

	for attempts := 1; attempts <= 10; attempts++ {
		for i := 0; i < 50; i++ {
			d := fullJitter(base, max, attempts)
			require.GreaterOrEqual(t, d, time.Duration(0))
			require.LessOrEqual(t, d, max)
		}
	}
}
