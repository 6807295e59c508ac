package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	geoerrors "github.com/dservsys/geolimes/internal/errors"
)

func newTestClient(t *testing.T, url string, retries int) *HTTPClient {
	t.Helper()
	c, err := NewHTTPClient(HTTPConfig{
		Endpoint:   url,
		Timeout:    5 * time.Second,
		MaxRetries: retries,
		UserAgent:  "geolimes-test",
		Logger:     zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	c.backoff = func(int) time.Duration { return time.Millisecond }
	return c
}

func TestHTTPClient_SendsSPARQLProtocolRequest(t *testing.T) {
	var gotQuery, gotAccept, gotEncoding, gotAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotQuery = r.PostForm.Get("query")
		gotAccept = r.Header.Get("Accept")
		gotEncoding = r.Header.Get("Accept-Encoding")
		gotAgent = r.Header.Get("User-Agent")

		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set(HeaderMaxRows, "500")
		_, _ = w.Write([]byte(csvBody))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 0)
	resp, err := c.Execute(context.Background(), "SELECT ?s WHERE {?s ?p ?o}")
	require.NoError(t, err)

	assert.Equal(t, 500, resp.MaxRows())
	data, err := Decode(resp)
	require.NoError(t, err)
	assert.Equal(t, csvBody, string(data))

	assert.Equal(t, "SELECT ?s WHERE {?s ?p ?o}", gotQuery)
	assert.Equal(t, "text/csv", gotAccept)
	assert.Equal(t, acceptEncoding, gotEncoding)
	assert.Equal(t, "geolimes-test", gotAgent)
}

func TestHTTPClient_GzipIsLeftToDecoder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		_, _ = w.Write(gzipBytes(t, []byte(csvBody)))
	}))
	defer srv.Close()

	resp, err := newTestClient(t, srv.URL, 0).Execute(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "gzip", resp.Encoding())

	data, err := Decode(resp)
	require.NoError(t, err)
	assert.Equal(t, csvBody, string(data))
}

func TestHTTPClient_StatusClassification(t *testing.T) {
	tests := []struct {
		status int
		code   string
	}{
		{http.StatusNotFound, geoerrors.CodeEndpointNotFound},
		{http.StatusUnauthorized, geoerrors.CodeUnauthorized},
		{http.StatusForbidden, geoerrors.CodeUnauthorized},
		{http.StatusBadRequest, geoerrors.CodeQueryBadFormed},
		{http.StatusInternalServerError, geoerrors.CodeEndpointInternal},
		{http.StatusServiceUnavailable, geoerrors.CodeEndpointInternal},
		{http.StatusTeapot, geoerrors.CodeProtocolFault},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "Virtuoso 37000 Error", tt.status)
			}))
			defer srv.Close()

			_, err := newTestClient(t, srv.URL, 0).Execute(context.Background(), "q")
			require.Error(t, err)
			assert.True(t, geoerrors.IsTransportFault(err))
			assert.Equal(t, tt.code, geoerrors.GetCode(err))
			assert.Contains(t, err.Error(), "Virtuoso 37000 Error")
		})
	}
}

func TestHTTPClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(csvBody))
	}))
	defer srv.Close()

	resp, err := newTestClient(t, srv.URL, 2).Execute(context.Background(), "q")
	require.NoError(t, err)
	_, err = Decode(resp)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPClient_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL, 2).Execute(context.Background(), "q")
	assert.Equal(t, geoerrors.CodeEndpointInternal, geoerrors.GetCode(err))
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL, 5).Execute(context.Background(), "q")
	assert.Equal(t, geoerrors.CodeUnauthorized, geoerrors.GetCode(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPClient_UnreachableEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newTestClient(t, url, 0).Execute(context.Background(), "q")
	assert.Equal(t, geoerrors.CodeProtocolFault, geoerrors.GetCode(err))
}

func TestHTTPClient_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(csvBody))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestClient(t, srv.URL, 3).Execute(ctx, "q")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewHTTPClient_Validation(t *testing.T) {
	_, err := NewHTTPClient(HTTPConfig{})
	assert.Equal(t, geoerrors.CodeMissingParameter, geoerrors.GetCode(err))

	_, err = NewHTTPClient(HTTPConfig{Endpoint: "not a url"})
	assert.Equal(t, geoerrors.CodeInvalidParameter, geoerrors.GetCode(err))
}
