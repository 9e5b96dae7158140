package middleware

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/catalogsync/api/responses"
	pkgerrors "github.com/angelmondragon/catalogsync/pkg/errors"
	"github.com/angelmondragon/catalogsync/pkg/logger"
)

func logEntries(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	scanner := bufio.NewScanner(buf)
	for scanner.Scan() {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		out = append(out, entry)
	}
	require.NoError(t, scanner.Err())
	return out
}

func TestRequestIDKeepsValidInboundID(t *testing.T) {
	var seen string
	handler := RequestID(logger.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set(requestIDHeader, "lb-7f3a")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "lb-7f3a", seen)
	assert.Equal(t, "lb-7f3a", rec.Header().Get(requestIDHeader))
}

func TestRequestIDReplacesUnusableInboundID(t *testing.T) {
	cases := map[string]string{
		"blank":      "   ",
		"whitespace": "two words",
		"too long":   strings.Repeat("a", maxRequestIDLen+1),
		"non ascii":  "répétition",
		"control":    "id\x00",
	}
	for name, inbound := range cases {
		t.Run(name, func(t *testing.T) {
			var seen string
			handler := RequestID(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = RequestIDFromContext(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
			req.Header.Set(requestIDHeader, inbound)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.NotEqual(t, inbound, seen)
			assert.Len(t, seen, 36)
			assert.Equal(t, seen, rec.Header().Get(requestIDHeader))
		})
	}
}

func TestRecovererLogsRequestAndWritesInternalError(t *testing.T) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "sync-worker", Output: &buf})

	r := chi.NewRouter()
	r.Use(RequestID(logg), Recoverer(logg))
	r.Get("/api/v1/variants/{variantId}/price-history", func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/variants/11/price-history", nil)
	req.Header.Set(requestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body responses.ErrorEnvelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, string(pkgerrors.CodeInternal), body.Error.Code)
	assert.NotContains(t, body.Error.Message, "kaboom")

	entries := logEntries(t, &buf)
	require.Len(t, entries, 1)
	entry := entries[0]
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "ops handler panicked", entry["message"])
	assert.Equal(t, "req-42", entry["request_id"])
	assert.Equal(t, http.MethodGet, entry["method"])
	assert.Equal(t, "/api/v1/variants/11/price-history", entry["path"])
	assert.Equal(t, "/api/v1/variants/{variantId}/price-history", entry["route"])
	assert.Equal(t, "kaboom", entry["panic"])
	assert.Equal(t, string(pkgerrors.CodeInternal), entry["error_code"])
}

func TestRecovererRepanicsOnAbort(t *testing.T) {
	handler := Recoverer(logger.Nop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))
	})
}

func TestLoggingRecordsRouteAndStatus(t *testing.T) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "sync-worker", Output: &buf})

	r := chi.NewRouter()
	r.Use(RequestID(logg), Logging(logg, "/metrics"))
	r.Get("/api/v1/products/{productId}/reset-runs/latest", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Get("/metrics", func(http.ResponseWriter, *http.Request) {})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/products/9/reset-runs/latest", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))

	entries := logEntries(t, &buf)
	require.Len(t, entries, 1, "quiet paths log at debug")
	entry := entries[0]
	assert.Equal(t, "request.complete", entry["message"])
	assert.Equal(t, "/api/v1/products/{productId}/reset-runs/latest", entry["route"])
	assert.Equal(t, float64(http.StatusNotFound), entry["status"])
	assert.NotEmpty(t, entry["request_id"])
}
