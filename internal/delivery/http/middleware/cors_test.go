package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventregistration/internal/requestid"
)

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := CORS([]string{"https://app.example.com/", " "}, next)

	tests := []struct {
		name       string
		method     string
		origin     string
		wantStatus int
		wantAllow  string
		wantExpose string
	}{
		{"preflight allowed", http.MethodOptions, "https://app.example.com", http.StatusNoContent, "https://app.example.com", ""},
		{"preflight unknown origin", http.MethodOptions, "https://evil.example.com", http.StatusNoContent, "", ""},
		{"simple allowed", http.MethodGet, "https://app.example.com", http.StatusOK, "https://app.example.com", requestid.Header},
		{"simple unknown origin", http.MethodGet, "https://evil.example.com", http.StatusOK, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/events", nil)
			req.Header.Set("Origin", tt.origin)
			rr := httptest.NewRecorder()

			handler.ServeHTTP(rr, req)

			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Equal(t, tt.wantAllow, rr.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, tt.wantExpose, rr.Header().Get("Access-Control-Expose-Headers"))
		})
	}
}

func TestCORS_PreflightAllowsRequestIDHeader(t *testing.T) {
	handler := CORS([]string{"https://app.example.com"}, http.NotFoundHandler())

	req := httptest.NewRequest(http.MethodOptions, "/events/ev-1/registrations", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "content-type, x-request-id")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusNoContent, rr.Code)
	allowHeaders := rr.Header().Get("Access-Control-Allow-Headers")
	assert.Contains(t, allowHeaders, "Content-Type")
	assert.Contains(t, allowHeaders, requestid.Header)
	assert.Contains(t, rr.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
}

func TestCORS_ExposesEchoedRequestID(t *testing.T) {
	// Body written without an explicit WriteHeader still gets the CORS headers.
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":null}`))
	})
	handler := CORS([]string{"https://app.example.com"}, RequestID(next))

	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set(requestid.Header, "client-req-42")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "client-req-42", rr.Header().Get(requestid.Header))
	assert.Equal(t, requestid.Header, rr.Header().Get("Access-Control-Expose-Headers"))
	assert.Equal(t, "https://app.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
}
