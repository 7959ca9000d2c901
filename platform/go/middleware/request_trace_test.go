package middleware

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	platformauth "github.com/zenGate-Global/palmyra-campus/platform/go/auth"
	"github.com/zenGate-Global/palmyra-campus/platform/go/requesttrace"
)

func bearer(claims string) string {
	return "Bearer e30." + base64.RawURLEncoding.EncodeToString([]byte(claims))
}

func TestRequestTraceWithAuth(t *testing.T) {
	userID := uuid.New()

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(platformauth.JWT(platformauth.UnsignedTokenVerifier(), nil))
	r.Use(RequestTrace)

	var audit requesttrace.AuditInfo
	r.Get("/test", func(w http.ResponseWriter, req *http.Request) {
		audit, _ = requesttrace.FromContext(req.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", bearer(`{"uid":"`+userID.String()+`"}`))

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, requesttrace.ActorKindUser, audit.ActorKind)
	require.NotNil(t, audit.UserID)
	require.Equal(t, userID, *audit.UserID)
	require.NotEmpty(t, audit.RequestID)
}

func TestRequestTraceRejectsForeignUserID(t *testing.T) {
	r := chi.NewRouter()
	r.Use(platformauth.JWT(platformauth.UnsignedTokenVerifier(), nil))
	r.Use(RequestTrace)
	r.Get("/test", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", bearer(`{"uid":"not-a-uuid"}`))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	require.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestRequestTraceAnonymous(t *testing.T) {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(RequestTrace)

	var audit requesttrace.AuditInfo
	r.Get("/test", func(w http.ResponseWriter, req *http.Request) {
		audit, _ = requesttrace.FromContext(req.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, requesttrace.ActorKindAnonymous, audit.ActorKind)
	require.Nil(t, audit.UserID)
}

func TestCORS(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	open := CORS(nil)(ok)
	resp := httptest.NewRecorder()
	open.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, "*", resp.Header().Get("Access-Control-Allow-Origin"))

	restricted := CORS([]string{"https://admin.example.com"})(ok)

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://admin.example.com")
	resp = httptest.NewRecorder()
	restricted.ServeHTTP(resp, req)
	require.Equal(t, http.StatusNoContent, resp.Code)
	require.Equal(t, "https://admin.example.com", resp.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	resp = httptest.NewRecorder()
	restricted.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Empty(t, resp.Header().Get("Access-Control-Allow-Origin"))
}
