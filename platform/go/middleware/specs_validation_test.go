package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/zenGate-Global/palmyra-campus/contracts"
	platformauth "github.com/zenGate-Global/palmyra-campus/platform/go/auth"
)

func newValidatedRouter(t *testing.T, seen *[]byte) http.Handler {
	t.Helper()

	doc, err := contracts.Inactivity()
	require.NoError(t, err)

	ok := func(w http.ResponseWriter, r *http.Request) {
		if seen != nil {
			*seen, _ = io.ReadAll(r.Body)
		}
		w.WriteHeader(http.StatusOK)
	}

	root := chi.NewRouter()
	root.Route("/api/v1", func(r chi.Router) {
		r.Use(platformauth.JWT(platformauth.UnsignedTokenVerifier(), nil))
		r.Use(SpecValidator(doc))
		r.Post("/inactivity/sweeps", ok)
		r.Post("/inactivity/notifications", ok)
		r.Post("/inactivity/students/{studentId}/attendance-recorded", ok)
		r.Get("/inactivity/students/{studentId}", ok)
		r.Get("/jobs/health", ok)
	})
	return root
}

func TestSpecValidator(t *testing.T) {
	t.Parallel()

	token := bearer(`{"uid":"` + uuid.NewString() + `"}`)
	attendance := "/api/v1/inactivity/students/" + uuid.NewString() + "/attendance-recorded"
	branch := uuid.NewString()

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		auth   string
		want   int
	}{
		{name: "missing token", method: http.MethodGet, path: "/api/v1/jobs/health", want: http.StatusUnauthorized},
		{name: "health", method: http.MethodGet, path: "/api/v1/jobs/health", auth: token, want: http.StatusOK},
		{name: "sweep", method: http.MethodPost, path: "/api/v1/inactivity/sweeps", auth: token, want: http.StatusOK},
		{name: "branch filter", method: http.MethodPost, path: "/api/v1/inactivity/notifications?branchId=" + branch, auth: token, want: http.StatusOK},
		{name: "bad branch filter", method: http.MethodPost, path: "/api/v1/inactivity/notifications?branchId=nope", auth: token, want: http.StatusBadRequest},
		{name: "bad student id", method: http.MethodGet, path: "/api/v1/inactivity/students/x", auth: token, want: http.StatusBadRequest},
		{name: "unknown route", method: http.MethodGet, path: "/api/v1/inactivity/reports", auth: token, want: http.StatusNotFound},
		{name: "valid attendance", method: http.MethodPost, path: attendance, auth: token, body: `{"branchId":"` + branch + `","presence":"late","calendarDate":"2024-01-22"}`, want: http.StatusOK},
		{name: "not json", method: http.MethodPost, path: attendance, auth: token, body: `nope`, want: http.StatusBadRequest},
		{name: "missing body", method: http.MethodPost, path: attendance, auth: token, want: http.StatusBadRequest},
		{name: "bad branch", method: http.MethodPost, path: attendance, auth: token, body: `{"branchId":"x","presence":"present"}`, want: http.StatusBadRequest},
		{name: "unknown presence", method: http.MethodPost, path: attendance, auth: token, body: `{"branchId":"` + branch + `","presence":"excused"}`, want: http.StatusBadRequest},
		{name: "bad date", method: http.MethodPost, path: attendance, auth: token, body: `{"branchId":"` + branch + `","presence":"present","calendarDate":"22/01/2024"}`, want: http.StatusBadRequest},
		{name: "unknown field", method: http.MethodPost, path: attendance, auth: token, body: `{"branchId":"` + branch + `","presence":"present","note":"x"}`, want: http.StatusBadRequest},
	}

	router := newValidatedRouter(t, nil)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var body io.Reader
			if tc.body != "" {
				body = bytes.NewBufferString(tc.body)
			}
			req := httptest.NewRequest(tc.method, tc.path, body)
			if tc.body != "" {
				req.Header.Set("Content-Type", "application/json")
			}
			if tc.auth != "" {
				req.Header.Set("Authorization", tc.auth)
			}

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			require.Equal(t, tc.want, rec.Code, rec.Body.String())

			if tc.want != http.StatusOK {
				require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
				var problem validationProblem
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
				require.Equal(t, tc.want, problem.Status)
			}
		})
	}
}

func TestSpecValidatorKeepsBodyForHandler(t *testing.T) {
	t.Parallel()

	var seen []byte
	router := newValidatedRouter(t, &seen)

	payload := `{"branchId":"` + uuid.NewString() + `","presence":"present"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/inactivity/students/"+uuid.NewString()+"/attendance-recorded", bytes.NewBufferString(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", bearer(`{"uid":"`+uuid.NewString()+`"}`))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, payload, string(seen))
}

func TestValidateAuthenticationIgnoresOtherSchemes(t *testing.T) {
	t.Parallel()

	require.NoError(t, ValidateAuthenticationViaSwagger(context.Background(), nil))
}
