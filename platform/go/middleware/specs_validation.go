package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	oapimiddleware "github.com/oapi-codegen/nethttp-middleware"

	platformauth "github.com/zenGate-Global/palmyra-campus/platform/go/auth"
)

const problemTypeBase = "https://campus.zengate.global/problems/"

// SpecValidator validates requests against doc before they reach the handlers. It must run after the
// JWT middleware so bearerAuth operations can see the caller's credentials.
func SpecValidator(doc *openapi3.T) func(http.Handler) http.Handler {
	if doc == nil {
		panic("openapi document is required")
	}
	return oapimiddleware.OapiRequestValidatorWithOptions(doc, &oapimiddleware.Options{
		Options: openapi3filter.Options{
			AuthenticationFunc: ValidateAuthenticationViaSwagger,
		},
		ErrorHandler: writeValidationProblem,
	})
}

// ValidateAuthenticationViaSwagger satisfies operations that declare bearerAuth: the JWT middleware
// must already have stored credentials for the request.
func ValidateAuthenticationViaSwagger(ctx context.Context, input *openapi3filter.AuthenticationInput) error {
	if input == nil || input.SecuritySchemeName != "bearerAuth" {
		return nil
	}
	r := input.RequestValidationInput.Request
	if r == nil {
		return errors.New("no request in validation input")
	}
	if creds, ok := platformauth.UserFromContext(r.Context()); !ok || creds == nil {
		return errors.New("missing or invalid bearer token")
	}
	return nil
}

type validationProblem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func writeValidationProblem(w http.ResponseWriter, message string, status int) {
	problem := validationProblem{Status: status, Detail: message}
	switch status {
	case http.StatusBadRequest:
		problem.Type, problem.Title = problemTypeBase+"validation-error", "Validation failed"
	case http.StatusUnauthorized:
		problem.Type, problem.Title = problemTypeBase+"unauthorized", "Unauthorized"
	case http.StatusNotFound:
		problem.Type, problem.Title = problemTypeBase+"not-found", "Resource not found"
	default:
		problem.Type, problem.Title, problem.Detail = problemTypeBase+"internal-error", "Internal server error", ""
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}
