package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	platformauth "github.com/zenGate-Global/palmyra-campus/platform/go/auth"
	"github.com/zenGate-Global/palmyra-campus/platform/go/gcp"
)

// buildAuthMiddleware constructs the JWT middleware for the configured provider. Campus user ids are
// UUIDs; tokens carrying anything else are rejected before reaching the handlers.
func buildAuthMiddleware(ctx context.Context, cfg config, logger *zap.Logger) func(http.Handler) http.Handler {
	var verify platformauth.VerifyFunc
	switch cfg.AuthProvider {
	case "firebase":
		fbAuth, err := gcp.NewAuthClient(ctx, cfg.FirebaseProjectID, cfg.FirebaseCredentials)
		if err != nil {
			logger.Fatal("init firebase auth", zap.Error(err))
		}
		verify = platformauth.FirebaseTokenVerifier(fbAuth)
	case "dev":
		logger.Warn("using dev auth middleware; do not use in production")
		verify = platformauth.UnsignedTokenVerifier()
	default:
		logger.Fatal("unsupported auth provider", zap.String("provider", cfg.AuthProvider))
	}

	extract := func(claims map[string]interface{}) (*platformauth.UserCredentials, error) {
		creds, err := platformauth.DefaultCredentialExtractor(claims)
		if err != nil {
			return nil, err
		}
		if _, err := uuid.Parse(creds.Id); err != nil {
			return nil, errors.New("user id claim must be a campus user UUID")
		}
		return creds, nil
	}

	return platformauth.JWT(verify, extract)
}
