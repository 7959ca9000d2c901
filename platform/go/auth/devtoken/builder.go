package devtoken

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Params captures the claims required to mint an unsigned, Firebase-shaped JWT for local and CI
// environments. No environment variables are read so the builder stays deterministic for tooling.
type Params struct {
	ProjectID string        // Firebase project id; used for aud and iss
	BranchID  string        // branchId custom claim (optional)
	UserID    string        // campus user id; user_id/sub/uid (required)
	Email     string        // email claim (required)
	Name      string        // display name
	IsAdmin   bool          // isAdmin custom claim, required by the manual trigger endpoints
	ExpiresIn time.Duration // relative expiry; default 1h if zero
	Audience  string        // optional override; defaults to ProjectID
	Issuer    string        // optional override; defaults to https://securetoken.google.com/<projectId>
}

// BuildUnsignedToken returns a JWT string with alg "none" and no signature. It flows through the
// API's auth middleware when AUTH_PROVIDER=dev.
func BuildUnsignedToken(p Params, now time.Time) (string, error) {
	if strings.TrimSpace(p.ProjectID) == "" {
		return "", errors.New("projectID is required")
	}
	if strings.TrimSpace(p.UserID) == "" {
		return "", errors.New("userID is required")
	}
	if strings.TrimSpace(p.Email) == "" {
		return "", errors.New("email is required")
	}

	if now.IsZero() {
		now = time.Now().UTC()
	}

	expiresIn := p.ExpiresIn
	if expiresIn == 0 {
		expiresIn = time.Hour
	}

	issuer := p.Issuer
	if strings.TrimSpace(issuer) == "" {
		issuer = fmt.Sprintf("https://securetoken.google.com/%s", p.ProjectID)
	}

	audience := p.Audience
	if strings.TrimSpace(audience) == "" {
		audience = p.ProjectID
	}

	payload := map[string]interface{}{
		"iss":            issuer,
		"aud":            audience,
		"auth_time":      now.Unix(),
		"user_id":        p.UserID,
		"sub":            p.UserID,
		"iat":            now.Unix(),
		"exp":            now.Add(expiresIn).Unix(),
		"email":          p.Email,
		"email_verified": true,
		"name":           p.Name,
		"isAdmin":        p.IsAdmin,
		"firebase": map[string]interface{}{
			"identities":       map[string]interface{}{"email": []string{p.Email}},
			"sign_in_provider": "password",
		},
	}
	if b := strings.TrimSpace(p.BranchID); b != "" {
		payload["branchId"] = b
	}

	headerSegment, err := encodeSegment(map[string]interface{}{"alg": "none", "typ": "JWT"})
	if err != nil {
		return "", err
	}

	payloadSegment, err := encodeSegment(payload)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s.%s", headerSegment, payloadSegment), nil
}

func encodeSegment(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
