package requesttrace

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	platformauth "github.com/zenGate-Global/palmyra-campus/platform/go/auth"
)

type contextKey string

const (
	ctxAuditInfo contextKey = "CAMPUS_REQUEST_TRACE"
)

// ActorKind represents who initiated a request.
type ActorKind string

const (
	ActorKindUser      ActorKind = "user"
	ActorKindAnonymous ActorKind = "anonymous"
	ActorKindSystem    ActorKind = "system"
)

// AuditInfo captures who is acting on behalf of a request or job.
// UserID is set only when ActorKind is user. BranchID is the branch claim of the caller, when present.
type AuditInfo struct {
	ActorKind ActorKind
	UserID    *uuid.UUID
	BranchID  *uuid.UUID
	RequestID string
}

// ActingUser returns the user id to stamp on status changes, or nil when the system acts.
func (a AuditInfo) ActingUser() *uuid.UUID {
	if a.ActorKind != ActorKindUser || a.UserID == nil || *a.UserID == uuid.Nil {
		return nil
	}
	id := *a.UserID
	return &id
}

// IntoContext stores the AuditInfo in the provided context.
func IntoContext(ctx context.Context, audit AuditInfo) context.Context {
	return context.WithValue(ctx, ctxAuditInfo, audit)
}

// FromContext extracts the AuditInfo from context, returning false when not present.
func FromContext(ctx context.Context) (AuditInfo, bool) {
	if ctx == nil {
		return AuditInfo{}, false
	}
	v := ctx.Value(ctxAuditInfo)
	if v == nil {
		return AuditInfo{}, false
	}

	audit, ok := v.(AuditInfo)
	return audit, ok
}

// FromContextOrAnonymous returns the AuditInfo stored on the context, or an anonymous record when absent.
func FromContextOrAnonymous(ctx context.Context) AuditInfo {
	if audit, ok := FromContext(ctx); ok {
		return audit
	}
	return Anonymous("")
}

// FromCredentials builds an AuditInfo from authenticated credentials. The user id must be a campus
// user uuid; a malformed branch claim is ignored.
func FromCredentials(creds *platformauth.UserCredentials, requestID string) (AuditInfo, error) {
	if creds == nil {
		return AuditInfo{}, errors.New("credentials are required to build audit info")
	}
	if creds.Id == "" {
		return AuditInfo{}, errors.New("user id is required to build audit info")
	}

	userID, err := uuid.Parse(creds.Id)
	if err != nil {
		return AuditInfo{}, fmt.Errorf("user id %q is not a campus user id: %w", creds.Id, err)
	}

	audit := AuditInfo{
		ActorKind: ActorKindUser,
		UserID:    &userID,
		RequestID: requestID,
	}
	if creds.BranchID != nil {
		if branchID, err := uuid.Parse(*creds.BranchID); err == nil {
			audit.BranchID = &branchID
		}
	}
	return audit, nil
}

// Anonymous builds an AuditInfo for unauthenticated requests.
func Anonymous(requestID string) AuditInfo {
	return AuditInfo{ActorKind: ActorKindAnonymous, RequestID: requestID}
}

// System builds an AuditInfo for scheduled jobs and queue consumers.
func System(requestID string) AuditInfo {
	return AuditInfo{ActorKind: ActorKindSystem, RequestID: requestID}
}
