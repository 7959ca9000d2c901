package requesttrace

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	platformauth "github.com/zenGate-Global/palmyra-campus/platform/go/auth"
)

func TestIntoContextAndFromContext(t *testing.T) {
	userID := uuid.New()
	audit := AuditInfo{ActorKind: ActorKindUser, UserID: &userID, RequestID: "req-abc"}

	ctx := IntoContext(context.Background(), audit)

	got, ok := FromContext(ctx)
	require.True(t, ok)
	require.Equal(t, audit, got)
}

func TestFromContextMissing(t *testing.T) {
	_, ok := FromContext(context.Background())
	require.False(t, ok)
	require.Equal(t, ActorKindAnonymous, FromContextOrAnonymous(context.Background()).ActorKind)
}

func TestFromCredentials(t *testing.T) {
	userID, branchID := uuid.New(), uuid.New()
	creds := &platformauth.UserCredentials{Id: userID.String(), BranchID: ptr(branchID.String())}

	audit, err := FromCredentials(creds, "req-xyz")
	require.NoError(t, err)
	require.Equal(t, ActorKindUser, audit.ActorKind)
	require.Equal(t, userID, *audit.UserID)
	require.Equal(t, branchID, *audit.BranchID)
	require.Equal(t, "req-xyz", audit.RequestID)
	require.Equal(t, userID, *audit.ActingUser())

	audit, err = FromCredentials(&platformauth.UserCredentials{Id: userID.String(), BranchID: ptr("campus-north")}, "")
	require.NoError(t, err)
	require.Nil(t, audit.BranchID)
}

func TestFromCredentialsInvalid(t *testing.T) {
	_, err := FromCredentials(nil, "req-1")
	require.Error(t, err)

	_, err = FromCredentials(&platformauth.UserCredentials{}, "req-1")
	require.Error(t, err)

	_, err = FromCredentials(&platformauth.UserCredentials{Id: "firebase-uid-123"}, "req-1")
	require.Error(t, err)
}

func TestAnonymousAndSystemHaveNoActingUser(t *testing.T) {
	audit := Anonymous("req-anon")
	require.Equal(t, ActorKindAnonymous, audit.ActorKind)
	require.Nil(t, audit.ActingUser())

	audit = System("req-sys")
	require.Equal(t, ActorKindSystem, audit.ActorKind)
	require.Nil(t, audit.ActingUser())
}

func ptr[T any](v T) *T { return &v }
