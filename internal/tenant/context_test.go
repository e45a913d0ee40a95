package tenant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgencyIDRoundTrip(t *testing.T) {
	ctx := WithAgencyID(context.Background(), "agency_abc")

	agencyID, err := FromContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "agency_abc", agencyID)
	assert.Equal(t, "agency_abc", MustFromContext(ctx))
}

func TestFromContextMissingOrEmpty(t *testing.T) {
	_, err := FromContext(context.Background())
	assert.ErrorIs(t, err, ErrAgencyIDNotFound)

	// An empty value counts as missing
	_, err = FromContext(WithAgencyID(context.Background(), ""))
	assert.ErrorIs(t, err, ErrAgencyIDNotFound)

	assert.Panics(t, func() {
		MustFromContext(context.Background())
	})
}

func TestUserIDRoundTrip(t *testing.T) {
	ctx := WithUserID(context.Background(), "user-1")

	userID, err := UserIDFromContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)

	_, err = UserIDFromContext(context.Background())
	assert.ErrorIs(t, err, ErrUserIDNotFound)
}

func TestRoleFromContextDefaultsToEmpty(t *testing.T) {
	assert.Equal(t, "", RoleFromContext(context.Background()))
	assert.Equal(t, "admin", RoleFromContext(WithRole(context.Background(), "admin")))
}

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-42")

	requestID, err := FromRequestIDContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "req-42", requestID)

	_, err = FromRequestIDContext(context.Background())
	assert.ErrorIs(t, err, ErrNoRequestIDInContext)
}
