package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppErrorError(t *testing.T) {
	err := New("TEST", "something failed", http.StatusTeapot)
	require.Equal(t, "something failed", err.Error())

	wrapped := err.WithInternal(errors.New("root cause"))
	require.Equal(t, "something failed: root cause", wrapped.Error())
	require.Equal(t, "TEST", wrapped.Code)

	// WithInternal copies; the original stays clean.
	require.Nil(t, err.Internal)
}

func TestUnwrapExposesInternal(t *testing.T) {
	cause := errors.New("root cause")
	err := Wrap(cause, "operation failed")
	require.ErrorIs(t, err, cause)
}

func TestFromError(t *testing.T) {
	require.Nil(t, FromError(nil))

	appErr := NewConflict("DUPLICATE_INVITATION", "invitation already pending")
	require.Same(t, appErr, FromError(fmt.Errorf("send: %w", appErr)))

	generic := FromError(errors.New("boom"))
	require.Equal(t, ErrInternalServer.Code, generic.Code)
	require.EqualError(t, generic.Unwrap(), "boom")
}

func TestKindHelpers(t *testing.T) {
	conflict := NewConflict("DUPLICATE_MEMBERSHIP", "already a member")
	require.Equal(t, "CONFLICT.DUPLICATE_MEMBERSHIP", conflict.Code)
	require.Equal(t, http.StatusConflict, conflict.StatusCode)
	require.True(t, IsConflict(conflict))
	require.True(t, IsConflict(fmt.Errorf("add member: %w", conflict)))
	require.False(t, IsResourceState(conflict))

	state := NewResourceState("INVITATION_NOT_PENDING", "invitation is no longer pending")
	require.True(t, IsResourceState(state))
	require.Equal(t, http.StatusConflict, state.StatusCode)

	rule := NewBusinessRule("LAST_OWNER", "households must keep an owner")
	require.True(t, IsBusinessRule(rule))
	require.Equal(t, http.StatusUnprocessableEntity, rule.StatusCode)

	require.False(t, IsConflict(errors.New("plain")))
}

func TestStatusHelpers(t *testing.T) {
	require.True(t, IsNotFound(ErrNotFound))
	require.True(t, IsForbidden(fmt.Errorf("guard: %w", ErrForbidden)))
	require.False(t, IsNotFound(ErrForbidden))
	require.False(t, IsForbidden(nil))
}

func TestQualifyWithEmptyCode(t *testing.T) {
	require.Equal(t, "CONFLICT", NewConflict("", "duplicate").Code)
	require.True(t, IsConflict(NewConflict("", "duplicate")))
}
