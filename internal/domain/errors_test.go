package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorCode(t *testing.T) {
	cases := []struct {
		err  error
		code string
	}{
		{NewValidationError("items", "is required"), CodeValidation},
		{&PreconditionError{TransactionType: "sale", Expected: "completed", Actual: "cancelled"}, CodePrecondition},
		{&NotFoundError{Kind: "sale", Key: "SALE-1"}, CodeNotFound},
		{&TransitionError{TransactionType: "sale", From: "settled", To: "completed"}, CodeTransition},
		{errors.New("connection refused"), CodeInternal},
	}
	for _, tc := range cases {
		require.Equal(t, tc.code, ErrorCode(tc.err), tc.err.Error())
	}
}

func TestTransitionErrorMessages(t *testing.T) {
	rejected := &TransitionError{TransactionType: "sale", From: "settled", To: "completed"}
	require.Equal(t, "transition settled -> completed is not allowed for sale", rejected.Error())

	stale := &TransitionError{TransactionType: "sale", From: "completed", To: "settled", Stale: true}
	require.Equal(t, "transition completed -> settled on sale lost to a concurrent update", stale.Error())

	// Client-facing messages stay plain ASCII.
	for _, msg := range []string{rejected.Error(), stale.Error()} {
		for _, r := range msg {
			require.Less(t, r, rune(128), msg)
		}
	}
}

func TestIsBusinessError(t *testing.T) {
	require.True(t, IsBusinessError(&NotFoundError{Kind: "sale", Key: "SALE-1"}))
	require.False(t, IsBusinessError(&StoreError{Op: "create transaction", Err: errors.New("timeout")}))
}
