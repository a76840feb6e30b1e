package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorMatchesSentinelByCode(t *testing.T) {
	detailed := ErrDocumentState.With("status", "posted")
	wrapped := fmt.Errorf("post adjustment: %w", detailed)

	require.ErrorIs(t, wrapped, ErrDocumentState)
	require.NotErrorIs(t, wrapped, ErrDocumentNotFound)
	require.Equal(t, KindStateConflict, KindOf(wrapped))
	require.Contains(t, wrapped.Error(), "status=posted")
	require.Empty(t, ErrDocumentState.Fields)
}

func TestErrorUnwrapsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := ErrValidation.Wrap(cause)

	require.ErrorIs(t, err, cause)
	require.ErrorIs(t, err, ErrValidation)
	require.Equal(t, Kind(""), KindOf(cause))
}
