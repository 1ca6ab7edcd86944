package store_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/chirino/companion-service/internal/registry/store"
	"github.com/stretchr/testify/require"
)

func TestErrorsUnwrapToDecryption(t *testing.T) {
	cause := &store.DecryptionError{Reason: "wrong key or corrupted envelope"}
	for _, err := range []error{
		&store.NotFoundError{Resource: "profile", ID: "nova", Cause: cause},
		&store.CorruptedProfileError{Name: "nova", Err: cause},
		&store.IntegrityRefusalError{Name: "user-profile", Err: cause},
		fmt.Errorf("save: %w", &store.IntegrityRefusalError{Name: "user-profile", Err: cause}),
	} {
		require.True(t, errors.Is(err, store.ErrDecryption), err.Error())
	}
	require.False(t, errors.Is(&store.NotFoundError{Resource: "profile", ID: "x"}, store.ErrDecryption))
}

func TestKeyContext(t *testing.T) {
	ctx := store.WithKey(t.Context(), "pw")
	require.Equal(t, "pw", store.KeyFromContext(ctx))
	require.Equal(t, "", store.KeyFromContext(t.Context()))
}
