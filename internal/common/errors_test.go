package common

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKind_RoundTrip(t *testing.T) {
	for kind, err := range kinds {
		wrapped := fmt.Errorf("ctx: %w", err)
		if kind == "Unauthorized" {
			assert.Equal(t, "Unauthorized", Kind(ErrInvalidToken))
		}
		assert.Equal(t, kind, Kind(wrapped), "kind of %v", err)
		assert.True(t, errors.Is(FromKind(kind), err))
	}
}

func TestKind_Unknown(t *testing.T) {
	assert.Equal(t, "", Kind(nil))
	assert.Equal(t, "Internal", Kind(errors.New("boom")))
	assert.ErrorIs(t, FromKind("Nope"), ErrorInternal)
}

func TestDecryptionFailed_NotConflated(t *testing.T) {
	err := fmt.Errorf("download: %w", ErrDecryptionFailed)
	assert.False(t, errors.Is(err, ErrNetwork))
	assert.False(t, errors.Is(err, ErrorNotFound))
	assert.Equal(t, "DecryptionFailed", Kind(err))
}
