package engine

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestError_Format(t *testing.T) {
	id := uuid.MustParse("00000000-0000-0000-0000-000000000007")

	assert.Equal(t, "ENGINE_CLOSED: engine is shut down", engineClosed().Error())
	assert.Equal(t, "UNKNOWN_SCRIPT: no such script (item=00000000-0000-0000-0000-000000000007)", unknownScript(id).Error())

	err := &Error{Code: ErrCodeLoadFailed, Message: "load script", ItemID: id, Err: assert.AnError}
	assert.Contains(t, err.Error(), "LOAD_FAILED: load script (item=")
	assert.ErrorIs(t, err, assert.AnError)
}

func TestHasCode(t *testing.T) {
	wrapped := fmt.Errorf("remove: %w", unknownScript(uuid.New()))

	assert.True(t, IsUnknownScript(wrapped))
	assert.True(t, HasCode(wrapped, ErrCodeUnknownScript))
	assert.False(t, HasCode(wrapped, ErrCodeClosed))
	assert.False(t, HasCode(assert.AnError, ErrCodeClosed))
	assert.True(t, HasCode(duplicateScript(uuid.New()), ErrCodeDuplicateScript))
}
