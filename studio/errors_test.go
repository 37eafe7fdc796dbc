package studio_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/amg/studio-ledger/generic"
	"github.com/amg/studio-ledger/studio"
)

func TestError_IsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("booking: %w", &studio.Error{Code: studio.CodeClassFull, Message: "class c1 has 7/7 places taken"})

	assert.ErrorIs(t, err, studio.ErrClassFull)
	assert.NotErrorIs(t, err, studio.ErrNotFound)
	assert.Equal(t, studio.CodeClassFull, studio.CodeOf(err))
	assert.True(t, studio.IsClientError(err))
}

func TestCodeOf_MapsStoreErrors(t *testing.T) {
	assert.Equal(t, studio.CodeNotFound, studio.CodeOf(&generic.NotFoundError{Kind: "class", ID: "x"}))
	assert.Equal(t, studio.CodeConflict, studio.CodeOf(generic.ErrConcurrentModification))
	assert.Equal(t, studio.ErrorCode(""), studio.CodeOf(fmt.Errorf("disk on fire")))
	assert.Equal(t, studio.ErrorCode(""), studio.CodeOf(nil))
}
