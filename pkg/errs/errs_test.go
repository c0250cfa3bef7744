package errs

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestClassificationSurvivesWrapping(t *testing.T) {
	id := uuid.MustParse("7d0c1d2e-6f0e-4a57-9d6b-3a8f3f0f1b11")

	notFound := fmt.Errorf("failed to load loan: %w", NotFound("loan", id))
	assert.True(t, IsNotFound(notFound))
	assert.False(t, IsValidation(notFound))
	assert.Equal(t, "failed to load loan: loan 7d0c1d2e-6f0e-4a57-9d6b-3a8f3f0f1b11 not found", notFound.Error())

	invalid := fmt.Errorf("create: %w", Validation("Principal", "Minimum loan amount is 1000"))
	assert.True(t, IsValidation(invalid))
	assert.False(t, IsInvariant(invalid))

	inv := Invariant("loan %s already has %d installments", "x", 3)
	assert.True(t, IsInvariant(inv))
	assert.Equal(t, "loan x already has 3 installments", inv.Error())
}
