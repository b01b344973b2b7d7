package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type correctionPayload struct {
	Category string `validate:"required,category"`
	Limit    int    `validate:"gte=0,lte=500"`
}

func TestValidatorCategoryRule(t *testing.T) {
	v := NewValidator()

	require.NoError(t, v.Struct(correctionPayload{Category: "Food", Limit: 10}))
	require.NoError(t, v.Struct(correctionPayload{Category: "Other"}))

	err := v.Struct(correctionPayload{Category: "Snacks"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Contains(t, err.Error(), "category must be one of")

	err = v.Struct(correctionPayload{Category: "Food", Limit: 900})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "limit must be at most 500")
}

func TestValidatorVar(t *testing.T) {
	v := NewValidator()
	assert.NoError(t, v.Var("id", "0b6f2c4e-8a55-4d2c-9f11-3f1f6f5b8c01", "uuid"))
	assert.ErrorIs(t, v.Var("id", "nope", "uuid"), ErrInvalidInput)
}
