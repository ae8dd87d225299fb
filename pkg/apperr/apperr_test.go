package apperr_test

import (
	"errors"
	"testing"

	"github.com/layercake/layercake/pkg/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotFoundf(t *testing.T) {
	err := apperr.NotFoundf("dataset %d not found", 9999)
	require.Error(t, err)
	assert.Equal(t, "NOT_FOUND", err.Code())
	assert.True(t, err.IsNotFound())
	assert.True(t, err.IsClientError())
	assert.Contains(t, err.Error(), "dataset 9999 not found")
}

func TestWrapClassifiesUnknownAsInternal(t *testing.T) {
	plain := errors.New("disk full")
	wrapped := apperr.Wrap(plain)
	assert.Equal(t, apperr.KindInternal, wrapped.Kind)
	assert.False(t, wrapped.IsClientError())
	assert.ErrorIs(t, wrapped, plain)
}

func TestWrapPreservesExistingKind(t *testing.T) {
	original := apperr.Conflictf("plan name already exists")
	wrapped := apperr.Wrap(original)
	assert.Same(t, original, wrapped)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(original))
}

func TestValidationFieldIncludesPath(t *testing.T) {
	err := apperr.ValidationField("config.predicate", "missing required key %q", "layer")
	assert.Contains(t, err.Error(), "config.predicate")
	assert.Contains(t, err.Error(), "missing required key")
}
