package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasCode(t *testing.T) {
	t.Run("matches direct error", func(t *testing.T) {
		err := New(CodeNotTagged, "value carries no label")
		assert.True(t, HasCode(err, CodeNotTagged))
		assert.False(t, HasCode(err, CodeInternal))
	})

	t.Run("matches through fmt wrapping", func(t *testing.T) {
		err := fmt.Errorf("sink: %w", New(CodeNoIdentityContext, "no acting user"))
		assert.True(t, Is(err, CodeNoIdentityContext))
	})

	t.Run("outermost code wins", func(t *testing.T) {
		inner := New(CodeTimeout, "deadline")
		err := Wrap(inner, CodePropagationFailure, "delete at Pay failed")
		assert.True(t, HasCode(err, CodePropagationFailure))
		assert.Equal(t, CodePropagationFailure, CodeOf(err))
		assert.ErrorIs(t, err, inner)
	})

	t.Run("plain errors have no code", func(t *testing.T) {
		err := errors.New("boom")
		assert.False(t, HasCode(err, CodeInternal))
		assert.Equal(t, CodeInternal, CodeOf(err))
	})
}

func TestErrorMessage(t *testing.T) {
	err := Wrap(errors.New("disk full"), CodeLogWriteFailure, "provenance append failed")
	assert.Equal(t, "provenance append failed: disk full", err.Error())
	assert.Equal(t, "not tagged", New(CodeNotTagged, "not tagged").Error())
}

func TestToHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeBadRequest:         http.StatusBadRequest,
		CodeMalformedLabel:     http.StatusBadRequest,
		CodeNotFound:           http.StatusNotFound,
		CodeConflict:           http.StatusConflict,
		CodePropagationFailure: http.StatusBadGateway,
		CodeLogWriteFailure:    http.StatusServiceUnavailable,
		CodeNoIdentityContext:  http.StatusInternalServerError,
		CodeInternal:           http.StatusInternalServerError,
	}
	for code, status := range cases {
		assert.Equal(t, status, ToHTTPStatus(code), string(code))
	}
}
