package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassificationSurvivesWrapping(t *testing.T) {
	base := New(Capacity, "project already has the maximum of %d source document(s)", 10)
	wrapped := fmt.Errorf("register: %w", base)

	assert.True(t, Is(wrapped, Capacity))
	assert.False(t, Is(wrapped, Validation))
	assert.Equal(t, Capacity, KindOf(wrapped))
	assert.Equal(t, "project already has the maximum of 10 source document(s)", Message(wrapped))
}

func TestWrapKeepsCauseOutOfMessage(t *testing.T) {
	cause := errors.New("rpc error: code = Unavailable")
	err := Wrap(Provider, cause, "transcription failed for document %s", "doc-1")

	assert.Equal(t, "transcription failed for document doc-1", Message(err))
	assert.Contains(t, err.Error(), "Unavailable", "the full chain stays available for logs")
	assert.ErrorIs(t, err, cause)
}

func TestUnclassifiedErrorsAreFatal(t *testing.T) {
	err := errors.New("disk on fire")
	assert.Equal(t, Persistence, KindOf(err))
	assert.Equal(t, "internal error", Message(err), "internal detail never reaches the caller")
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(err))
}

func TestHTTPStatusByKind(t *testing.T) {
	testCases := []struct {
		kind   Kind
		status int
	}{
		{Validation, http.StatusBadRequest},
		{Integrity, http.StatusBadRequest},
		{NotFound, http.StatusNotFound},
		{Capacity, http.StatusConflict},
		{Provider, http.StatusBadGateway},
		{Persistence, http.StatusInternalServerError},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.status, HTTPStatus(New(tc.kind, "x")), tc.kind.String())
	}
}
