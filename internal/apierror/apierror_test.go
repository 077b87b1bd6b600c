package apierror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapErrorToHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", NewAPIError(ErrNotFound, "order not found", nil), http.StatusNotFound},
		{"conflict", NewAPIError(ErrConflict, "duplicate", nil), http.StatusConflict},
		{"invalid input", NewAPIError(ErrInvalidInput, "bad amount", nil), http.StatusBadRequest},
		{"internal", NewAPIError(ErrInternalServer, "boom", nil), http.StatusInternalServerError},
		{"wrapped", fmt.Errorf("fetch: %w", NewAPIError(ErrNotFound, "order not found", nil)), http.StatusNotFound},
		{"plain", errors.New("plain"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MapErrorToHTTPStatus(tt.err))
		})
	}
}

func TestIs(t *testing.T) {
	err := fmt.Errorf("update: %w", NewAPIError(ErrNotFound, "order not found", nil))
	assert.True(t, Is(err, ErrNotFound))
	assert.False(t, Is(err, ErrConflict))
	assert.False(t, Is(errors.New("x"), ErrNotFound))
}
