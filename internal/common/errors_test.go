package common

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{NotFoundf("job %s", "x"), http.StatusNotFound},
		{fmt.Errorf("wrap: %w", ErrInvalidInput), http.StatusBadRequest},
		{ErrModelUnavailable, http.StatusServiceUnavailable},
		{ErrConflict, http.StatusConflict},
		{ErrDatabase, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.err), "%v", tt.err)
	}
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, "NOT_FOUND", ErrorCode(NotFoundf("receipt")))
	assert.Equal(t, "MODEL_UNAVAILABLE", ErrorCode(fmt.Errorf("predict: %w", ErrModelUnavailable)))
	assert.Equal(t, "RECOGNITION_ERROR", ErrorCode(fmt.Errorf("ocr: %w", ErrRecognition)))
	assert.Equal(t, "INTERNAL", ErrorCode(fmt.Errorf("boom")))
}
