package provider

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Retryable(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{0, true},
		{400, false},
		{401, false},
		{404, false},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			e := &Error{Provider: "openai", StatusCode: tt.status}
			assert.Equal(t, tt.want, e.Retryable())
		})
	}
}

func TestIsPermanent(t *testing.T) {
	wrapped := fmt.Errorf("embed: %w", &Error{Provider: "gemini", StatusCode: 400, Code: "INVALID_ARGUMENT", Message: "bad"})
	assert.True(t, IsPermanent(wrapped))
	assert.False(t, IsPermanent(&Error{StatusCode: 502}))
	assert.False(t, IsPermanent(errors.New("plain")))
	assert.Contains(t, wrapped.Error(), "INVALID_ARGUMENT")
}
