package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"authentication", NewAuthentication("no credentials"), http.StatusUnauthorized},
		{"authorization", NewAuthorization("tier ceiling"), http.StatusForbidden},
		{"validation", NewValidation("bad value"), http.StatusUnprocessableEntity},
		{"rate limit", NewRateLimit("slow down"), http.StatusTooManyRequests},
		{"oauth local", NewOAuth(CodeStateMismatch, "possible CSRF attack", nil), http.StatusBadRequest},
		{"oauth provider", NewOAuth(CodeProviderRejected, "bad code", nil), http.StatusInternalServerError},
		{"network", NewNetwork(CodeProviderUnreachable, "timeout", nil), http.StatusInternalServerError},
		{"not found", NewNotFound("unknown provider"), http.StatusNotFound},
		{"settlement", NewSettlement("broadcast failed", nil), http.StatusInternalServerError},
		{"too large", New(KindTooLarge, "too big", nil), http.StatusRequestEntityTooLarge},
		{"foreign", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusOf(tt.err))
		})
	}
}

func TestKindSurvivesWrapping(t *testing.T) {
	base := NewOAuth(CodeVerifierMissing, "no verifier", nil)
	wrapped := fmt.Errorf("callback: %w", base)

	assert.True(t, IsOAuth(wrapped))
	assert.Equal(t, CodeVerifierMissing, CodeOf(wrapped))
	assert.Equal(t, http.StatusBadRequest, StatusOf(wrapped))
}

func TestLocalCheckDistinguishesProviderFailures(t *testing.T) {
	local := NewOAuth(CodeStateMissing, "no stored state", nil)
	upstream := NewOAuth(CodeProviderRejected, "bad code", nil)
	unreachable := NewNetwork(CodeProviderUnreachable, "timeout", errors.New("dial tcp"))

	assert.True(t, local.LocalCheck())
	assert.False(t, upstream.LocalCheck())
	assert.False(t, unreachable.LocalCheck())
	assert.True(t, IsNetwork(unreachable))
	assert.ErrorContains(t, unreachable, "dial tcp")
}
