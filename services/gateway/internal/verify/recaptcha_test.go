package verify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenError(t *testing.T) {
	tests := []struct {
		name  string
		token string
		want  string
	}{
		{"real token", "03AGdBq24PBCbwiDRa...", ""},
		{"widget error", `{"error":"Invalid site key or not loaded"}`, "Invalid site key or not loaded"},
		{"widget error with whitespace", `  {"error":"timeout"}  `, "timeout"},
		{"json without error field", `{"token":"abc"}`, ""},
		{"malformed json", `{error`, ""},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TokenError(tt.token))
		})
	}
}
