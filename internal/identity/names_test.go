package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNameKey(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Alice", "alice"},
		{"  Bob   Smith ", "bob smith"},
		{"Zoë", "zoe"},
		{"JOSÉ", "jose"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NameKey(tt.in))
		})
	}
}

func TestLikePattern(t *testing.T) {
	assert.Equal(t, "%ali%", LikePattern("ALI"))
	assert.Equal(t, `%50\%\_off%`, LikePattern("50%_off"))
}
