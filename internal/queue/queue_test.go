package queue

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubjectToken(t *testing.T) {
	tests := map[string]string{
		"user-1":         "user-1",
		"a.b":            "a_b",
		"wild*card>":     "wild_card_",
		"with space":     "with_space",
		"":               "_",
		"alice@mail.com": "alice@mail_com",
	}
	for in, want := range tests {
		assert.Equal(t, want, SubjectToken(in), in)
	}
}

func TestPermanent(t *testing.T) {
	assert.NoError(t, Permanent(nil))

	base := errors.New("bad payload")
	err := fmt.Errorf("handler: %w", Permanent(base))
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, base)
	assert.False(t, IsPermanent(base))
}
