package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmail(t *testing.T) {
	cases := map[string]string{
		"  Alice@Example.COM ": "alice@example.com",
		"bob@example.com":      "bob@example.com",
		"":                     "",
	}
	for in, want := range cases {
		assert.Equal(t, want, Email(in), "input %q", in)
	}
}

func TestAnswer(t *testing.T) {
	assert.Equal(t, "blue", Answer(" BLUE\t"))
	assert.Equal(t, Answer("Fluffy"), Answer("fluffy"))
}
