package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "passwd", SanitizeFilename("../../etc/passwd"))
	assert.Equal(t, "c.txt", SanitizeFilename(`a\b\c.txt`))
	assert.Equal(t, "x.txt", SanitizeFilename("<b>x</b>.txt"))
	assert.Equal(t, "a & b.txt", SanitizeFilename("a & b.txt"))
	assert.Equal(t, "", SanitizeFilename(""))
	assert.Equal(t, "", SanitizeFilename("/"))
	assert.Equal(t, "ab.txt", SanitizeFilename("a\tb.txt"))
	assert.Len(t, []rune(SanitizeFilename(strings.Repeat("é", 300))), 255)
}

func TestRandomToken(t *testing.T) {
	a, err := RandomToken(32)
	assert.NoError(t, err)
	b, err := RandomToken(32)
	assert.NoError(t, err)
	assert.Len(t, a, 43)
	assert.NotEqual(t, a, b)
	assert.True(t, TokenEqual(a, a))
	assert.False(t, TokenEqual(a, b))
	assert.False(t, TokenEqual(a, ""))
}
