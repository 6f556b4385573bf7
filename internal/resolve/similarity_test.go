package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimilarity_Reflexive(t *testing.T) {
	for _, s := range []string{"", "a", "prince-edward-island", "doe-john"} {
		assert.Equal(t, 1.0, Similarity(s, s), s)
	}
}

func TestSimilarity_Symmetric(t *testing.T) {
	pairs := [][2]string{
		{"martha", "marhta"},
		{"ontario", "ontaro"},
		{"doe-john", "john-doe"},
		{"quebec", "nova-scotia"},
		{"a", "abcdefgh"},
		{"", "x"},
	}
	for _, p := range pairs {
		assert.Equal(t, Similarity(p[0], p[1]), Similarity(p[1], p[0]), p)
	}
}

func TestSimilarity_Bounded(t *testing.T) {
	pairs := [][2]string{
		{"martha", "marhta"},
		{"abc", "xyz"},
		{"ontario", "ontaro"},
		{"british-columbia", "bc"},
	}
	for _, p := range pairs {
		s := Similarity(p[0], p[1])
		assert.GreaterOrEqual(t, s, 0.0, p)
		assert.LessOrEqual(t, s, 1.0, p)
	}
}

func TestSimilarity_Values(t *testing.T) {
	assert.Equal(t, 0.0, Similarity("abc", "xyz"))
	assert.Equal(t, 0.0, Similarity("", "abc"))
	assert.InDelta(t, 0.944, Similarity("martha", "marhta"), 0.001)
	assert.Greater(t, Similarity("ontario", "ontaro"), 0.9)
	assert.Less(t, Similarity("ontario", "ontaro"), 0.999)
}
