package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPosteriorSum(t *testing.T) {
	p := Posterior{PatternFirstDotLast: 0.6, PatternFLast: 0.4}
	assert.InDelta(t, 1.0, p.Sum(), 1e-9)
}

func TestPosteriorTop2(t *testing.T) {
	p := Posterior{
		PatternFirstDotLast: 0.5,
		PatternFLast:        0.3,
		PatternFirstLast:    0.2,
	}
	best, bestP, second, secondP := p.Top2()
	assert.Equal(t, PatternFirstDotLast, best)
	assert.Equal(t, 0.5, bestP)
	assert.Equal(t, PatternFLast, second)
	assert.Equal(t, 0.3, secondP)
}

func TestPosteriorTop2_TieBreaksByCanonicalOrder(t *testing.T) {
	// Equal probabilities resolve by canonical ordering, deterministically.
	p := Posterior{}
	for _, pat := range CanonicalPatterns {
		p[pat] = 0.125
	}
	best, _, second, _ := p.Top2()
	assert.Equal(t, PatternFirstDotLast, best)
	assert.Equal(t, PatternFLast, second)
}

func TestPosteriorTop2_UnknownPatternsSortLast(t *testing.T) {
	p := Posterior{
		PatternFirstDotLast: 0.4,
		Pattern("{weird}"):  0.4,
		PatternFLast:        0.2,
	}
	best, _, second, _ := p.Top2()
	assert.Equal(t, PatternFirstDotLast, best)
	assert.Equal(t, Pattern("{weird}"), second)
}
