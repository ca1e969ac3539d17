package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDomainBudget_StartsFull(t *testing.T) {
	b := newDomainBudget(2, 24*time.Hour)

	assert.True(t, b.Allow("acme.com"))
	assert.True(t, b.Allow("acme.com"))
	assert.False(t, b.Allow("acme.com"))
}

func TestDomainBudget_PerDomainIsolation(t *testing.T) {
	b := newDomainBudget(1, 24*time.Hour)

	assert.True(t, b.Allow("acme.com"))
	assert.False(t, b.Allow("acme.com"))
	assert.True(t, b.Allow("other.com"))
}

func TestDomainBudget_GuardsDegenerateInputs(t *testing.T) {
	b := newDomainBudget(0, 0)
	assert.True(t, b.Allow("acme.com"))
	assert.False(t, b.Allow("acme.com"))
}
