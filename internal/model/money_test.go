package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromPounds(t *testing.T) {
	assert.Equal(t, Money(50000), FromPounds(500))
	assert.Equal(t, Money(0), FromPounds(0))
}

func TestMoneyArithmetic(t *testing.T) {
	a := FromPounds(500)
	b := FromPounds(800)

	assert.Equal(t, FromPounds(1300), a.Add(b))
	assert.Equal(t, FromPounds(300), b.Sub(a))
	assert.Equal(t, FromPounds(-300), a.Sub(b))
	assert.Equal(t, FromPounds(300), a.Sub(b).Neg())
	assert.Equal(t, FromPounds(300), a.Sub(b).Abs())
	assert.Equal(t, FromPounds(300), b.Sub(a).Abs())
}

func TestMoneyIsPositive(t *testing.T) {
	assert.True(t, Money(1).IsPositive())
	assert.False(t, Money(0).IsPositive())
	assert.False(t, Money(-1).IsPositive())
}

func TestMoneyString(t *testing.T) {
	assert.Equal(t, "EGP 500.00", FromPounds(500).String())
	assert.Equal(t, "EGP 12.50", Money(1250).String())
	assert.Equal(t, "EGP -12.50", Money(-1250).String())
	assert.Equal(t, "EGP 0.00", Money(0).String())
	assert.Equal(t, "EGP 0.05", Money(5).String())
}
