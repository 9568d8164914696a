package vss

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestParsePath(t *testing.T) {
	p, err := ParsePath("Vehicle.Acceleration.Vertical")
	assert.Equal(t, err, nil)
	assert.Equal(t, p.String(), "Vehicle.Acceleration.Vertical")
	assert.Equal(t, p.IsWildcard(), false)
}

func TestParsePathWildcard(t *testing.T) {
	p, err := ParsePath("Vehicle.Acceleration.*")
	assert.Equal(t, err, nil)
	assert.Equal(t, p.IsWildcard(), true)
}

func TestParsePathRejectsEmpty(t *testing.T) {
	_, err := ParsePath("")
	assert.NotEqual(t, err, nil)
}

func TestParsePathRejectsConsecutiveDots(t *testing.T) {
	_, err := ParsePath("Vehicle..Speed")
	assert.NotEqual(t, err, nil)
	assert.Equal(t, KindOf(err), KindMalformedPath)
}

func TestParsePathRejectsInvalidChars(t *testing.T) {
	_, err := ParsePath("Vehicle.Sp@ed")
	assert.NotEqual(t, err, nil)
}

func TestPathAppend(t *testing.T) {
	p := MustParsePath("Vehicle")
	child := p.Append("Speed")
	assert.Equal(t, child.String(), "Vehicle.Speed")
	assert.Equal(t, p.String(), "Vehicle")
}
