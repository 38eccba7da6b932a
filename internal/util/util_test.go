package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeCountry(t *testing.T) {
	for raw, want := range map[string]string{
		"de":   "DE",
		" GB ": "GB",
		"us":   "US",
	} {
		got, ok := NormalizeCountry(raw)
		assert.True(t, ok, raw)
		assert.Equal(t, want, got)
	}

	for _, raw := range []string{"", "XX", "DEU", "germany"} {
		_, ok := NormalizeCountry(raw)
		assert.False(t, ok, raw)
	}
}

func TestNewID(t *testing.T) {
	id := NewID("merch")
	assert.True(t, strings.HasPrefix(id, "merch_"))
	assert.Len(t, id, len("merch_")+24)
	assert.NotEqual(t, id, NewID("merch"))
}

func TestNewULID(t *testing.T) {
	a, b := NewULID(), NewULID()
	assert.Len(t, a, 26)
	assert.NotEqual(t, a, b)
}
