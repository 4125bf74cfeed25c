package mobilebackup2

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestItunesVersionFallsBackToDefault(t *testing.T) {
	assert.Equal(t, "10.0.1", itunesVersion(""))
	assert.Equal(t, "12.9.1", itunesVersion("12.9.1"))
}
