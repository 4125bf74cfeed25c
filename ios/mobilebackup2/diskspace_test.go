package mobilebackup2

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFreeDiskSpaceReportsPositiveBytes(t *testing.T) {
	free, err := freeDiskSpace(os.TempDir())
	assert.NoError(t, err)
	assert.Greater(t, free, uint64(0))
}
