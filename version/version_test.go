package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShort(t *testing.T) {
	assert.Equal(t, "abc1234", Info{CommitHash: "abc1234def5678"}.Short())
	assert.Equal(t, "dev", Info{CommitHash: "dev"}.Short())
}

func TestGetUsesLinkerValues(t *testing.T) {
	old := CommitHash
	CommitHash = "0123456789abcdef"
	t.Cleanup(func() { CommitHash = old })

	info := Get()
	assert.Equal(t, "0123456789abcdef", info.CommitHash)
	assert.Contains(t, info.String(), "commit 0123456")
	assert.NotEmpty(t, info.GoVersion)
	assert.Contains(t, info.Platform, "/")
}
