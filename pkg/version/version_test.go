package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShortReturnsVersion(t *testing.T) {
	assert.Equal(t, Version, Short())
}

func TestStringContainsBuildInfo(t *testing.T) {
	s := String()
	assert.True(t, strings.HasPrefix(s, "rankfuse "))
	assert.Contains(t, s, Commit)
	assert.Contains(t, s, GoVersion)
}

func TestGetInfo(t *testing.T) {
	info := GetInfo()
	assert.Equal(t, Version, info.Version)
	assert.NotEmpty(t, info.OS)
	assert.NotEmpty(t, info.Arch)
	assert.Equal(t, GoVersion, info.GoVersion)
}
