package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetVersion(t *testing.T) {
	oldVersion, oldBuild, oldCommit := Version, BuildTime, GitCommit
	t.Cleanup(func() { Version, BuildTime, GitCommit = oldVersion, oldBuild, oldCommit })

	Version, BuildTime, GitCommit = "1.2.0", "2026-10-01", "0123456789abcdef"
	assert.Equal(t, "v1.2.0", GetShortVersion())

	full := GetVersion()
	assert.True(t, strings.HasPrefix(full, "v1.2.0 (built 2026-10-01) commit 01234567 "))

	GitCommit = "abc"
	assert.Contains(t, GetVersion(), "commit abc ")
}
