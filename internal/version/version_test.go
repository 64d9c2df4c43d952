package version

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCurrentNeverEmpty(t *testing.T) {
	b := Current()

	assert.Equal(t, GetVersion(), b.Version)
	assert.NotEmpty(t, b.Commit)
	assert.NotEmpty(t, b.Date)
	assert.Contains(t, b.String(), "foodoms version="+b.Version)
}

func TestWithVCSKeepsLinkerValues(t *testing.T) {
	settings := []debug.BuildSetting{
		{Key: "vcs.revision", Value: "abc123"},
		{Key: "vcs.time", Value: "2026-03-01T12:00:00Z"},
		{Key: "GOOS", Value: "linux"},
	}

	filled := Build{Version: "v1.0.0"}.withVCS(settings)
	assert.Equal(t, Build{Version: "v1.0.0", Commit: "abc123", Date: "2026-03-01T12:00:00Z"}, filled)

	pinned := Build{Version: "v1.0.0", Commit: "deadbeef"}.withVCS(settings)
	assert.Equal(t, "deadbeef", pinned.Commit)
	assert.Equal(t, "2026-03-01T12:00:00Z", pinned.Date)
}

func TestFields(t *testing.T) {
	fields := Build{Version: "v2", Commit: "c", Date: "d"}.Fields()

	assert.Equal(t, "v2", fields["version"])
	assert.Equal(t, "c", fields["commit"])
	assert.Equal(t, "d", fields["build_date"])
}
