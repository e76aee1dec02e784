package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCmd(t *testing.T) {
	testEnv(t)
	buf := captureOutput(t)

	buildVersion, buildCommit, buildDate = "1.2.3", "abc123", "2026-10-18"
	t.Cleanup(func() { buildVersion, buildCommit, buildDate = "dev", "none", "unknown" })

	require.NoError(t, versionCmd.RunE(versionCmd, nil))
	assert.Equal(t, "bullseye 1.2.3 (commit abc123, built 2026-10-18)\n", buf.String())
}
