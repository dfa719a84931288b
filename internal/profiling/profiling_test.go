package profiling

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitProfilingDisabledByDefault(t *testing.T) {
	t.Setenv("PYROSCOPE_PROFILING_ENABLED", "")
	stop, err := InitProfiling("shuttled")
	require.NoError(t, err)
	stop()
}

func TestIsTrue(t *testing.T) {
	for _, s := range []string{"true", "1", "YES", " on "} {
		assert.True(t, isTrue(s), s)
	}
	for _, s := range []string{"", "false", "0", "nope"} {
		assert.False(t, isTrue(s), s)
	}
}
