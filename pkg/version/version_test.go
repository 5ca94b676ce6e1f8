package version

import (
	"testing"

	"github.com/docker/docker/pkg/parsers/kernel"
	"gotest.tools/v3/assert"
)

func TestDetectParsesBuild(t *testing.T) {
	v, err := Detect()
	assert.NilError(t, err)
	assert.Equal(t, v.Kernel, 2)
	assert.Equal(t, v.Major, 1)
	assert.Equal(t, v.Minor, 0)
}

func TestSupportsGatesByVersion(t *testing.T) {
	old := kernel.VersionInfo{Kernel: 1, Major: 0, Minor: 0}
	assert.Assert(t, Supports(old, FeatureSequencedDedup))
	assert.Assert(t, !Supports(old, FeatureNack))

	current := kernel.VersionInfo{Kernel: 2, Major: 1, Minor: 0}
	assert.Assert(t, Supports(current, FeatureNack))
}

func TestSupportsStringParsesRawPeerBuild(t *testing.T) {
	assert.Assert(t, SupportsString("2.1.0", FeatureNack))
	assert.Assert(t, !SupportsString("1.0.0", FeatureNack))
	assert.Assert(t, !SupportsString("not-a-version", FeatureNack))
}
