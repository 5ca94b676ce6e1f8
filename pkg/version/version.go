// Package version identifies this build of HellfireOS-Go and decides,
// given a peer node's reported version, which NoC protocol features that
// peer can be assumed to understand.
//
// This is the same shape as a host-kernel-version ladder gating which
// tcp_info fields are safe to read, generalized from "is the Linux host
// at least vX.Y.Z" to "is the simulated HellfireOS node itself at least
// vX.Y.Z, and which NoC features (e.g. NACK support) does that imply."
package version

import (
	"fmt"

	"github.com/docker/docker/pkg/parsers/kernel"
)

// Build is this build's HellfireOS version string, the port of the
// original's compile-time KERN_VER macro (see original_source's
// print_config(), which logs "HellfireOS %s").
const Build = "2.1.0"

// Feature is a NoC protocol capability that was introduced at a specific
// node version.
type Feature int

const (
	// FeatureNack is the ability to reply with an explicit NACK frame
	// when a reassembly buffer is full, instead of silently dropping
	// frames. Introduced at 2.0.0.
	FeatureNack Feature = iota
	// FeatureSequencedDedup is duplicate-ACK discarding by sequence
	// number for at-most-once delivery. Present since 1.0.0, the first
	// version with sendack/recvack at all.
	FeatureSequencedDedup
)

var featureMinVersion = map[Feature]kernel.VersionInfo{
	FeatureNack:           {Kernel: 2, Major: 0, Minor: 0},
	FeatureSequencedDedup: {Kernel: 1, Major: 0, Minor: 0},
}

// ParseVersion parses a HellfireOS-Go build string (the same shape as
// Build) into a structured VersionInfo.
func ParseVersion(build string) (*kernel.VersionInfo, error) {
	v, err := kernel.ParseRelease(build)
	if err != nil {
		return nil, fmt.Errorf("version: parsing build %q: %w", build, err)
	}
	return v, nil
}

// Detect parses Build into a structured VersionInfo.
func Detect() (*kernel.VersionInfo, error) {
	return ParseVersion(Build)
}

// Supports reports whether a peer at version peer implements feature,
// by comparing against the version the feature was introduced in.
func Supports(peer kernel.VersionInfo, feature Feature) bool {
	min, ok := featureMinVersion[feature]
	if !ok {
		return false
	}
	return kernel.CompareKernelVersion(peer, min) >= 0
}

// SupportsString is Supports for a peer version received as a raw
// build string off the wire (a handshake frame's Version field), the
// form pkg/noc actually has on hand when deciding whether a peer
// understands a given NoC protocol feature. An unparsable peerBuild is
// treated as not supporting feature, the same fail-closed stance
// Supports takes for an unknown Feature.
func SupportsString(peerBuild string, feature Feature) bool {
	peer, err := ParseVersion(peerBuild)
	if err != nil {
		return false
	}
	return Supports(*peer, feature)
}
