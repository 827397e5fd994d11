package protocol

import (
	"fmt"

	"github.com/hashicorp/go-version"
)

// Protocol versioning constants
const (
	CurrentVersion       = "2.0.0"
	MinCompatibleVersion = "2.0.0"
)

// IsCompatible reports whether peerVersion is at least minVersion
func IsCompatible(peerVersion, minVersion string) (bool, error) {
	v, err := version.NewVersion(peerVersion)
	if err != nil {
		return false, fmt.Errorf("invalid version string %q: %w", peerVersion, err)
	}
	min, err := version.NewVersion(minVersion)
	if err != nil {
		return false, fmt.Errorf("invalid minimum version %q: %w", minVersion, err)
	}
	return !v.LessThan(min), nil
}
