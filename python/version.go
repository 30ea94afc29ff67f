package python

import (
	"fmt"
	"strconv"
	"strings"
)

// Version identifies a python runtime by its major and minor release.
type Version struct {
	Major int
	Minor int
}

// MinVersion is the oldest runtime the bundled analysis server supports.
var MinVersion = Version{Major: 3, Minor: 7}

// AtLeast reports whether v is the same release as other or newer.
func (v Version) AtLeast(other Version) bool {
	if v.Major != other.Major {
		return v.Major > other.Major
	}
	return v.Minor >= other.Minor
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// ParseVersion reads a "major.minor" pair from probe output. Trailing
// components such as the patch level are ignored.
func ParseVersion(s string) (Version, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ".", 3)
	if len(parts) < 2 {
		return Version{}, fmt.Errorf("version %q is not a major.minor pair", s)
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return Version{}, fmt.Errorf("version %q has a bad major component: %w", s, err)
	}
	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return Version{}, fmt.Errorf("version %q has a bad minor component: %w", s, err)
	}
	return Version{Major: major, Minor: minor}, nil
}
