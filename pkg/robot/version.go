package robot

import (
	"fmt"
	"regexp"
	"strconv"
)

// Version is the software version reported by the actuator controller.
type Version struct {
	Major  int `json:"major"`
	Minor  int `json:"minor"`
	Bugfix int `json:"bugfix"`
	Build  int `json:"build"`
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", v.Major, v.Minor, v.Bugfix, v.Build)
}

// AtLeast reports whether v is the given major.minor or newer.
func (v Version) AtLeast(major, minor int) bool {
	if v.Major != major {
		return v.Major > major
	}
	return v.Minor >= minor
}

// SupportsGainScaling reports whether force mode takes a gain scaling
// argument on this controller.
func (v Version) SupportsGainScaling() bool {
	return v.AtLeast(GainScalingMinMajor, 0)
}

var versionPattern = regexp.MustCompile(`(\d+)\.(\d+)(?:\.(\d+))?(?:\.(\d+))?`)

// ParseVersion extracts the first dotted version number from s, e.g.
// "URSoftware 5.11.1.108318 (Mar 22 2021)".
func ParseVersion(s string) (Version, error) {
	m := versionPattern.FindStringSubmatch(s)
	if m == nil {
		return Version{}, fmt.Errorf("no version number in %q", s)
	}
	parts := make([]int, 4)
	for i := range parts {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return Version{}, fmt.Errorf("parse version %q: %w", s, err)
		}
		parts[i] = n
	}
	return Version{Major: parts[0], Minor: parts[1], Bugfix: parts[2], Build: parts[3]}, nil
}
