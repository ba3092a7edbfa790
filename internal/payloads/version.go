package payloads

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidVersion is returned for anything that is not a MAJOR.MINOR.PATCH triplet.
var ErrInvalidVersion = errors.New("invalid version")

// componentWidth is the number of decimal digits each version component is padded to
// before the triplet is packed into one integer.
const componentWidth = 3

// componentLimit is the first value that no longer fits in componentWidth digits.
const componentLimit = 1000

// Version is a parsed MAJOR.MINOR.PATCH triplet.
type Version struct {
	Major int
	Minor int
	Patch int
}

// ParseVersion parses a version such as "1.4.2". Surrounding whitespace is ignored.
func ParseVersion(s string) (Version, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) != 3 {
		return Version{}, fmt.Errorf("%w: %q must have exactly three components", ErrInvalidVersion, s)
	}

	var nums [3]int
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 || strings.HasPrefix(part, "+") {
			return Version{}, fmt.Errorf("%w: %q has a non-numeric component %q", ErrInvalidVersion, s, part)
		}
		if n >= componentLimit {
			return Version{}, fmt.Errorf("%w: %q component %d exceeds %d digits", ErrInvalidVersion, s, n, componentWidth)
		}
		nums[i] = n
	}

	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// Key packs the triplet into a single integer by concatenating the zero-padded
// components, so "1.10.0" (1010000) sorts after "1.9.0" (1009000).
func (v Version) Key() int {
	return (v.Major*componentLimit+v.Minor)*componentLimit + v.Patch
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// InRange reports whether version lies within [min, max], both inclusive.
func InRange(version, min, max string) (bool, error) {
	v, err := ParseVersion(version)
	if err != nil {
		return false, err
	}
	lo, err := ParseVersion(min)
	if err != nil {
		return false, err
	}
	hi, err := ParseVersion(max)
	if err != nil {
		return false, err
	}

	return lo.Key() <= v.Key() && v.Key() <= hi.Key(), nil
}
