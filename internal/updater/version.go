package updater

import (
	"errors"
	"strings"

	"golang.org/x/mod/semver"
)

// ErrDowngrade is returned when the channel offers an older release than the
// running one and the caller did not allow downgrades.
var ErrDowngrade = errors.New("channel offers an older release")

// canonicalVersion returns v as "vMAJOR.MINOR.PATCH[-pre]", or "" when v is not
// a semantic version. A missing leading "v" is accepted.
func canonicalVersion(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return semver.Canonical(v)
}

// sameVersion reports whether a and b name the same release. Non-semver
// strings such as "dev" only match themselves.
func sameVersion(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	ca := canonicalVersion(a)
	return ca != "" && ca == canonicalVersion(b)
}

// isDowngrade reports whether target is older than current. It is false
// whenever either side is not a semantic version.
func isDowngrade(current, target string) bool {
	cc, ct := canonicalVersion(current), canonicalVersion(target)
	if cc == "" || ct == "" {
		return false
	}
	return semver.Compare(ct, cc) < 0
}
