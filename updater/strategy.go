package updater

import (
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"
)

// UpdateStrategy defines how candidate tags are compared and constrained
type UpdateStrategy int

const (
	// StrategySemVer orders tags by semantic version (the default)
	StrategySemVer UpdateStrategy = 0
	// StrategyAlphabetical orders tags by name
	StrategyAlphabetical UpdateStrategy = 1
	// StrategyNone performs no ordering or constraint filtering
	StrategyNone UpdateStrategy = 2
)

func (us UpdateStrategy) String() string {
	switch us {
	case StrategySemVer:
		return "semver"
	case StrategyAlphabetical:
		return "alphabetical"
	case StrategyNone:
		return "none"
	}
	return "unknown"
}

// ParseStrategy maps a strategy name to an UpdateStrategy
func ParseStrategy(s string) (UpdateStrategy, error) {
	switch s {
	case "", "semver":
		return StrategySemVer, nil
	case "alphabetical":
		return StrategyAlphabetical, nil
	case "none":
		return StrategyNone, nil
	default:
		return StrategyNone, fmt.Errorf("unknown update strategy: %q", s)
	}
}

// VersionConstraint defines a constraint for admitting candidate tags
type VersionConstraint struct {
	// Constraint is a semver range such as "^1.0" or "~2.1"; empty admits all
	Constraint string
	Strategy   UpdateStrategy
}

// Permits reports whether tagName satisfies the constraint. Non-semver tags
// are rejected under StrategySemVer when a constraint is set.
func (vc *VersionConstraint) Permits(tagName string) (bool, error) {
	if vc.Strategy != StrategySemVer || vc.Constraint == "" {
		return true, nil
	}
	c, err := semver.NewConstraint(vc.Constraint)
	if err != nil {
		return false, fmt.Errorf("invalid version constraint %q: %w", vc.Constraint, err)
	}
	v, err := semver.NewVersion(tagName)
	if err != nil {
		return false, nil
	}
	return c.Check(v), nil
}

// NewestAllowed returns the newest tag from tagList that the constraint
// permits, according to the strategy's ordering. Returns the empty string when
// no tag qualifies.
func (vc *VersionConstraint) NewestAllowed(tagList []string) (string, error) {
	switch vc.Strategy {
	case StrategySemVer:
		var versions semver.Collection
		byVersion := map[string]string{}
		for _, t := range tagList {
			ok, err := vc.Permits(t)
			if err != nil {
				return "", err
			}
			if !ok {
				continue
			}
			v, err := semver.NewVersion(t)
			if err != nil {
				continue
			}
			versions = append(versions, v)
			byVersion[v.String()] = t
		}
		if len(versions) == 0 {
			return "", nil
		}
		sort.Sort(versions)
		return byVersion[versions[len(versions)-1].String()], nil
	case StrategyAlphabetical:
		if len(tagList) == 0 {
			return "", nil
		}
		sorted := append([]string(nil), tagList...)
		sort.Strings(sorted)
		return sorted[len(sorted)-1], nil
	default:
		if len(tagList) == 0 {
			return "", nil
		}
		return tagList[len(tagList)-1], nil
	}
}
