package features

import (
	"context"
	"fmt"
	"sort"
	"strings"

	dcxerrors "github.com/devcontainers/cli-sub000/internal/errors"
	"github.com/devcontainers/cli-sub000/internal/lockfile"
)

// LockMode selects the behavior of PlanLockfile (§4.E).
type LockMode string

const (
	// LockModeWrite adds new entries and prunes stale ones, taking
	// integrity from the fresh fetch results.
	LockModeWrite LockMode = "write"
	// LockModeFrozen never writes: any disagreement between the resolved
	// graph and the existing lockfile is a fatal LockfileMismatch.
	LockModeFrozen LockMode = "frozen"
)

// GenerateLockfile creates a lockfile from resolved features.
// Local features (./path) are excluded per the devcontainer specification.
func GenerateLockfile(features []*Feature) *lockfile.Lockfile {
	lf := lockfile.New()

	for _, f := range features {
		// Skip local features per spec
		if f.Ref.Type == RefTypeLocal {
			continue
		}

		// Skip features without integrity info (shouldn't happen but be safe)
		if f.Integrity == "" {
			continue
		}

		normalizedID := lockfile.NormalizeFeatureID(f.ID)

		var resolved string
		switch f.Ref.Type {
		case RefTypeOCI:
			// Format: registry/repository/resource@sha256:...
			if f.ManifestDigest != "" {
				resolved = fmt.Sprintf("%s/%s/%s@%s",
					f.Ref.Registry, f.Ref.Repository,
					f.Ref.Resource, f.ManifestDigest)
			} else {
				// Fallback to version tag if no digest
				resolved = fmt.Sprintf("%s/%s/%s:%s",
					f.Ref.Registry, f.Ref.Repository,
					f.Ref.Resource, f.Ref.Version)
			}
		case RefTypeHTTP:
			// For HTTP tarballs, use the URL as resolved
			resolved = f.Ref.URL
		}

		// Extract version from metadata
		version := ""
		if f.Metadata != nil {
			version = f.Metadata.Version
		}

		// Extract dependencies
		var dependsOn []string
		if f.Metadata != nil && len(f.Metadata.DependsOn) > 0 {
			dependsOn = extractDependencies(f.Metadata.DependsOn)
		}

		lf.Set(normalizedID, lockfile.LockedFeature{
			Version:   version,
			Resolved:  resolved,
			Integrity: f.Integrity,
			DependsOn: dependsOn,
		})
	}

	return lf
}

// extractDependencies normalizes a feature's hard dependency IDs for lockfile storage.
func extractDependencies(dependsOn []string) []string {
	if len(dependsOn) == 0 {
		return nil
	}

	deps := make([]string, 0, len(dependsOn))
	for _, id := range dependsOn {
		deps = append(deps, strings.ToLower(id))
	}

	// Sort for consistent output
	sort.Strings(deps)
	return deps
}

// PlanLockfile computes the lockfile to use for the resolved feature graph
// under the given mode (§4.E).
//
//   - write: a fresh lockfile is built from resolved, so stale entries
//     (features no longer referenced) are pruned and integrity always
//     reflects the latest fetch.
//   - frozen: existing must be present and every resolved node must agree
//     with its existing entry on version and integrity (the resolved
//     reference is not compared); on any
//     disagreement (or a missing lockfile) PlanLockfile returns a
//     LockfileMismatch error and never produces a lockfile to write.
func PlanLockfile(resolved []*Feature, existing *lockfile.Lockfile, mode LockMode) (*lockfile.Lockfile, []LockfileMismatch, error) {
	if mode == LockModeFrozen {
		if existing == nil {
			return nil, nil, dcxerrors.LockfileMismatch([]string{"no lockfile present"})
		}
		mismatches := VerifyLockfile(resolved, existing)
		if IsOutdated(mismatches) {
			details := make([]string, 0, len(mismatches))
			for _, m := range mismatches {
				details = append(details, fmt.Sprintf("%s: %s", m.FeatureID, m.Message))
			}
			return nil, mismatches, dcxerrors.LockfileMismatch(details)
		}
		return existing, nil, nil
	}

	mismatches := VerifyLockfile(resolved, existing)
	return GenerateLockfile(resolved), mismatches, nil
}

// OutdatedEntry reports one feature's version standing against its
// registry's published tags (§4.E outdated).
type OutdatedEntry struct {
	FeatureID   string
	Current     string // locked version
	Wanted      string // highest tag matching the declared constraint
	WantedMajor string // major component of Wanted
	Latest      string // highest tag published, regardless of constraint
	LatestMajor string // major component of Latest
}

// Outdated reports, for every resolved OCI feature, how its locked version
// compares to what's published in the registry. Current is empty for a
// feature the lockfile has no entry for.
func Outdated(ctx context.Context, resolver *Resolver, resolved []*Feature, lf *lockfile.Lockfile) ([]OutdatedEntry, error) {
	var entries []OutdatedEntry

	for _, f := range resolved {
		if f.Ref.Type != RefTypeOCI {
			continue
		}

		current := ""
		if lf != nil {
			if locked, ok := lf.Get(f.ID); ok {
				current = locked.Version
			}
		}

		tags, err := resolver.listTags(ctx, f.Ref)
		if err != nil {
			return nil, fmt.Errorf("failed to list tags for %s: %w", f.ID, err)
		}

		wanted := highestMatchingTag(tags, f.Ref.Version)
		latest := highestTag(tags)

		entries = append(entries, OutdatedEntry{
			FeatureID:   f.ID,
			Current:     current,
			Wanted:      wanted,
			WantedMajor: majorComponent(wanted),
			Latest:      latest,
			LatestMajor: majorComponent(latest),
		})
	}

	return entries, nil
}

// highestMatchingTag returns the highest tag whose dotted-numeric prefix
// matches constraint, or "" if none match.
func highestMatchingTag(tags []string, constraint string) string {
	best := ""
	for _, tag := range tags {
		if !semverHasPrefix(tag, constraint) {
			continue
		}
		if best == "" || semverLess(best, tag) {
			best = tag
		}
	}
	return best
}

// highestTag returns the highest full-semver tag in tags, or "" if none
// parse as one.
func highestTag(tags []string) string {
	best := ""
	for _, tag := range tags {
		if !isFullSemver(tag) {
			continue
		}
		if best == "" || semverLess(best, tag) {
			best = tag
		}
	}
	return best
}

// majorComponent returns the leading dotted component of a version string.
func majorComponent(version string) string {
	if version == "" {
		return ""
	}
	if idx := strings.Index(version, "."); idx != -1 {
		return version[:idx]
	}
	return version
}

// UpgradeFeatureVersion rewrites featureID's declared version to
// targetVersion within featuresConfig (§4.E upgrade with a single
// --feature/--target-version selector), returning the mutated map. The
// caller re-resolves against the mutated config and replans the lockfile.
func UpgradeFeatureVersion(featuresConfig map[string]interface{}, featureID, targetVersion string) (map[string]interface{}, error) {
	ref, err := ParseFeatureRef(featureID)
	if err != nil {
		return nil, fmt.Errorf("invalid feature id %q: %w", featureID, err)
	}
	if ref.Type != RefTypeOCI {
		return nil, fmt.Errorf("upgrade only supports OCI features, got %s", ref.Type)
	}

	optionsRaw, ok := featuresConfig[featureID]
	if !ok {
		return nil, fmt.Errorf("feature %q not found in configuration", featureID)
	}

	newID := fmt.Sprintf("%s/%s/%s:%s", ref.Registry, ref.Repository, ref.Resource, targetVersion)

	mutated := make(map[string]interface{}, len(featuresConfig))
	for id, opts := range featuresConfig {
		if id == featureID {
			continue
		}
		mutated[id] = opts
	}
	mutated[newID] = optionsRaw

	return mutated, nil
}

// VerifyLockfile compares resolved features against an existing lockfile.
// Returns a list of mismatches if any.
func VerifyLockfile(features []*Feature, lf *lockfile.Lockfile) []LockfileMismatch {
	if lf == nil {
		return nil
	}

	var mismatches []LockfileMismatch

	// Check each feature against lockfile
	for _, f := range features {
		// Skip local features
		if f.Ref.Type == RefTypeLocal {
			continue
		}

		normalizedID := lockfile.NormalizeFeatureID(f.ID)
		locked, ok := lf.Get(normalizedID)

		if !ok {
			mismatches = append(mismatches, LockfileMismatch{
				FeatureID: f.ID,
				Type:      MismatchMissing,
				Message:   fmt.Sprintf("feature %s not found in lockfile", f.ID),
			})
			continue
		}

		// Check version
		version := ""
		if f.Metadata != nil {
			version = f.Metadata.Version
		}
		if version != "" && locked.Version != "" && version != locked.Version {
			mismatches = append(mismatches, LockfileMismatch{
				FeatureID: f.ID,
				Type:      MismatchVersion,
				Message:   fmt.Sprintf("version mismatch: lockfile has %s, resolved %s", locked.Version, version),
			})
		}

		// Check integrity
		if f.Integrity != "" && locked.Integrity != "" && f.Integrity != locked.Integrity {
			mismatches = append(mismatches, LockfileMismatch{
				FeatureID: f.ID,
				Type:      MismatchIntegrity,
				Message:   fmt.Sprintf("integrity mismatch: lockfile has %s, resolved %s", locked.Integrity, f.Integrity),
			})
		}
	}

	// Check for features in lockfile that aren't in resolved features
	for id := range lf.Features {
		found := false
		for _, f := range features {
			if f.Ref.Type == RefTypeLocal {
				continue
			}
			if lockfile.NormalizeFeatureID(f.ID) == id {
				found = true
				break
			}
		}
		if !found {
			mismatches = append(mismatches, LockfileMismatch{
				FeatureID: id,
				Type:      MismatchExtra,
				Message:   fmt.Sprintf("feature %s in lockfile but not in devcontainer.json", id),
			})
		}
	}

	return mismatches
}

// LockfileMismatch represents a mismatch between lockfile and resolved features.
type LockfileMismatch struct {
	FeatureID string
	Type      MismatchType
	Message   string
}

// MismatchType indicates the type of lockfile mismatch.
type MismatchType string

const (
	MismatchMissing   MismatchType = "missing"   // Feature not in lockfile
	MismatchExtra     MismatchType = "extra"     // Feature in lockfile but not resolved
	MismatchVersion   MismatchType = "version"   // Version mismatch
	MismatchIntegrity MismatchType = "integrity" // Integrity mismatch
)

// IsOutdated returns true if there are any mismatches.
func IsOutdated(mismatches []LockfileMismatch) bool {
	return len(mismatches) > 0
}

// NeedsUpdate returns true if the lockfile needs to be updated.
// This is true if there are missing or extra features, or version/integrity mismatches.
func NeedsUpdate(mismatches []LockfileMismatch) bool {
	for _, m := range mismatches {
		switch m.Type {
		case MismatchMissing, MismatchExtra, MismatchVersion, MismatchIntegrity:
			return true
		}
	}
	return false
}
