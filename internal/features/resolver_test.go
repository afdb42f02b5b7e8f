package features

import "testing"

func TestComputeCanonicalDigest(t *testing.T) {
	manifestStr, digest, err := computeCanonicalDigest(
		"sha256:b2006e3d5a3e8b6d8e4b7e8d3f5a6b8d3e4f5a6b8d3e4f5a6b8d3e4f5a6b4c5",
		15872,
		"go.tgz",
	)
	if err != nil {
		t.Fatalf("computeCanonicalDigest returned error: %v", err)
	}
	if manifestStr == "" {
		t.Fatal("computeCanonicalDigest returned empty manifest string")
	}
	if digest == "" {
		t.Fatal("computeCanonicalDigest returned empty digest")
	}

	// Re-running with identical inputs must be bit-identical.
	manifestStr2, digest2, err := computeCanonicalDigest(
		"sha256:b2006e3d5a3e8b6d8e4b7e8d3f5a6b8d3e4f5a6b8d3e4f5a6b8d3e4f5a6b4c5",
		15872,
		"go.tgz",
	)
	if err != nil {
		t.Fatalf("computeCanonicalDigest returned error on second call: %v", err)
	}
	if manifestStr != manifestStr2 || digest != digest2 {
		t.Fatal("computeCanonicalDigest is not deterministic across identical calls")
	}
}

func TestSemverHelpers(t *testing.T) {
	if !isFullSemver("1.2.3") {
		t.Error("expected 1.2.3 to be a full semver")
	}
	if isFullSemver("1") {
		t.Error("expected 1 to not be a full semver")
	}
	if !semverHasPrefix("1.4.2", "1") {
		t.Error("expected 1.4.2 to match prefix 1")
	}
	if !semverHasPrefix("1.4.2", "1.4") {
		t.Error("expected 1.4.2 to match prefix 1.4")
	}
	if semverHasPrefix("2.0.0", "1") {
		t.Error("expected 2.0.0 to not match prefix 1")
	}
	if !semverLess("1.2.0", "1.10.0") {
		t.Error("expected 1.2.0 < 1.10.0 numerically, not lexically")
	}
}

func TestExtractDigestFromResolved(t *testing.T) {
	tests := []struct {
		name     string
		resolved string
		expected string
	}{
		{
			name:     "OCI with sha256 digest",
			resolved: "ghcr.io/devcontainers/features/common-utils@sha256:abc123def456",
			expected: "sha256:abc123def456",
		},
		{
			name:     "OCI with full digest",
			resolved: "ghcr.io/devcontainers/features/go@sha256:1234567890abcdef1234567890abcdef1234567890abcdef1234567890abcdef",
			expected: "sha256:1234567890abcdef1234567890abcdef1234567890abcdef1234567890abcdef",
		},
		{
			name:     "OCI without digest (tag reference)",
			resolved: "ghcr.io/devcontainers/features/common-utils:1.0.0",
			expected: "",
		},
		{
			name:     "HTTP URL (no digest)",
			resolved: "https://example.com/feature.tgz",
			expected: "",
		},
		{
			name:     "empty string",
			resolved: "",
			expected: "",
		},
		{
			name:     "sha384 digest",
			resolved: "registry.io/repo/feature@sha384:abc123",
			expected: "sha384:abc123",
		},
		{
			name:     "sha512 digest",
			resolved: "registry.io/repo/feature@sha512:abc123",
			expected: "sha512:abc123",
		},
		{
			name:     "invalid digest format",
			resolved: "registry.io/repo/feature@invalid:abc123",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := extractDigestFromResolved(tt.resolved)
			if result != tt.expected {
				t.Errorf("extractDigestFromResolved(%q) = %q, want %q", tt.resolved, result, tt.expected)
			}
		})
	}
}
