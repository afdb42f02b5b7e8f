package features

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	digest "github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/devcontainers/cli-sub000/internal/lockfile"
)

// httpClient is the HTTP client with timeout for registry requests.
var httpClient = &http.Client{
	Timeout: 30 * time.Second,
}

// Resolver handles feature resolution and caching.
type Resolver struct {
	cacheDir  string
	configDir string
	forcePull bool

	tokenCacheMu sync.Mutex
	tokenCache   map[string]cachedToken
}

// cachedToken remembers a bearer token issued by a registry's token
// endpoint along with the expiry parsed from its JWT claims, so repeated
// feature fetches against the same registry within a run don't each pay
// for a fresh auth round trip.
type cachedToken struct {
	token     string
	expiresAt time.Time
}

// DigestInfo holds digest information for a resolved feature.
type DigestInfo struct {
	ManifestDigest string `json:"manifest_digest,omitempty"` // OCI manifest digest
	Integrity      string `json:"integrity"`                 // Tarball SHA256 hash
}

const digestFileName = ".dcx-integrity"

// Canonical OCI feature manifest constants (spec §3 manifest schema).
const (
	featureManifestMediaType = "application/vnd.oci.image.manifest.v1+json"
	featureConfigMediaType   = "application/vnd.devcontainers"
	featureLayerMediaType    = "application/vnd.devcontainers.layer.v1+tar"
	// emptyConfigDigest is the sha256 of "{}", the placeholder config blob
	// every feature manifest points at since features carry no real
	// runtime config.
	emptyConfigDigest = "sha256:44136fa355b3678a1146ad16f7e8649e94fb4fc21fe77e8310c060f61caaff8a"
)

// canonicalConfig is the manifest's config descriptor in canonical field order.
type canonicalConfig struct {
	MediaType string `json:"mediaType"`
	Digest    string `json:"digest"`
	Size      int64  `json:"size"`
}

// canonicalLayer is a manifest layer descriptor in canonical field order.
type canonicalLayer struct {
	MediaType   string            `json:"mediaType"`
	Digest      string            `json:"digest"`
	Size        int64             `json:"size"`
	Annotations map[string]string `json:"annotations"`
}

// canonicalManifest is the OCI feature manifest in its exact, bit-reproducible
// field order: schemaVersion, mediaType, config, layers.
type canonicalManifest struct {
	SchemaVersion int              `json:"schemaVersion"`
	MediaType     string           `json:"mediaType"`
	Config        canonicalConfig  `json:"config"`
	Layers        []canonicalLayer `json:"layers"`
}

// computeCanonicalDigest rebuilds a single-layer feature manifest in its
// canonical, minimum-whitespace JSON form and returns both the exact
// serialized string and its sha256 digest. Because the serialization order
// and whitespace are fixed, this is reproducible bit-for-bit regardless of
// how the source registry chose to format the manifest it served.
func computeCanonicalDigest(layerDigest string, layerSize int64, title string) (string, string, error) {
	manifest := canonicalManifest{
		SchemaVersion: 2,
		MediaType:     featureManifestMediaType,
		Config: canonicalConfig{
			MediaType: featureConfigMediaType,
			Digest:    emptyConfigDigest,
			Size:      0,
		},
		Layers: []canonicalLayer{
			{
				MediaType: featureLayerMediaType,
				Digest:    layerDigest,
				Size:      layerSize,
				Annotations: map[string]string{
					"org.opencontainers.image.title": title,
				},
			},
		},
	}

	manifestBytes, err := json.Marshal(manifest)
	if err != nil {
		return "", "", fmt.Errorf("failed to serialize canonical manifest: %w", err)
	}

	return string(manifestBytes), digest.FromBytes(manifestBytes).String(), nil
}

// computeIntegrity computes the SHA256 integrity hash of data.
// Returns format: "sha256:hexstring"
func computeIntegrity(data []byte) string {
	return digest.FromBytes(data).String()
}

// saveDigestInfo saves digest information to the cache directory.
func saveDigestInfo(cachePath string, info DigestInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cachePath, digestFileName), data, 0644)
}

// loadDigestInfo loads digest information from the cache directory.
func loadDigestInfo(cachePath string) (*DigestInfo, error) {
	data, err := os.ReadFile(filepath.Join(cachePath, digestFileName))
	if err != nil {
		return nil, err
	}
	var info DigestInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// verifyIntegrity verifies that data matches the expected integrity hash.
func verifyIntegrity(data []byte, expected string) error {
	if expected == "" {
		return nil // No expected integrity, skip verification
	}
	actual := computeIntegrity(data)
	if actual != expected {
		return fmt.Errorf("integrity mismatch: expected %s, got %s", expected, actual)
	}
	return nil
}

// extractDigestFromResolved extracts the manifest digest from a lockfile resolved field.
// The resolved field format is: registry/repository/resource@sha256:...
// Returns empty string if no digest is present (e.g., for tarball URLs or tag references).
func extractDigestFromResolved(resolved string) string {
	if resolved == "" {
		return ""
	}
	// Look for @sha256: or @sha384: or @sha512: pattern
	atIndex := strings.LastIndex(resolved, "@")
	if atIndex == -1 {
		return ""
	}
	digest := resolved[atIndex+1:]
	// Validate it looks like a digest (starts with sha256:, sha384:, or sha512:)
	if strings.HasPrefix(digest, "sha256:") ||
		strings.HasPrefix(digest, "sha384:") ||
		strings.HasPrefix(digest, "sha512:") {
		return digest
	}
	return ""
}

// NewResolver creates a new feature resolver.
func NewResolver(configDir string) (*Resolver, error) {
	// Determine cache directory
	cacheDir, err := getCacheDir()
	if err != nil {
		return nil, fmt.Errorf("failed to determine cache directory: %w", err)
	}

	return &Resolver{
		cacheDir:  cacheDir,
		configDir: configDir,
	}, nil
}

// SetForcePull configures the resolver to force re-fetch features from the registry.
func (r *Resolver) SetForcePull(forcePull bool) {
	r.forcePull = forcePull
}

// getCacheDir returns the feature cache directory.
func getCacheDir() (string, error) {
	// Use XDG_CACHE_HOME if set, otherwise ~/.cache
	cacheHome := os.Getenv("XDG_CACHE_HOME")
	if cacheHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		cacheHome = filepath.Join(home, ".cache")
	}

	return filepath.Join(cacheHome, "dcx", "features"), nil
}

// Resolve resolves a feature from its ID and options.
func (r *Resolver) Resolve(ctx context.Context, id string, options map[string]interface{}) (*Feature, error) {
	return r.ResolveWithLockfile(ctx, id, options, nil)
}

// ResolveWithLockfile resolves a feature, optionally using a lockfile for pinned versions.
func (r *Resolver) ResolveWithLockfile(ctx context.Context, id string, options map[string]interface{}, lockfile *lockfile.Lockfile) (*Feature, error) {
	// Parse the feature reference
	ref, err := ParseFeatureRef(id)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feature ID %q: %w", id, err)
	}

	feature := &Feature{
		ID:      id,
		Ref:     ref,
		Options: options,
	}

	// Resolve based on reference type
	switch ref.Type {
	case RefTypeLocal:
		if err := r.resolveLocal(ctx, feature); err != nil {
			return nil, fmt.Errorf("failed to resolve local feature: %w", err)
		}
	case RefTypeOCI:
		if err := r.resolveOCIWithLockfile(ctx, feature, lockfile); err != nil {
			return nil, fmt.Errorf("failed to resolve OCI feature: %w", err)
		}
	case RefTypeHTTP:
		if err := r.resolveHTTPWithLockfile(ctx, feature, lockfile); err != nil {
			return nil, fmt.Errorf("failed to resolve HTTP feature: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported feature reference type: %s", ref.Type)
	}

	return feature, nil
}

// resolveLocal resolves a local feature.
func (r *Resolver) resolveLocal(ctx context.Context, feature *Feature) error {
	// Resolve path relative to config directory
	path := feature.Ref.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.configDir, path)
	}

	// Verify directory exists
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("feature directory not found: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("feature path is not a directory: %s", path)
	}

	feature.CachePath = path

	// Load metadata
	metadata, err := r.loadMetadata(path)
	if err != nil {
		return fmt.Errorf("failed to load feature metadata: %w", err)
	}
	feature.Metadata = metadata

	return nil
}

// resolveOCIWithLockfile resolves an OCI feature, optionally using lockfile for pinned versions.
func (r *Resolver) resolveOCIWithLockfile(ctx context.Context, feature *Feature, lockfile *lockfile.Lockfile) error {
	ref := feature.Ref

	// Stage 2 of dependency resolution: a partial version like "1" or "1.4"
	// resolves against the registry's published tags before anything else
	// (cache key, lockfile lookup) uses ref.Version.
	resolvedVersion, err := r.ResolveVersion(ctx, ref)
	if err != nil {
		return fmt.Errorf("failed to resolve version for %s: %w", ref.CanonicalID(), err)
	}
	ref.Version = resolvedVersion
	feature.Ref = ref

	// Check if we have a locked version
	var expectedIntegrity string
	var lockedManifestDigest string
	if lockfile != nil {
		if locked, ok := lockfile.Get(feature.ID); ok {
			expectedIntegrity = locked.Integrity
			// Extract manifest digest from Resolved field (format: registry/path@sha256:...)
			lockedManifestDigest = extractDigestFromResolved(locked.Resolved)
		}
	}

	// Compute cache key
	cacheKey := computeCacheKey(ref.CanonicalID())
	cachePath := filepath.Join(r.cacheDir, cacheKey)

	// Check if already cached (unless force-pull is enabled)
	if !r.forcePull {
		if _, err := os.Stat(cachePath); err == nil {
			feature.CachePath = cachePath
			metadata, err := r.loadMetadata(cachePath)
			if err != nil {
				return fmt.Errorf("failed to load cached feature metadata: %w", err)
			}
			feature.Metadata = metadata

			// Load and populate digest info from cache
			if digestInfo, err := loadDigestInfo(cachePath); err == nil {
				feature.ManifestDigest = digestInfo.ManifestDigest
				feature.Integrity = digestInfo.Integrity

				// Verify integrity against lockfile if available
				if expectedIntegrity != "" && digestInfo.Integrity != expectedIntegrity {
					// Cache integrity doesn't match lockfile, need to re-fetch
					fmt.Printf("    Cache integrity mismatch for %s, re-fetching...\n", ref.CanonicalID())
					_ = os.RemoveAll(cachePath)
				} else {
					return nil
				}
			}
			// If no digest file exists, continue to use cached version
			// (backwards compatibility with pre-lockfile caches)
			if expectedIntegrity == "" {
				return nil
			}
		}
	} else {
		// Force-pull: remove existing cache to re-fetch
		_ = os.RemoveAll(cachePath)
	}

	// Fetch from OCI registry
	if lockedManifestDigest != "" {
		fmt.Printf("    Fetching feature from registry: %s (locked to %s)\n", ref.CanonicalID(), lockedManifestDigest[:min(19, len(lockedManifestDigest))]+"...")
	} else {
		fmt.Printf("    Fetching feature from registry: %s\n", ref.CanonicalID())
	}
	digestInfo, err := r.fetchOCIWithDigest(ctx, ref, cachePath, lockedManifestDigest, expectedIntegrity)
	if err != nil {
		return fmt.Errorf("failed to fetch OCI feature: %w", err)
	}

	feature.CachePath = cachePath
	feature.ManifestDigest = digestInfo.ManifestDigest
	feature.Integrity = digestInfo.Integrity

	// Load metadata
	metadata, err := r.loadMetadata(cachePath)
	if err != nil {
		return fmt.Errorf("failed to load feature metadata: %w", err)
	}
	feature.Metadata = metadata

	return nil
}

// resolveHTTPWithLockfile resolves an HTTP feature, optionally using lockfile for integrity verification.
func (r *Resolver) resolveHTTPWithLockfile(ctx context.Context, feature *Feature, lockfile *lockfile.Lockfile) error {
	ref := feature.Ref

	// Check if we have a locked version
	var expectedIntegrity string
	if lockfile != nil {
		if locked, ok := lockfile.Get(feature.ID); ok {
			expectedIntegrity = locked.Integrity
		}
	}

	// Compute cache key
	cacheKey := computeCacheKey(ref.URL)
	cachePath := filepath.Join(r.cacheDir, cacheKey)

	// Check if already cached (unless force-pull is enabled)
	if !r.forcePull {
		if _, err := os.Stat(cachePath); err == nil {
			feature.CachePath = cachePath
			metadata, err := r.loadMetadata(cachePath)
			if err != nil {
				return fmt.Errorf("failed to load cached feature metadata: %w", err)
			}
			feature.Metadata = metadata

			// Load and populate digest info from cache
			if digestInfo, err := loadDigestInfo(cachePath); err == nil {
				feature.Integrity = digestInfo.Integrity

				// Verify integrity against lockfile if available
				if expectedIntegrity != "" && digestInfo.Integrity != expectedIntegrity {
					// Cache integrity doesn't match lockfile, need to re-fetch
					fmt.Printf("    Cache integrity mismatch for %s, re-fetching...\n", ref.URL)
					_ = os.RemoveAll(cachePath)
				} else {
					return nil
				}
			}
			// If no digest file exists, continue to use cached version
			if expectedIntegrity == "" {
				return nil
			}
		}
	} else {
		// Force-pull: remove existing cache to re-fetch
		_ = os.RemoveAll(cachePath)
	}

	// Fetch from HTTP
	integrity, err := r.fetchHTTPWithDigest(ctx, ref.URL, cachePath, expectedIntegrity)
	if err != nil {
		return fmt.Errorf("failed to fetch HTTP feature: %w", err)
	}

	feature.CachePath = cachePath
	feature.Integrity = integrity

	// Load metadata
	metadata, err := r.loadMetadata(cachePath)
	if err != nil {
		return fmt.Errorf("failed to load feature metadata: %w", err)
	}
	feature.Metadata = metadata

	return nil
}

// fetchOCIWithDigest fetches a feature from an OCI registry and returns digest info.
// If lockedManifestDigest is provided (from lockfile), it fetches the manifest by digest
// instead of by tag, ensuring exact reproducibility.
func (r *Resolver) fetchOCIWithDigest(ctx context.Context, ref FeatureRef, destPath string, lockedManifestDigest string, expectedIntegrity string) (*DigestInfo, error) {
	// Build the OCI manifest URL
	// For ghcr.io, the format is: https://ghcr.io/v2/{repository}/{feature}/manifests/{tag_or_digest}
	// When we have a locked manifest digest, use it instead of the tag for exact reproducibility
	manifestReference := ref.Version
	if lockedManifestDigest != "" {
		manifestReference = lockedManifestDigest
	}
	manifestURL := fmt.Sprintf("https://%s/v2/%s/%s/manifests/%s",
		ref.Registry, ref.Repository, ref.Resource, manifestReference)

	// Get token for authentication (required for most OCI registries)
	token, err := r.getRegistryToken(ctx, ref)
	if err != nil {
		// Continue without token - some registries might not require auth
		token = ""
	}

	// Create request
	req, err := http.NewRequestWithContext(ctx, "GET", manifestURL, nil)
	if err != nil {
		return nil, err
	}

	// Accept OCI manifest types
	req.Header.Set("Accept", "application/vnd.oci.image.manifest.v1+json, application/vnd.docker.distribution.manifest.v2+json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	// Make request
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch manifest: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // Close error irrelevant after read

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("registry returned %d: %s", resp.StatusCode, string(body))
	}

	// Read manifest body for digest computation
	manifestBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	// Parse manifest
	var manifest ocispec.Manifest
	if err := json.Unmarshal(manifestBody, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	if len(manifest.Layers) == 0 {
		return nil, fmt.Errorf("no layers found in manifest")
	}

	// Find the feature layer (usually the first tar.gz layer)
	var featureLayer ocispec.Descriptor
	for _, layer := range manifest.Layers {
		if strings.Contains(layer.MediaType, "tar") {
			featureLayer = layer
			break
		}
	}

	if featureLayer.Digest == "" {
		return nil, fmt.Errorf("no feature layer found in manifest")
	}

	// The manifest digest used for lockfile pinning is always the canonical,
	// bit-exact recomputation, not whatever bytes/header the registry
	// happened to serve — this is what makes it reproducible across
	// registries and JSON formatters.
	title := featureLayer.Annotations["org.opencontainers.image.title"]
	if title == "" {
		title = ref.Resource + ".tgz"
	}
	_, manifestDigest, err := computeCanonicalDigest(featureLayer.Digest.String(), featureLayer.Size, title)
	if err != nil {
		return nil, fmt.Errorf("failed to compute canonical manifest digest: %w", err)
	}

	// Fetch the layer blob
	blobURL := fmt.Sprintf("https://%s/v2/%s/%s/blobs/%s",
		ref.Registry, ref.Repository, ref.Resource, featureLayer.Digest)

	blobReq, err := http.NewRequestWithContext(ctx, "GET", blobURL, nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		blobReq.Header.Set("Authorization", "Bearer "+token)
	}

	blobResp, err := httpClient.Do(blobReq)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch blob: %w", err)
	}
	defer blobResp.Body.Close() //nolint:errcheck // Close error irrelevant after read

	if blobResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch blob: status %d", blobResp.StatusCode)
	}

	// Read entire body first (needed for digest computation and extraction)
	bodyData, err := io.ReadAll(blobResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob body: %w", err)
	}

	// Compute tarball integrity
	integrity := computeIntegrity(bodyData)

	// Verify integrity against expected if provided
	if err := verifyIntegrity(bodyData, expectedIntegrity); err != nil {
		return nil, fmt.Errorf("feature %s/%s/%s: %w", ref.Registry, ref.Repository, ref.Resource, err)
	}

	// Extract the tarball based on media type
	if strings.Contains(featureLayer.MediaType, "gzip") {
		if err := extractTarGz(bytes.NewReader(bodyData), destPath); err != nil {
			return nil, fmt.Errorf("failed to extract gzip feature: %w", err)
		}
	} else {
		// Assume uncompressed tar
		if err := extractTar(bytes.NewReader(bodyData), destPath); err != nil {
			return nil, fmt.Errorf("failed to extract feature: %w", err)
		}
	}

	// Save digest info to cache
	digestInfo := &DigestInfo{
		ManifestDigest: manifestDigest,
		Integrity:      integrity,
	}
	if err := saveDigestInfo(destPath, *digestInfo); err != nil {
		// Log but don't fail - digest info is nice to have
		fmt.Printf("    Warning: failed to save digest info: %v\n", err)
	}

	return digestInfo, nil
}

// fetchHTTPWithDigest fetches a feature from an HTTP URL and returns integrity hash.
func (r *Resolver) fetchHTTPWithDigest(ctx context.Context, url, destPath string, expectedIntegrity string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return "", err
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // Close error irrelevant after read

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP request failed with status %d", resp.StatusCode)
	}

	// Read entire body for integrity computation
	bodyData, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	// Compute integrity
	integrity := computeIntegrity(bodyData)

	// Verify integrity against expected if provided
	if err := verifyIntegrity(bodyData, expectedIntegrity); err != nil {
		return "", fmt.Errorf("feature %s: %w", url, err)
	}

	// Extract the tarball
	if err := extractTarGz(bytes.NewReader(bodyData), destPath); err != nil {
		return "", fmt.Errorf("failed to extract feature: %w", err)
	}

	// Save digest info to cache
	digestInfo := DigestInfo{
		Integrity: integrity,
	}
	if err := saveDigestInfo(destPath, digestInfo); err != nil {
		// Log but don't fail
		fmt.Printf("    Warning: failed to save digest info: %v\n", err)
	}

	return integrity, nil
}

// loadMetadata loads the devcontainer-feature.json from a feature directory.
func (r *Resolver) loadMetadata(path string) (*FeatureMetadata, error) {
	metadataPath := filepath.Join(path, "devcontainer-feature.json")

	data, err := os.ReadFile(metadataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read devcontainer-feature.json: %w", err)
	}

	var metadata FeatureMetadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return nil, fmt.Errorf("failed to parse devcontainer-feature.json: %w", err)
	}

	return &metadata, nil
}

// computeCacheKey computes a cache key from an identifier.
func computeCacheKey(id string) string {
	d := digest.FromString(id)
	return d.Encoded()[:16]
}

// extractTar extracts an uncompressed tar archive to a directory.
func extractTar(r io.Reader, destPath string) error {
	// Create destination directory
	if err := os.MkdirAll(destPath, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	return extractTarReader(tar.NewReader(r), destPath)
}

// extractTarGz extracts a tar.gz archive to a directory.
func extractTarGz(r io.Reader, destPath string) error {
	// Create destination directory
	if err := os.MkdirAll(destPath, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Create gzip reader
	gzr, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gzr.Close() //nolint:errcheck // Close error irrelevant after read

	return extractTarReader(tar.NewReader(gzr), destPath)
}

// extractTarReader extracts a tar reader to a directory.
func extractTarReader(tr *tar.Reader, destPath string) error {
	cleanDestPath := filepath.Clean(destPath)
	fileCount := 0

	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read tar: %w", err)
		}

		// Sanitize path to prevent path traversal
		cleanName := filepath.Clean(header.Name)
		// Skip root directory entry
		if cleanName == "." {
			continue
		}
		target := filepath.Join(destPath, cleanName)
		if !strings.HasPrefix(target, cleanDestPath+string(os.PathSeparator)) && target != cleanDestPath {
			return fmt.Errorf("invalid tar path: %s", header.Name)
		}

		fileCount++

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}
		case tar.TypeReg:
			// Ensure parent directory exists
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return fmt.Errorf("failed to create parent directory: %w", err)
			}

			// Create file
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode))
			if err != nil {
				return fmt.Errorf("failed to create file: %w", err)
			}

			if _, err := io.Copy(f, tr); err != nil {
				_ = f.Close()
				return fmt.Errorf("failed to write file: %w", err)
			}
			_ = f.Close()
		case tar.TypeSymlink:
			if err := os.Symlink(header.Linkname, target); err != nil {
				return fmt.Errorf("failed to create symlink: %w", err)
			}
		}
	}

	if fileCount == 0 {
		return fmt.Errorf("tar archive contained no files")
	}

	return nil
}

// getRegistryToken obtains an authentication token from an OCI registry.
// It follows the Docker Registry v2 authentication spec.
func (r *Resolver) getRegistryToken(ctx context.Context, ref FeatureRef) (string, error) {
	cacheKey := ref.Registry + "/" + ref.Repository + "/" + ref.Resource

	r.tokenCacheMu.Lock()
	if cached, ok := r.tokenCache[cacheKey]; ok && time.Now().Before(cached.expiresAt) {
		r.tokenCacheMu.Unlock()
		return cached.token, nil
	}
	r.tokenCacheMu.Unlock()

	// First, make an unauthenticated request to get the WWW-Authenticate header
	pingURL := fmt.Sprintf("https://%s/v2/", ref.Registry)
	req, err := http.NewRequestWithContext(ctx, "GET", pingURL, nil)
	if err != nil {
		return "", err
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close() //nolint:errcheck // Close error irrelevant after read

	// If we got 200, no auth needed
	if resp.StatusCode == http.StatusOK {
		return "", nil
	}

	// Parse WWW-Authenticate header
	// Format: Bearer realm="https://...",service="...",scope="..."
	authHeader := resp.Header.Get("WWW-Authenticate")
	if authHeader == "" {
		return "", fmt.Errorf("no WWW-Authenticate header in response")
	}

	// Parse the auth header
	realm, service := parseAuthHeader(authHeader)
	if realm == "" {
		return "", fmt.Errorf("failed to parse auth header: %s", authHeader)
	}

	// Build scope for the specific repository
	scope := fmt.Sprintf("repository:%s/%s:pull", ref.Repository, ref.Resource)

	// Request token
	tokenURL := fmt.Sprintf("%s?service=%s&scope=%s", realm, service, scope)
	tokenReq, err := http.NewRequestWithContext(ctx, "GET", tokenURL, nil)
	if err != nil {
		return "", err
	}

	tokenResp, err := httpClient.Do(tokenReq)
	if err != nil {
		return "", fmt.Errorf("failed to request token: %w", err)
	}
	defer tokenResp.Body.Close() //nolint:errcheck // Close error irrelevant after read

	if tokenResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(tokenResp.Body)
		return "", fmt.Errorf("token request failed with %d: %s", tokenResp.StatusCode, string(body))
	}

	// Parse token response
	var tokenData struct {
		Token       string `json:"token"`
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(tokenResp.Body).Decode(&tokenData); err != nil {
		return "", fmt.Errorf("failed to parse token response: %w", err)
	}

	// Some registries return "token", others return "access_token"
	token := tokenData.Token
	if token == "" {
		token = tokenData.AccessToken
	}

	r.cacheToken(cacheKey, token)

	return token, nil
}

// cacheToken remembers token for reuse until the expiry in its JWT "exp"
// claim. Registry bearer tokens are typically JWTs; the signature isn't
// checked since the token is only ever replayed back to the same registry
// that issued it, never trusted as an authorization decision here.
func (r *Resolver) cacheToken(cacheKey, token string) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return
	}

	r.tokenCacheMu.Lock()
	defer r.tokenCacheMu.Unlock()
	if r.tokenCache == nil {
		r.tokenCache = make(map[string]cachedToken)
	}
	r.tokenCache[cacheKey] = cachedToken{token: token, expiresAt: exp.Time}
}

// headBlob checks whether a blob already exists in the registry via
// HEAD /v2/<name>/blobs/<digest>, letting a pusher skip a redundant upload.
func (r *Resolver) headBlob(ctx context.Context, ref FeatureRef, blobDigest string) (bool, error) {
	token, _ := r.getRegistryToken(ctx, ref)
	url := fmt.Sprintf("https://%s/v2/%s/%s/blobs/%s", ref.Registry, ref.Repository, ref.Resource, blobDigest)

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to check blob: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // Close error irrelevant after read

	return resp.StatusCode == http.StatusOK, nil
}

// putBlob uploads a blob via the monolithic upload flow: POST
// /v2/<name>/blobs/uploads/ to obtain an upload location, then PUT
// <location>?digest=<digest> with the content.
func (r *Resolver) putBlob(ctx context.Context, ref FeatureRef, data []byte) (string, error) {
	blobDigest := digest.FromBytes(data).String()

	token, _ := r.getRegistryToken(ctx, ref)
	startURL := fmt.Sprintf("https://%s/v2/%s/%s/blobs/uploads/", ref.Registry, ref.Repository, ref.Resource)

	startReq, err := http.NewRequestWithContext(ctx, http.MethodPost, startURL, nil)
	if err != nil {
		return "", err
	}
	if token != "" {
		startReq.Header.Set("Authorization", "Bearer "+token)
	}

	startResp, err := httpClient.Do(startReq)
	if err != nil {
		return "", fmt.Errorf("failed to start blob upload: %w", err)
	}
	defer startResp.Body.Close() //nolint:errcheck // Close error irrelevant after read

	if startResp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(startResp.Body)
		return "", fmt.Errorf("blob upload start returned %d: %s", startResp.StatusCode, string(body))
	}

	location := startResp.Header.Get("Location")
	if location == "" {
		return "", fmt.Errorf("registry did not return an upload location")
	}
	if !strings.HasPrefix(location, "http") {
		location = fmt.Sprintf("https://%s%s", ref.Registry, location)
	}

	sep := "?"
	if strings.Contains(location, "?") {
		sep = "&"
	}
	putURL := fmt.Sprintf("%s%sdigest=%s", location, sep, blobDigest)

	putReq, err := http.NewRequestWithContext(ctx, http.MethodPut, putURL, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	putReq.ContentLength = int64(len(data))
	putReq.Header.Set("Content-Type", "application/octet-stream")
	if token != "" {
		putReq.Header.Set("Authorization", "Bearer "+token)
	}

	putResp, err := httpClient.Do(putReq)
	if err != nil {
		return "", fmt.Errorf("failed to upload blob: %w", err)
	}
	defer putResp.Body.Close() //nolint:errcheck // Close error irrelevant after read

	if putResp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(putResp.Body)
		return "", fmt.Errorf("blob upload returned %d: %s", putResp.StatusCode, string(body))
	}

	return blobDigest, nil
}

// putManifest uploads a manifest via PUT /v2/<name>/manifests/<ref>.
func (r *Resolver) putManifest(ctx context.Context, ref FeatureRef, manifestBytes []byte, tag string) error {
	token, _ := r.getRegistryToken(ctx, ref)
	url := fmt.Sprintf("https://%s/v2/%s/%s/manifests/%s", ref.Registry, ref.Repository, ref.Resource, tag)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(manifestBytes))
	if err != nil {
		return err
	}
	req.ContentLength = int64(len(manifestBytes))
	req.Header.Set("Content-Type", featureManifestMediaType)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to upload manifest: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // Close error irrelevant after read

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("manifest upload returned %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

// listTags lists all tags published for a feature's repository, per
// GET /v2/<name>/tags/list.
func (r *Resolver) listTags(ctx context.Context, ref FeatureRef) ([]string, error) {
	token, _ := r.getRegistryToken(ctx, ref)
	url := fmt.Sprintf("https://%s/v2/%s/%s/tags/list", ref.Registry, ref.Repository, ref.Resource)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // Close error irrelevant after read

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("tags list returned %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Tags []string `json:"tags"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse tags list: %w", err)
	}

	return result.Tags, nil
}

// ResolveVersion resolves a possibly-partial version constraint (e.g. "1" or
// "1.2") against the registry's published tags (Stage 2 of dependency
// resolution), returning the highest tag whose dotted-numeric prefix
// matches. A fully-qualified semver tag, a digest, or "latest" passes
// through unchanged without a registry round trip.
func (r *Resolver) ResolveVersion(ctx context.Context, ref FeatureRef) (string, error) {
	if ref.IsDigest || ref.Version == "" || ref.Version == "latest" || isFullSemver(ref.Version) {
		return ref.Version, nil
	}

	tags, err := r.listTags(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("failed to list tags for %s: %w", ref.CanonicalID(), err)
	}

	best := ""
	for _, tag := range tags {
		if !semverHasPrefix(tag, ref.Version) {
			continue
		}
		if best == "" || semverLess(best, tag) {
			best = tag
		}
	}
	if best == "" {
		return "", fmt.Errorf("no tag matching %q found for %s", ref.Version, ref.CanonicalID())
	}
	return best, nil
}

// parseSemverParts splits a dotted numeric version into integer components.
// It returns ok=false for anything containing a non-numeric component
// (pre-release/build metadata is out of scope for feature version tags).
func parseSemverParts(v string) ([]int, bool) {
	fields := strings.Split(v, ".")
	nums := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, false
		}
		nums = append(nums, n)
	}
	return nums, true
}

// isFullSemver reports whether v is a complete "X.Y.Z" version.
func isFullSemver(v string) bool {
	nums, ok := parseSemverParts(v)
	return ok && len(nums) == 3
}

// semverHasPrefix reports whether tag's leading numeric components exactly
// match prefix's, e.g. tag "1.4.2" matches prefix "1" and "1.4".
func semverHasPrefix(tag, prefix string) bool {
	tagParts, ok := parseSemverParts(tag)
	if !ok {
		return false
	}
	prefixParts, ok := parseSemverParts(prefix)
	if !ok || len(prefixParts) > len(tagParts) {
		return false
	}
	for i, p := range prefixParts {
		if tagParts[i] != p {
			return false
		}
	}
	return true
}

// semverLess reports whether a sorts before b by numeric component.
func semverLess(a, b string) bool {
	aParts, _ := parseSemverParts(a)
	bParts, _ := parseSemverParts(b)
	for i := 0; i < len(aParts) && i < len(bParts); i++ {
		if aParts[i] != bParts[i] {
			return aParts[i] < bParts[i]
		}
	}
	return len(aParts) < len(bParts)
}

// parseAuthHeader parses a WWW-Authenticate header to extract realm and service.
func parseAuthHeader(header string) (realm, service string) {
	// Remove "Bearer " prefix
	header = strings.TrimPrefix(header, "Bearer ")

	// Parse key="value" pairs
	pairs := strings.Split(header, ",")
	for _, pair := range pairs {
		pair = strings.TrimSpace(pair)
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.Trim(strings.TrimSpace(parts[1]), "\"")

		switch key {
		case "realm":
			realm = value
		case "service":
			service = value
		}
	}
	return
}
