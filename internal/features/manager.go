package features

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// defaultFeatureParallelism is the default concurrency for feature fetches
// per §5 of the resolution model.
const defaultFeatureParallelism = 4

// Manager handles feature resolution and ordering for a devcontainer.json
// features map. Building the image layer that installs the resolved
// features is the responsibility of the ContainerRuntime capability; this
// package only decides which features, in which order, with which options.
type Manager struct {
	resolver    *Resolver
	configDir   string
	parallelism int

	group singleflight.Group
}

// NewManager creates a new feature manager.
func NewManager(configDir string) (*Manager, error) {
	resolver, err := NewResolver(configDir)
	if err != nil {
		return nil, err
	}

	return &Manager{
		resolver:    resolver,
		configDir:   configDir,
		parallelism: defaultFeatureParallelism,
	}, nil
}

// SetParallelism overrides the default concurrent-fetch limit.
func (m *Manager) SetParallelism(n int) {
	if n > 0 {
		m.parallelism = n
	}
}

// Resolver exposes the manager's underlying resolver for callers (e.g. the
// outdated/upgrade commands) that need registry operations beyond a plain
// feature fetch.
func (m *Manager) Resolver() *Resolver {
	return m.resolver
}

// featureRequest is a single pending (id, options) fetch.
type featureRequest struct {
	id      string
	options map[string]interface{}
}

// resolveOne resolves a single feature, de-duplicating concurrent requests
// for the same identifier via singleflight so a feature depended on by more
// than one other feature in the same expansion round is only fetched once.
func (m *Manager) resolveOne(ctx context.Context, id string, options map[string]interface{}) (*Feature, error) {
	v, err, _ := m.group.Do(id, func() (interface{}, error) {
		return m.resolver.Resolve(ctx, id, options)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Feature), nil
}

// ResolveAll resolves all features from a devcontainer.json features map.
//
// Resolution proceeds in stages. The features declared directly in
// featuresConfig are fetched first, up to m.parallelism at a time. The
// graph is then expanded (§4.D Stage 1) by following each resolved
// feature's dependsOn to pull in any transitive feature that wasn't
// explicitly declared, repeating in further bounded-parallel rounds until
// one discovers nothing new. Features are unified across declared id and
// legacyIds, so two different names that resolve to the same legacy
// identity collapse into a single graph node rather than duplicating it.
// Finally the graph is validated and ordered.
func (m *Manager) ResolveAll(ctx context.Context, featuresConfig map[string]interface{}, overrideOrder []string) ([]*Feature, error) {
	if len(featuresConfig) == 0 {
		return nil, nil
	}

	requests := make([]featureRequest, 0, len(featuresConfig))
	for id, optionsRaw := range featuresConfig {
		var options map[string]interface{}
		switch v := optionsRaw.(type) {
		case map[string]interface{}:
			options = v
		case bool:
			if !v {
				continue // false means "disabled", skip entirely
			}
			options = make(map[string]interface{})
		default:
			options = make(map[string]interface{})
		}
		requests = append(requests, featureRequest{id: id, options: options})
	}

	var (
		mu       sync.Mutex
		resolved []*Feature
		byID     = make(map[string]*Feature)
	)

	// register adds a newly-fetched feature to the graph unless an id or
	// legacyId it carries already names a known node, in which case it's
	// the same logical feature as one already present and is dropped.
	register := func(f *Feature) {
		mu.Lock()
		defer mu.Unlock()

		identities := []string{f.ID}
		if f.Metadata != nil {
			if f.Metadata.ID != "" {
				identities = append(identities, f.Metadata.ID)
			}
			identities = append(identities, f.Metadata.LegacyIds...)
		}
		for _, identity := range identities {
			if _, exists := byID[identity]; exists {
				return
			}
		}

		resolved = append(resolved, f)
		for _, identity := range identities {
			byID[identity] = f
		}
	}

	fetchBatch := func(reqs []featureRequest) error {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(m.parallelism)
		for _, req := range reqs {
			req := req
			g.Go(func() error {
				feature, err := m.resolveOne(gctx, req.id, req.options)
				if err != nil {
					return fmt.Errorf("failed to resolve feature %q: %w", req.id, err)
				}
				register(feature)
				return nil
			})
		}
		return g.Wait()
	}

	if err := fetchBatch(requests); err != nil {
		return nil, err
	}

	// Stage 1 expansion: follow dependsOn transitively until a round
	// discovers nothing new that isn't already satisfied (directly or via
	// legacy-id unification) by a node already in the graph.
	for {
		mu.Lock()
		pendingByID := make(map[string]featureRequest)
		for _, f := range resolved {
			if f.Metadata == nil {
				continue
			}
			for _, dep := range f.Metadata.DependsOn {
				if _, known := byID[dep]; known {
					continue
				}
				if _, queued := pendingByID[dep]; !queued {
					pendingByID[dep] = featureRequest{id: dep, options: make(map[string]interface{})}
				}
			}
		}
		mu.Unlock()

		if len(pendingByID) == 0 {
			break
		}

		pending := make([]featureRequest, 0, len(pendingByID))
		for _, req := range pendingByID {
			pending = append(pending, req)
		}

		if err := fetchBatch(pending); err != nil {
			return nil, err
		}
	}

	if err := ValidateDependencies(resolved); err != nil {
		return nil, err
	}

	ordered, err := OrderFeatures(resolved, overrideOrder)
	if err != nil {
		return nil, fmt.Errorf("failed to order features: %w", err)
	}

	return ordered, nil
}

// GetDerivedImageTag returns a deterministic tag for the image produced by
// layering resolved features onto the base image.
func GetDerivedImageTag(workspaceID, configHash string) string {
	n := 12
	if len(configHash) < n {
		n = len(configHash)
	}
	return fmt.Sprintf("devcontainer/%s:%s-features", workspaceID, configHash[:n])
}

// HasFeatures returns true if the config has any features.
func HasFeatures(featuresConfig map[string]interface{}) bool {
	return len(featuresConfig) > 0
}
