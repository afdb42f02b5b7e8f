package devcontainer

// ContainerLabels are the labels attached to a created container so that a
// later invocation (status, stop, or a staleness check) can identify it and
// decide whether it needs to be rebuilt.
//
// Actually applying these labels to a running container is the
// responsibility of the ContainerRuntime capability; this package only
// computes the label set.
type ContainerLabels struct {
	WorkspaceID  string
	WorkspaceDir string
	ConfigHash   string
	Extra        map[string]string
}

// NewContainerLabels returns an empty label set.
func NewContainerLabels() *ContainerLabels {
	return &ContainerLabels{Extra: make(map[string]string)}
}

const labelPrefix = "dev.devcontainer."

// ToMap flattens the label set into the string map the ContainerRuntime
// capability expects when creating a container.
func (l *ContainerLabels) ToMap() map[string]string {
	m := map[string]string{
		labelPrefix + "workspace-id":  l.WorkspaceID,
		labelPrefix + "workspace-dir": l.WorkspaceDir,
		labelPrefix + "config-hash":   l.ConfigHash,
	}
	for k, v := range l.Extra {
		m[labelPrefix+k] = v
	}
	for k, v := range m {
		if v == "" {
			delete(m, k)
		}
	}
	return m
}
