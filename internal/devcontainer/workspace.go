package devcontainer

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/docker/docker/api/types/mount"
)

// GitRoot walks up from startPath looking for a ".git" entry (directory for
// a normal checkout, file for a worktree or submodule) and returns the
// directory that contains it. Returns startPath unchanged if no ancestor
// has one.
func GitRoot(startPath string) string {
	dir := filepath.Clean(startPath)
	for {
		candidate := filepath.Join(dir, ".git")
		if info, err := os.Stat(candidate); err == nil {
			if info.IsDir() {
				return dir
			}
			if target, err := resolveWorktreeGitFile(candidate); err == nil && target != "" {
				return dir
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return startPath
		}
		dir = parent
	}
}

// resolveWorktreeGitFile parses a worktree/submodule ".git" file, which
// contains a single line "gitdir: <path>" pointing at the real git
// directory elsewhere on disk (e.g. under the main checkout's
// .git/worktrees/<name>). Returns the resolved gitdir path.
func resolveWorktreeGitFile(gitFilePath string) (string, error) {
	data, err := os.ReadFile(gitFilePath)
	if err != nil {
		return "", err
	}

	line := strings.TrimSpace(string(data))
	const prefix = "gitdir:"
	if !strings.HasPrefix(line, prefix) {
		return "", nil
	}

	target := strings.TrimSpace(strings.TrimPrefix(line, prefix))
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(gitFilePath), target)
	}
	return filepath.Clean(target), nil
}

// commonAncestor returns the deepest directory that is an ancestor of (or
// equal to) both paths. Used when a devcontainer's mount needs to cover
// more than one path under source control, e.g. a workspace whose
// devcontainer.json lives in a submodule.
func commonAncestor(a, b string) string {
	a = filepath.Clean(a)
	b = filepath.Clean(b)
	if a == b {
		return a
	}

	sep := string(filepath.Separator)
	aParts := strings.Split(strings.TrimPrefix(a, sep), sep)
	bParts := strings.Split(strings.TrimPrefix(b, sep), sep)

	n := len(aParts)
	if len(bParts) < n {
		n = len(bParts)
	}

	var common []string
	for i := 0; i < n; i++ {
		if aParts[i] != bParts[i] {
			break
		}
		common = append(common, aParts[i])
	}

	if len(common) == 0 {
		return sep
	}
	return sep + filepath.Join(common...)
}

// WorkspaceMountConsistency returns the bind mount consistency flag to use
// for the workspace source mount. Docker Desktop on macOS exposes
// "consistent"/"cached"/"delegated" tuning for the gRPC-FUSE/VirtioFS bridge;
// on Linux bind mounts are always consistent and the flag is a no-op that's
// best omitted.
func WorkspaceMountConsistency() string {
	if runtime.GOOS == "darwin" {
		return "consistent"
	}
	return ""
}

// ResolveWorkspaceMount computes the bind mounts for a devcontainer's
// workspace folder. The primary mount always stays anchored at
// workspacePath; when the workspace sits inside a git worktree whose
// ".git" file points at a relative gitdir under another checkout's
// ".git/worktrees/<name>", mountGitWorktreeCommonDir additionally binds
// that checkout's real ".git" directory into the container (so git
// metadata lookups that follow the worktree's gitdir pointer keep
// working) and rewrites workspaceFolder so both paths share a parent
// under /workspaces. Workspaces that aren't worktrees, or whose gitdir
// pointer is absolute, get no auxiliary mount. Passing false for
// mountGitWorktreeCommonDir disables the auxiliary mount outright.
//
// Returns the primary mount, the resolved workspaceFolder (possibly
// rewritten), and an additional mount, or nil if none is needed.
func ResolveWorkspaceMount(workspacePath, containerWorkspaceFolder string, mountGitWorktreeCommonDir bool) (mount.Mount, string, *mount.Mount) {
	source := filepath.Clean(workspacePath)
	consistency := mount.Consistency("")
	if c := WorkspaceMountConsistency(); c != "" {
		consistency = mount.Consistency(c)
	}

	buildPrimary := func(target string) mount.Mount {
		return mount.Mount{
			Type:        mount.TypeBind,
			Source:      source,
			Target:      target,
			Consistency: consistency,
		}
	}

	if !mountGitWorktreeCommonDir {
		return buildPrimary(containerWorkspaceFolder), containerWorkspaceFolder, nil
	}

	commonGitDir, ok := worktreeCommonGitDir(source)
	if !ok {
		return buildPrimary(containerWorkspaceFolder), containerWorkspaceFolder, nil
	}

	lca := commonAncestor(source, commonGitDir)
	workspaceTarget := "/workspaces" + strings.TrimPrefix(source, lca)
	gitTarget := "/workspaces" + strings.TrimPrefix(commonGitDir, lca)

	workspaceFolder := containerWorkspaceFolder
	if containerWorkspaceFolder == "/workspaces/"+filepath.Base(source) {
		workspaceFolder = workspaceTarget
	}

	additional := mount.Mount{
		Type:        mount.TypeBind,
		Source:      commonGitDir,
		Target:      gitTarget,
		Consistency: consistency,
	}

	return buildPrimary(workspaceFolder), workspaceFolder, &additional
}

// worktreeCommonGitDir reports whether workspacePath is a git worktree
// checkout (a regular ".git" file with a relative "gitdir:" pointer under
// some other checkout's ".git/worktrees/<name>"), and if so returns that
// other checkout's real ".git" directory. ok is false for a plain
// checkout, a non-worktree ".git" file, or an absolute gitdir pointer.
func worktreeCommonGitDir(workspacePath string) (dir string, ok bool) {
	gitPath := filepath.Join(workspacePath, ".git")
	info, err := os.Stat(gitPath)
	if err != nil || info.IsDir() {
		return "", false
	}

	data, err := os.ReadFile(gitPath)
	if err != nil {
		return "", false
	}
	line := strings.TrimSpace(string(data))
	const prefix = "gitdir:"
	if !strings.HasPrefix(line, prefix) {
		return "", false
	}
	rawTarget := strings.TrimSpace(strings.TrimPrefix(line, prefix))
	if filepath.IsAbs(rawTarget) {
		return "", false
	}

	target := filepath.Clean(filepath.Join(workspacePath, rawTarget))
	const marker = string(filepath.Separator) + "worktrees" + string(filepath.Separator)
	idx := strings.LastIndex(target, marker)
	if idx == -1 {
		return "", false
	}

	return target[:idx], true
}

