package devcontainer

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGitRoot_PlainCheckout(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0755))

	sub := filepath.Join(root, "cmd", "app")
	require.NoError(t, os.MkdirAll(sub, 0755))

	assert.Equal(t, root, GitRoot(sub))
}

func TestGitRoot_Worktree(t *testing.T) {
	mainRoot := t.TempDir()
	worktreeGitDir := filepath.Join(mainRoot, ".git", "worktrees", "feature-x")
	require.NoError(t, os.MkdirAll(worktreeGitDir, 0755))

	worktree := t.TempDir()
	gitFile := filepath.Join(worktree, ".git")
	require.NoError(t, os.WriteFile(gitFile, []byte("gitdir: "+worktreeGitDir+"\n"), 0644))

	sub := filepath.Join(worktree, "pkg")
	require.NoError(t, os.MkdirAll(sub, 0755))

	assert.Equal(t, worktree, GitRoot(sub))
}

func TestGitRoot_NoRepo(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, dir, GitRoot(dir))
}

func TestCommonAncestor(t *testing.T) {
	tests := []struct {
		name     string
		a, b     string
		expected string
	}{
		{"identical", "/a/b/c", "/a/b/c", "/a/b/c"},
		{"sibling dirs", "/a/b/c", "/a/b/d", "/a/b"},
		{"nested", "/a/b/c", "/a/b", "/a/b"},
		{"no overlap beyond root", "/a/x", "/b/y", "/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, commonAncestor(tt.a, tt.b))
		})
	}
}

func TestResolveWorkspaceMount_PlainCheckout(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0755))

	m, workspaceFolder, additional := ResolveWorkspaceMount(root, "/workspace", true)
	assert.Equal(t, root, m.Source)
	assert.Equal(t, "/workspace", m.Target)
	assert.Equal(t, "/workspace", workspaceFolder)
	assert.Nil(t, additional)
}

func TestResolveWorkspaceMount_Worktree(t *testing.T) {
	mainRoot := t.TempDir()
	worktreeGitDir := filepath.Join(mainRoot, ".git", "worktrees", "feature-x")
	require.NoError(t, os.MkdirAll(worktreeGitDir, 0755))

	worktree := t.TempDir()
	gitFile := filepath.Join(worktree, ".git")
	relTarget, err := filepath.Rel(worktree, worktreeGitDir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(gitFile, []byte("gitdir: "+relTarget+"\n"), 0644))

	containerWorkspaceFolder := "/workspaces/" + filepath.Base(worktree)
	m, workspaceFolder, additional := ResolveWorkspaceMount(worktree, containerWorkspaceFolder, true)

	// The primary mount stays anchored at the worktree itself.
	assert.Equal(t, worktree, m.Source)
	require.NotNil(t, additional)
	mainGitDir := filepath.Join(mainRoot, ".git")
	assert.Equal(t, mainGitDir, additional.Source)

	lca := commonAncestor(worktree, mainGitDir)
	expectedWorkspaceFolder := "/workspaces" + strings.TrimPrefix(worktree, lca)
	expectedGitTarget := "/workspaces" + strings.TrimPrefix(mainGitDir, lca)
	assert.Equal(t, expectedWorkspaceFolder, workspaceFolder)
	assert.Equal(t, expectedWorkspaceFolder, m.Target)
	assert.Equal(t, expectedGitTarget, additional.Target)
}

func TestResolveWorkspaceMount_WorktreeDisabled(t *testing.T) {
	mainRoot := t.TempDir()
	worktreeGitDir := filepath.Join(mainRoot, ".git", "worktrees", "feature-x")
	require.NoError(t, os.MkdirAll(worktreeGitDir, 0755))

	worktree := t.TempDir()
	gitFile := filepath.Join(worktree, ".git")
	relTarget, err := filepath.Rel(worktree, worktreeGitDir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(gitFile, []byte("gitdir: "+relTarget+"\n"), 0644))

	m, workspaceFolder, additional := ResolveWorkspaceMount(worktree, "/workspace", false)
	assert.Equal(t, worktree, m.Source)
	assert.Equal(t, "/workspace", workspaceFolder)
	assert.Nil(t, additional)
}
