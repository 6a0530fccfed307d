package risk

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func commitAll(t *testing.T, wt *git.Worktree, msg string) string {
	t.Helper()
	require.NoError(t, wt.AddWithOptions(&git.AddOptions{All: true}))
	h, err := wt.Commit(msg, &git.CommitOptions{
		All: true,
		Author: &object.Signature{
			Name:  "bot",
			Email: "bot@example.com",
			When:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		},
	})
	require.NoError(t, err)
	return h.String()
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func TestGitStats(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)

	writeFile(t, dir, "main.go", "package main\n\nfunc main() {}\n")
	writeFile(t, dir, "old.txt", "one\ntwo\n")
	base := commitAll(t, wt, "initial")

	writeFile(t, dir, "main.go", "package main\n\nfunc main() {\n\trun()\n}\n")
	writeFile(t, dir, "main_test.go", "package main\n")
	require.NoError(t, os.Remove(filepath.Join(dir, "old.txt")))
	head := commitAll(t, wt, "change")

	stats, err := GitStats(dir, base, head)
	require.NoError(t, err)

	byPath := map[string]File{}
	for _, f := range stats.Files {
		byPath[f.Path] = f
	}
	require.Len(t, byPath, 3)
	assert.Equal(t, FileModified, byPath["main.go"].Status)
	assert.Equal(t, 3, byPath["main.go"].Additions)
	assert.Equal(t, 1, byPath["main.go"].Deletions)
	assert.Equal(t, FileAdded, byPath["main_test.go"].Status)
	assert.Equal(t, 1, byPath["main_test.go"].Additions)
	assert.Equal(t, FileRemoved, byPath["old.txt"].Status)
	assert.Equal(t, 2, byPath["old.txt"].Deletions)

	require.NotNil(t, stats.Additions)
	require.NotNil(t, stats.Deletions)
	assert.Equal(t, 4, *stats.Additions)
	assert.Equal(t, 3, *stats.Deletions)
}

func TestGitStats_UnknownRevision(t *testing.T) {
	dir := t.TempDir()
	_, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	_, err = GitStats(dir, "main", "feature")
	require.Error(t, err)
}
