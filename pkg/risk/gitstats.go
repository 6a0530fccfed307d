package risk

import (
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/format/diff"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// GitStats computes the changed files and line counts between the merge base
// of base and head and head itself, the way a pull request diff is built.
// Only the diff fields of Stats are populated; draft state, CI, author and
// round come from the tracker or the caller.
func GitStats(repoPath, base, head string) (Stats, error) {
	repo, err := git.PlainOpenWithOptions(repoPath, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return Stats{}, fmt.Errorf("open repo %s: %w", repoPath, err)
	}
	baseCommit, err := resolveCommit(repo, base)
	if err != nil {
		return Stats{}, err
	}
	headCommit, err := resolveCommit(repo, head)
	if err != nil {
		return Stats{}, err
	}

	from := baseCommit
	bases, err := baseCommit.MergeBase(headCommit)
	if err != nil {
		return Stats{}, fmt.Errorf("merge base %s..%s: %w", base, head, err)
	}
	if len(bases) > 0 {
		from = bases[0]
	}

	patch, err := from.Patch(headCommit)
	if err != nil {
		return Stats{}, fmt.Errorf("diff %s..%s: %w", base, head, err)
	}

	files := []File{}
	var adds, dels int
	for _, fp := range patch.FilePatches() {
		f := fileFromPatch(fp)
		adds += f.Additions
		dels += f.Deletions
		files = append(files, f)
	}
	return Stats{Additions: &adds, Deletions: &dels, Files: files}, nil
}

func resolveCommit(repo *git.Repository, rev string) (*object.Commit, error) {
	h, err := repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", rev, err)
	}
	c, err := repo.CommitObject(*h)
	if err != nil {
		return nil, fmt.Errorf("load commit %s: %w", h, err)
	}
	return c, nil
}

func fileFromPatch(fp diff.FilePatch) File {
	from, to := fp.Files()
	var f File
	switch {
	case from == nil:
		f = File{Path: to.Path(), Status: FileAdded}
	case to == nil:
		f = File{Path: from.Path(), Status: FileRemoved}
	case from.Path() != to.Path():
		f = File{Path: to.Path(), Status: FileRenamed}
	default:
		f = File{Path: to.Path(), Status: FileModified}
	}
	if fp.IsBinary() {
		return f
	}
	for _, chunk := range fp.Chunks() {
		n := countLines(chunk.Content())
		switch chunk.Type() {
		case diff.Add:
			f.Additions += n
		case diff.Delete:
			f.Deletions += n
		}
	}
	return f
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}
