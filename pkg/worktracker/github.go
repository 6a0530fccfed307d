// Package worktracker talks to the shared work tracker (GitHub issues and
// pull requests) through the gh CLI. Agents never share memory; everything
// they coordinate on is read fresh from here.
package worktracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"warden/pkg/risk"
)

// FollowUpLabel marks lessons-learned items created for closed changes.
const FollowUpLabel = "followup"

// Label is a tracker label.
type Label struct {
	Name string `json:"name"`
}

// User is a tracker account.
type User struct {
	Login string `json:"login"`
}

// Issue is a work item.
type Issue struct {
	Number    int     `json:"number"`
	Title     string  `json:"title"`
	Body      string  `json:"body,omitempty"`
	State     string  `json:"state,omitempty"`
	URL       string  `json:"url,omitempty"`
	Labels    []Label `json:"labels"`
	Assignees []User  `json:"assignees"`
}

// HasLabel reports whether the issue carries name (case-insensitive).
func (i Issue) HasLabel(name string) bool {
	return slices.ContainsFunc(i.Labels, func(l Label) bool { return strings.EqualFold(l.Name, name) })
}

// GitHubCLI implements the tracker operations with `gh`.
type GitHubCLI struct {
	runner CommandRunner
	repo   string // "owner/name"; empty uses the repository of the working directory

	mu    sync.Mutex
	login string
}

// NewGitHubCLI returns a tracker client. repo may be empty.
func NewGitHubCLI(runner CommandRunner, repo string) *GitHubCLI {
	return &GitHubCLI{runner: runner, repo: repo}
}

func (g *GitHubCLI) gh(ctx context.Context, args ...string) ([]byte, error) {
	if g.repo != "" && len(args) > 0 && args[0] != "api" {
		args = append(args, "--repo", g.repo)
	}
	return g.runner.Run(ctx, "gh", args...)
}

func (g *GitHubCLI) apiPath(format string, args ...any) string {
	repo := "{owner}/{repo}"
	if g.repo != "" {
		repo = g.repo
	}
	return "repos/" + repo + "/" + fmt.Sprintf(format, args...)
}

type prView struct {
	Number    int    `json:"number"`
	IsDraft   bool   `json:"isDraft"`
	Body      string `json:"body"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Author    User   `json:"author"`
	Rollup    []struct {
		Status     string `json:"status"`
		Conclusion string `json:"conclusion"`
		State      string `json:"state"`
	} `json:"statusCheckRollup"`
	ClosingIssues []struct {
		Number int `json:"number"`
	} `json:"closingIssuesReferences"`
}

type prFile struct {
	Filename  string `json:"filename"`
	Status    string `json:"status"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
}

// PRStats gathers the risk inputs for pull request n. The review round is
// not a tracker fact and is left unset.
func (g *GitHubCLI) PRStats(ctx context.Context, n int) (risk.Stats, error) {
	out, err := g.gh(ctx, "pr", "view", strconv.Itoa(n), "--json",
		"number,isDraft,author,body,additions,deletions,statusCheckRollup,closingIssuesReferences")
	if err != nil {
		return risk.Stats{}, fmt.Errorf("gh pr view %d: %w", n, err)
	}
	var pr prView
	if err := json.Unmarshal(out, &pr); err != nil {
		return risk.Stats{}, fmt.Errorf("parse gh pr view output: %w", err)
	}

	out, err = g.gh(ctx, "api", "--paginate", g.apiPath("pulls/%d/files", n))
	if err != nil {
		return risk.Stats{}, fmt.Errorf("gh api pull files %d: %w", n, err)
	}
	files, err := decodePages[prFile](out)
	if err != nil {
		return risk.Stats{}, fmt.Errorf("parse pull files output: %w", err)
	}

	stats := risk.Stats{
		PRNumber:  pr.Number,
		Draft:     &pr.IsDraft,
		CI:        ciStatus(pr),
		Author:    risk.NormalizeLogin(pr.Author.Login),
		Body:      pr.Body,
		Additions: &pr.Additions,
		Deletions: &pr.Deletions,
		Files:     make([]risk.File, 0, len(files)),
	}
	if len(pr.ClosingIssues) > 0 {
		stats.LinkedIssue = &pr.ClosingIssues[0].Number
	}
	for _, f := range files {
		stats.Files = append(stats.Files, risk.File{
			Path:      f.Filename,
			Status:    risk.FileStatus(f.Status),
			Additions: f.Additions,
			Deletions: f.Deletions,
		})
	}
	return stats, nil
}

// ciStatus folds the check rollup into passing, failing or pending. No
// checks at all counts as pending: an unverified head is never "passing".
func ciStatus(pr prView) risk.CIStatus {
	if len(pr.Rollup) == 0 {
		return risk.CIPending
	}
	pending := false
	for _, c := range pr.Rollup {
		switch strings.ToUpper(c.Conclusion + c.State) {
		case "FAILURE", "ERROR", "TIMED_OUT", "CANCELLED", "ACTION_REQUIRED", "STARTUP_FAILURE":
			return risk.CIFailing
		case "SUCCESS", "NEUTRAL", "SKIPPED":
		default:
			pending = true
		}
		if c.Status != "" && !strings.EqualFold(c.Status, "COMPLETED") {
			pending = true
		}
	}
	if pending {
		return risk.CIPending
	}
	return risk.CIPassing
}

// decodePages decodes `gh api --paginate` output, which concatenates one
// JSON array per page.
func decodePages[T any](data []byte) ([]T, error) {
	var all []T
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var page []T
		if err := dec.Decode(&page); err != nil {
			return nil, err
		}
		all = append(all, page...)
	}
	return all, nil
}

// CreateIssue opens an issue and returns its URL.
func (g *GitHubCLI) CreateIssue(ctx context.Context, title, body string, labels ...string) (string, error) {
	args := []string{"issue", "create", "--title", title, "--body", body}
	for _, l := range labels {
		args = append(args, "--label", l)
	}
	out, err := g.gh(ctx, args...)
	if err != nil {
		return "", fmt.Errorf("gh issue create: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// CreateFollowUp opens the lessons-learned item for a closed pull request.
func (g *GitHubCLI) CreateFollowUp(ctx context.Context, pr int, title, body string) (string, error) {
	body = fmt.Sprintf("%s\n\nFollow-up to #%d.", body, pr)
	return g.CreateIssue(ctx, title, body, FollowUpLabel)
}

// Comment posts body on issue or pull request n.
func (g *GitHubCLI) Comment(ctx context.Context, n int, body string) error {
	if _, err := g.gh(ctx, "issue", "comment", strconv.Itoa(n), "--body", body); err != nil {
		return fmt.Errorf("gh issue comment %d: %w", n, err)
	}
	return nil
}

// HasLabel reports whether issue or pull request n carries label.
func (g *GitHubCLI) HasLabel(ctx context.Context, n int, label string) (bool, error) {
	out, err := g.gh(ctx, "api", g.apiPath("issues/%d/labels", n))
	if err != nil {
		return false, fmt.Errorf("gh api labels %d: %w", n, err)
	}
	var labels []Label
	if err := json.Unmarshal(out, &labels); err != nil {
		return false, fmt.Errorf("parse labels output: %w", err)
	}
	return Issue{Labels: labels}.HasLabel(label), nil
}

// OpenIssues lists open issues, optionally filtered by label.
func (g *GitHubCLI) OpenIssues(ctx context.Context, label string) ([]Issue, error) {
	args := []string{"issue", "list", "--state", "open", "--limit", "500", "--json", "number,title,body,labels,assignees,url"}
	if label != "" {
		args = append(args, "--label", label)
	}
	out, err := g.gh(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("gh issue list: %w", err)
	}
	var issues []Issue
	if err := json.Unmarshal(out, &issues); err != nil {
		return nil, fmt.Errorf("parse gh issue list output: %w", err)
	}
	return issues, nil
}

// Login returns the authenticated account, cached after the first call.
func (g *GitHubCLI) Login(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.login != "" {
		return g.login, nil
	}
	out, err := g.runner.Run(ctx, "gh", "api", "user", "--jq", ".login")
	if err != nil {
		return "", fmt.Errorf("gh api user: %w", err)
	}
	g.login = strings.TrimSpace(string(out))
	if g.login == "" {
		return "", fmt.Errorf("gh api user: empty login")
	}
	return g.login, nil
}

// Claim assigns issue n to the current account, then re-reads it. The claim
// holds only if we are the sole assignee; when another agent raced us the
// assignment is withdrawn and Claim returns false.
func (g *GitHubCLI) Claim(ctx context.Context, n int) (bool, error) {
	login, err := g.Login(ctx)
	if err != nil {
		return false, err
	}
	num := strconv.Itoa(n)
	if _, err := g.gh(ctx, "issue", "edit", num, "--add-assignee", login); err != nil {
		return false, fmt.Errorf("gh issue edit %d: %w", n, err)
	}

	out, err := g.gh(ctx, "issue", "view", num, "--json", "assignees")
	if err != nil {
		return false, fmt.Errorf("gh issue view %d: %w", n, err)
	}
	var issue Issue
	if err := json.Unmarshal(out, &issue); err != nil {
		return false, fmt.Errorf("parse gh issue view output: %w", err)
	}
	if len(issue.Assignees) == 1 && strings.EqualFold(issue.Assignees[0].Login, login) {
		return true, nil
	}
	if _, err := g.gh(ctx, "issue", "edit", num, "--remove-assignee", login); err != nil {
		return false, fmt.Errorf("withdraw claim on %d: %w", n, err)
	}
	return false, nil
}
