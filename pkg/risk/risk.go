// Package risk implements the deterministic risk assessment that gates
// autonomous approval of a change.
//
// Assess is a pure function of its inputs: identical Stats and Config always
// yield the identical Assessment. It never fails. Missing or malformed stats
// fail closed to LevelHigh with AutoApprovable=false.
package risk

import (
	"fmt"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Level is a coarse classification of how safe a change is to auto-approve.
type Level string

// Risk levels in increasing order of caution. LevelSkip means the change is
// not ready for a risk decision at all.
const (
	LevelSkip   Level = "skip"
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// CIStatus is the binary-plus-pending CI signal for the change head.
type CIStatus string

// Known CI states.
const (
	CIPassing CIStatus = "passing"
	CIFailing CIStatus = "failing"
	CIPending CIStatus = "pending"
)

// FileStatus describes how a file changed.
type FileStatus string

// Known file change kinds.
const (
	FileAdded    FileStatus = "added"
	FileModified FileStatus = "modified"
	FileRemoved  FileStatus = "removed"
	FileRenamed  FileStatus = "renamed"
)

// File is one changed path.
type File struct {
	Path      string     `json:"path"`
	Status    FileStatus `json:"status,omitempty"`
	Additions int        `json:"additions"`
	Deletions int        `json:"deletions"`
}

// Stats are the change facts the engine evaluates. Pointer fields are
// required: nil means "unknown", which fails closed.
type Stats struct {
	PRNumber    int      `json:"pr_number"`
	Draft       *bool    `json:"draft"`
	CI          CIStatus `json:"ci"`
	Author      string   `json:"author"`
	Body        string   `json:"body,omitempty"`
	LinkedIssue *int     `json:"linked_issue,omitempty"`
	Additions   *int     `json:"additions"`
	Deletions   *int     `json:"deletions"`
	Files       []File   `json:"files"`
	Round       *int     `json:"round"`
}

// Flag is a single finding.
type Flag struct {
	Flag   string `json:"flag"`
	Risk   Level  `json:"risk"`
	Detail string `json:"detail"`
}

// Flag names.
const (
	FlagMalformed      = "malformed_input"
	FlagDraft          = "draft"
	FlagCIFailing      = "ci_failing"
	FlagCIPending      = "ci_pending"
	FlagRoundsExceeded = "review_rounds_exhausted"
	FlagLargeDiff      = "large_diff"
	FlagSensitivePath  = "sensitive_path"
	FlagArchitecture   = "architecture_change"
	FlagPriorFixRound  = "prior_fix_round"
	FlagDependency     = "dependency_change"
	FlagMissingTests   = "missing_tests"
	FlagNoLinkedIssue  = "no_linked_issue"
	FlagUntrusted      = "untrusted_author"
	FlagMediumEscalate = "medium_flags_escalated"
)

// Assessment is the derived, uncached result for one change.
type Assessment struct {
	Level          Level   `json:"risk_level"`
	AutoApprovable bool    `json:"auto_approvable"`
	Flags          []Flag  `json:"flags"`
	Stats          Summary `json:"stats"`
}

// Summary is the stats block echoed in assessment output.
type Summary struct {
	DiffLines      int  `json:"diff_lines"`
	FilesChanged   int  `json:"files_changed"`
	CodeFiles      int  `json:"code_files"`
	TestFiles      int  `json:"test_files"`
	Round          int  `json:"round"`
	CIPassing      bool `json:"ci_passing"`
	TrustedAuthor  bool `json:"trusted_author"`
	HasLinkedIssue bool `json:"has_linked_issue"`
}

// HasFlag reports whether the assessment carries flag.
func (a Assessment) HasFlag(flag string) bool {
	return slices.ContainsFunc(a.Flags, func(f Flag) bool { return f.Flag == flag })
}

// Assess evaluates stats against cfg. Evaluation order: the skip tier (first
// match wins), then high-tier flags, then medium-tier flags, which escalate
// to high once cfg.MediumEscalation of them accumulate.
func Assess(stats Stats, cfg Config) (a Assessment) {
	cfg = cfg.withDefaults()

	// Totality: any panic from unexpected input still fails closed.
	defer func() {
		if r := recover(); r != nil {
			a = failClosed(fmt.Sprintf("evaluation panic: %v", r))
		}
	}()

	if problem := missingField(stats); problem != "" {
		return failClosed(problem)
	}

	round := *stats.Round
	diff := *stats.Additions + *stats.Deletions
	author := NormalizeLogin(stats.Author)
	trusted := slices.ContainsFunc(cfg.TrustedAuthors, func(t string) bool { return NormalizeLogin(t) == author })
	linked := (stats.LinkedIssue != nil && *stats.LinkedIssue > 0) || LinkedIssue(stats.Body) > 0
	codeFiles, testFiles := countCodeAndTests(stats.Files, cfg)

	a.Stats = Summary{
		DiffLines:      diff,
		FilesChanged:   len(stats.Files),
		CodeFiles:      codeFiles,
		TestFiles:      testFiles,
		Round:          round,
		CIPassing:      stats.CI == CIPassing,
		TrustedAuthor:  trusted,
		HasLinkedIssue: linked,
	}
	a.Flags = []Flag{}

	// 1. Skip tier.
	switch {
	case *stats.Draft:
		return a.skip(FlagDraft, "change is a draft")
	case stats.CI == CIFailing:
		return a.skip(FlagCIFailing, "CI is failing")
	case stats.CI == CIPending:
		return a.skip(FlagCIPending, "CI is still running")
	case round >= cfg.ReviewRoundsMax:
		return a.skip(FlagRoundsExceeded, fmt.Sprintf("review round %d has reached the limit of %d", round, cfg.ReviewRoundsMax))
	}

	// 2. High tier.
	high := 0
	addHigh := func(flag, detail string) {
		a.Flags = append(a.Flags, Flag{Flag: flag, Risk: LevelHigh, Detail: detail})
		high++
	}
	if diff > cfg.MaxDiffLines {
		addHigh(FlagLargeDiff, fmt.Sprintf("%d lines changed (threshold %d)", diff, cfg.MaxDiffLines))
	}
	if hits := matchingPaths(stats.Files, cfg.SensitivePatterns, nil); len(hits) > 0 {
		addHigh(FlagSensitivePath, "touches "+strings.Join(hits, ", "))
	}
	added := func(f File) bool { return f.Status == FileAdded }
	if hits := matchingPaths(stats.Files, cfg.ArchitecturePatterns, added); len(hits) > 0 {
		addHigh(FlagArchitecture, "adds "+strings.Join(hits, ", "))
	}
	if round > 0 {
		addHigh(FlagPriorFixRound, fmt.Sprintf("already in review round %d", round))
	}

	// 3. Medium tier.
	medium := 0
	addMedium := func(flag, detail string) {
		a.Flags = append(a.Flags, Flag{Flag: flag, Risk: LevelMedium, Detail: detail})
		medium++
	}
	if hits := matchingPaths(stats.Files, cfg.DependencyManifests, nil); len(hits) > 0 {
		addMedium(FlagDependency, "changes "+strings.Join(hits, ", "))
	}
	if codeFiles > 0 && testFiles == 0 {
		addMedium(FlagMissingTests, fmt.Sprintf("%d code file(s) changed without tests", codeFiles))
	}
	if !linked {
		addMedium(FlagNoLinkedIssue, "no linked issue in description")
	}
	if !trusted {
		addMedium(FlagUntrusted, fmt.Sprintf("author %q is not a trusted automated identity", stats.Author))
	}

	switch {
	case high > 0:
		a.Level = LevelHigh
	case medium >= cfg.MediumEscalation:
		a.Level = LevelHigh
		a.Flags = append(a.Flags, Flag{
			Flag:   FlagMediumEscalate,
			Risk:   LevelHigh,
			Detail: fmt.Sprintf("%d medium flags (threshold %d)", medium, cfg.MediumEscalation),
		})
	case medium > 0:
		a.Level = LevelMedium
	default:
		a.Level = LevelLow
	}

	a.AutoApprovable = a.Level == LevelLow && stats.CI == CIPassing && trusted && linked && round == 0
	return a
}

func (a Assessment) skip(flag, detail string) Assessment {
	a.Level = LevelSkip
	a.AutoApprovable = false
	a.Flags = append(a.Flags, Flag{Flag: flag, Risk: LevelSkip, Detail: detail})
	return a
}

func failClosed(detail string) Assessment {
	return Assessment{
		Level:          LevelHigh,
		AutoApprovable: false,
		Flags:          []Flag{{Flag: FlagMalformed, Risk: LevelHigh, Detail: detail}},
	}
}

// missingField names the first required stat that is absent or invalid.
// NormalizeLogin returns the REST form of a GitHub login. gh reports app
// authors as "app/<slug>" while the REST API and most configuration use
// "<slug>[bot]"; both spellings map to the latter.
func NormalizeLogin(login string) string {
	login = strings.TrimSpace(login)
	if slug, ok := strings.CutPrefix(login, "app/"); ok && slug != "" {
		return slug + "[bot]"
	}
	return login
}

func missingField(s Stats) string {
	switch {
	case s.Draft == nil:
		return "draft state is unknown"
	case s.CI != CIPassing && s.CI != CIFailing && s.CI != CIPending:
		return fmt.Sprintf("CI status %q is not one of passing, failing, pending", s.CI)
	case strings.TrimSpace(s.Author) == "":
		return "author is unknown"
	case s.Additions == nil || s.Deletions == nil:
		return "diff size is unknown"
	case *s.Additions < 0 || *s.Deletions < 0:
		return "diff size is negative"
	case s.Files == nil:
		return "changed file list is unknown"
	case s.Round == nil:
		return "review round is unknown"
	case *s.Round < 0:
		return "review round is negative"
	}
	for _, f := range s.Files {
		if strings.TrimSpace(f.Path) == "" {
			return "changed file with empty path"
		}
	}
	return ""
}

func countCodeAndTests(files []File, cfg Config) (code, tests int) {
	for _, f := range files {
		if f.Status == FileRemoved {
			continue
		}
		switch {
		case matchesAny(f.Path, cfg.TestPatterns):
			tests++
		case slices.Contains(cfg.CodeExtensions, strings.ToLower(path.Ext(f.Path))):
			code++
		}
	}
	return code, tests
}

func matchingPaths(files []File, patterns []string, keep func(File) bool) []string {
	var hits []string
	for _, f := range files {
		if keep != nil && !keep(f) {
			continue
		}
		if matchesAny(f.Path, patterns) {
			hits = append(hits, f.Path)
		}
	}
	return hits
}

// matchesAny reports whether p matches one of patterns. A pattern ending in
// "/" matches any path under that directory, at the root or nested; any
// other pattern is a path.Match glob tried against the full path and the
// base name.
func matchesAny(p string, patterns []string) bool {
	p = strings.TrimPrefix(path.Clean("/"+p), "/")
	base := path.Base(p)
	for _, pat := range patterns {
		if dir, ok := strings.CutSuffix(pat, "/"); ok {
			dir = strings.TrimPrefix(dir, "/")
			if strings.HasPrefix(p, dir+"/") || strings.Contains(p, "/"+dir+"/") {
				return true
			}
			continue
		}
		if ok, _ := path.Match(pat, p); ok {
			return true
		}
		if ok, _ := path.Match(pat, base); ok {
			return true
		}
	}
	return false
}

var linkedIssueRe = regexp.MustCompile(`(?i)\b(?:close[sd]?|fix(?:e[sd])?|resolve[sd]?)\s*:?\s+#(\d+)\b`)

// LinkedIssue returns the first issue number referenced by a closing keyword
// ("Closes #12", "fixes #3", "Resolved: #7") in a change description, or 0.
func LinkedIssue(body string) int {
	m := linkedIssueRe.FindStringSubmatch(body)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

// Report is the serialized assessment output.
type Report struct {
	PRNumber       int     `json:"pr_number"`
	RiskLevel      Level   `json:"risk_level"`
	AutoApprovable bool    `json:"auto_approvable"`
	Flags          []Flag  `json:"flags"`
	Stats          Summary `json:"stats"`
	Timestamp      string  `json:"timestamp"`
}

// NewReport stamps an assessment for output.
func NewReport(pr int, a Assessment, now time.Time) Report {
	return Report{
		PRNumber:       pr,
		RiskLevel:      a.Level,
		AutoApprovable: a.AutoApprovable,
		Flags:          a.Flags,
		Stats:          a.Stats,
		Timestamp:      now.UTC().Format(time.RFC3339),
	}
}
