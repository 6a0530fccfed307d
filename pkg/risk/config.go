package risk

import "warden/pkg/protocol"

// Config holds the engine's thresholds and path classifications. Zero
// values are replaced by defaults; an explicitly empty pattern list is kept
// only when set through the field directly after withDefaults.
type Config struct {
	MaxDiffLines     int `toml:"max_diff_lines"`    // large_diff threshold (default 300)
	MediumEscalation int `toml:"medium_escalation"` // medium flags that escalate to high (default 3)
	ReviewRoundsMax  int `toml:"review_rounds_max"` // skip tier bound (default 3)

	SensitivePatterns    []string `toml:"sensitive_patterns"`
	ArchitecturePatterns []string `toml:"architecture_patterns"`
	DependencyManifests  []string `toml:"dependency_manifests"`
	CodeExtensions       []string `toml:"code_extensions"`
	TestPatterns         []string `toml:"test_patterns"`
	TrustedAuthors       []string `toml:"trusted_authors"`
}

// DefaultConfig returns the built-in thresholds.
func DefaultConfig() Config {
	return Config{}.withDefaults()
}

func (c Config) withDefaults() Config {
	out := c
	if out.MaxDiffLines <= 0 {
		out.MaxDiffLines = 300
	}
	if out.MediumEscalation <= 0 {
		out.MediumEscalation = 3
	}
	if out.ReviewRoundsMax <= 0 {
		out.ReviewRoundsMax = protocol.DefaultReviewRoundsMax
	}
	if out.SensitivePatterns == nil {
		out.SensitivePatterns = []string{
			".github/", "secrets/", "infra/", "terraform/", "deploy/",
			".env", "*.env", "*.tf", "*.pem", "*.key",
			"Dockerfile", "docker-compose.yml", "docker-compose.yaml",
		}
	}
	if out.ArchitecturePatterns == nil {
		out.ArchitecturePatterns = []string{"models/", "routes/", "services/", "migrations/", "schema/"}
	}
	if out.DependencyManifests == nil {
		out.DependencyManifests = []string{
			"go.mod", "go.sum", "package.json", "package-lock.json", "yarn.lock", "pnpm-lock.yaml",
			"requirements.txt", "pyproject.toml", "poetry.lock", "Pipfile", "Pipfile.lock",
			"Gemfile", "Gemfile.lock", "Cargo.toml", "Cargo.lock",
		}
	}
	if out.CodeExtensions == nil {
		out.CodeExtensions = []string{
			".go", ".py", ".js", ".jsx", ".ts", ".tsx", ".rb", ".rs", ".java", ".kt",
			".swift", ".c", ".cc", ".cpp", ".h", ".cs", ".php", ".sh",
		}
	}
	if out.TestPatterns == nil {
		out.TestPatterns = []string{
			"*_test.go", "test_*.py", "*_test.py", "*.test.js", "*.test.ts", "*.test.tsx",
			"*.spec.js", "*.spec.ts", "*_spec.rb", "tests/", "test/", "__tests__/", "spec/",
		}
	}
	if out.TrustedAuthors == nil {
		out.TrustedAuthors = []string{"github-actions[bot]"}
	}
	return out
}
