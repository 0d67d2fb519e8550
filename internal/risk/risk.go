// Package risk converts change metrics into a 0-100 risk score and
// categorical level. Scoring is a pure function over its input and is safe to
// call concurrently.
package risk

import (
	"regexp"
	"strconv"
)

// Level is a categorical risk severity.
type Level string

const (
	LevelLow      Level = "LOW"
	LevelMedium   Level = "MEDIUM"
	LevelHigh     Level = "HIGH"
	LevelCritical Level = "CRITICAL"
)

// Factor is one weighted contribution to the overall score.
type Factor struct {
	Category    string `json:"category"`
	Severity    Level  `json:"severity"`
	Description string `json:"description"`
	Weight      int    `json:"weight"`
}

// Assessment is the result of scoring a change.
type Assessment struct {
	Level           Level    `json:"level"`
	Score           int      `json:"score"`
	Factors         []Factor `json:"factors"`
	Recommendations []string `json:"recommendations"`
}

// Input describes the change being scored.
type Input struct {
	FilesChanged []string `json:"files_changed"`
	LinesAdded   int      `json:"lines_added"`
	LinesRemoved int      `json:"lines_removed"`

	// TestCoverage is a percentage in [0,100]. Nil means unknown; the
	// coverage factor is skipped entirely.
	TestCoverage *float64 `json:"test_coverage,omitempty"`
}

// criticalRule matches file paths that raise risk regardless of change size.
// Rules are evaluated in declared order and the first match wins, so a file
// contributes at most one factor.
type criticalRule struct {
	pattern        *regexp.Regexp
	category       string
	severity       Level
	weight         int
	recommendation string
}

var criticalRules = []criticalRule{
	{
		pattern:        regexp.MustCompile(`(?i)(auth|login|credential|password|secret|token)`),
		category:       "authentication",
		severity:       LevelCritical,
		weight:         50,
		recommendation: "Authentication or credential handling changed: require a security-focused review before merge.",
	},
	{
		pattern:        regexp.MustCompile(`(?i)(payment|billing|invoice|checkout|subscription)`),
		category:       "payments",
		severity:       LevelCritical,
		weight:         50,
		recommendation: "Payment or billing code changed: verify against staging transactions before merge.",
	},
	{
		pattern:        regexp.MustCompile(`(?i)(schema|migration)`),
		category:       "schema",
		severity:       LevelHigh,
		weight:         40,
		recommendation: "Schema or migration changed: confirm the migration is reversible and tested against production-shaped data.",
	},
	{
		pattern:        regexp.MustCompile(`(?i)(security|permission|rbac|acl)`),
		category:       "security",
		severity:       LevelHigh,
		weight:         45,
		recommendation: "Security or permission logic changed: review for privilege escalation paths.",
	},
	{
		pattern:        regexp.MustCompile(`(?i)(routes?|endpoints?|controller)`),
		category:       "api",
		severity:       LevelMedium,
		weight:         30,
		recommendation: "API surface changed: check for breaking changes to existing clients.",
	},
	{
		pattern:        regexp.MustCompile(`(?i)(config|\.env|settings)`),
		category:       "configuration",
		severity:       LevelMedium,
		weight:         25,
		recommendation: "Configuration changed: verify values across all deployment environments.",
	},
	{
		pattern:        regexp.MustCompile(`(?i)middleware`),
		category:       "middleware",
		severity:       LevelMedium,
		weight:         20,
		recommendation: "Middleware changed: every request path is affected, verify ordering and error handling.",
	},
}

// Calculate scores a change. All factor weights are summed and the total is
// clamped to [0,100]; the coverage factor may reduce the total.
func Calculate(in Input) Assessment {
	var factors []Factor
	var recs []string

	// Critical-file factors, one per file, first matching rule wins.
	// Recommendations are deduplicated per rule but keep declared rule order.
	seenRule := make(map[string]bool)
	for _, file := range in.FilesChanged {
		for _, rule := range criticalRules {
			if !rule.pattern.MatchString(file) {
				continue
			}
			factors = append(factors, Factor{
				Category:    rule.category,
				Severity:    rule.severity,
				Description: "critical file changed: " + file,
				Weight:      rule.weight,
			})
			if !seenRule[rule.category] {
				seenRule[rule.category] = true
				recs = append(recs, rule.recommendation)
			}
			break
		}
	}

	// Magnitude factor.
	totalLines := in.LinesAdded + in.LinesRemoved
	magnitude := Factor{Category: "magnitude", Severity: LevelLow, Weight: 5}
	switch {
	case totalLines > 1000:
		magnitude.Severity, magnitude.Weight = LevelHigh, 20
	case totalLines > 500:
		magnitude.Severity, magnitude.Weight = LevelMedium, 15
	case totalLines > 200:
		magnitude.Severity, magnitude.Weight = LevelMedium, 10
	}
	magnitude.Description = describeCount(totalLines, "line changed", "lines changed")
	factors = append(factors, magnitude)
	if totalLines > 500 {
		recs = append(recs, "Large change: consider splitting into smaller, independently reviewable patches.")
	}

	// Coverage factor, only when coverage is known.
	if in.TestCoverage != nil {
		cov := *in.TestCoverage
		coverage := Factor{Category: "coverage", Severity: LevelLow, Weight: -5}
		switch {
		case cov < 50:
			coverage.Severity, coverage.Weight = LevelHigh, 20
		case cov < 70:
			coverage.Severity, coverage.Weight = LevelMedium, 10
		case cov < 85:
			coverage.Severity, coverage.Weight = LevelLow, 0
		}
		coverage.Description = describeCoverage(cov)
		factors = append(factors, coverage)
		if cov < 70 {
			recs = append(recs, "Test coverage is low: add tests covering the modified paths before merging.")
		}
	}

	// File-count factor.
	count := len(in.FilesChanged)
	fileCount := Factor{Category: "file_count", Severity: LevelLow, Weight: 2}
	switch {
	case count > 20:
		fileCount.Severity, fileCount.Weight = LevelHigh, 15
	case count > 10:
		fileCount.Severity, fileCount.Weight = LevelMedium, 10
	case count > 5:
		fileCount.Severity, fileCount.Weight = LevelLow, 5
	}
	fileCount.Description = describeCount(count, "file changed", "files changed")
	factors = append(factors, fileCount)
	if count > 10 {
		recs = append(recs, "Many files changed: verify the change is a single logical unit.")
	}

	score := 0
	for _, f := range factors {
		score += f.Weight
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	level := levelFor(score)
	switch level {
	case LevelCritical:
		recs = append(recs, "Critical risk: require sign-off from a code owner and a staged rollout.")
	case LevelHigh:
		recs = append(recs, "High risk: require at least one additional reviewer.")
	}

	return Assessment{
		Level:           level,
		Score:           score,
		Factors:         factors,
		Recommendations: recs,
	}
}

func levelFor(score int) Level {
	switch {
	case score >= 70:
		return LevelCritical
	case score >= 50:
		return LevelHigh
	case score >= 30:
		return LevelMedium
	default:
		return LevelLow
	}
}

func describeCount(n int, singular, plural string) string {
	if n == 1 {
		return "1 " + singular
	}
	return strconv.Itoa(n) + " " + plural
}

func describeCoverage(cov float64) string {
	switch {
	case cov < 50:
		return "test coverage below 50%"
	case cov < 70:
		return "test coverage below 70%"
	case cov < 85:
		return "test coverage below 85%"
	default:
		return "test coverage at or above 85%"
	}
}
