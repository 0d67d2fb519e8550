package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculate_EmptyChange(t *testing.T) {
	a := Calculate(Input{})

	assert.Equal(t, LevelLow, a.Level)
	assert.LessOrEqual(t, a.Score, 10)
}

func TestCalculate_AuthFileLargeChange(t *testing.T) {
	a := Calculate(Input{
		FilesChanged: []string{"src/auth/login.ts"},
		LinesAdded:   1000,
		LinesRemoved: 200,
	})

	assert.Equal(t, LevelCritical, a.Level)
	assert.GreaterOrEqual(t, a.Score, 70)
	require.NotEmpty(t, a.Factors)
	assert.Equal(t, "authentication", a.Factors[0].Category)
}

func TestCalculate_FirstMatchingRuleWins(t *testing.T) {
	// Matches both the auth and config rules; only auth (declared first)
	// should contribute.
	a := Calculate(Input{FilesChanged: []string{"config/auth.yaml"}})

	var matched []string
	for _, f := range a.Factors {
		if f.Category == "authentication" || f.Category == "configuration" {
			matched = append(matched, f.Category)
		}
	}
	assert.Equal(t, []string{"authentication"}, matched)
}

func TestCalculate_MagnitudeThresholds(t *testing.T) {
	cases := []struct {
		total  int
		weight int
		sev    Level
	}{
		{1500, 20, LevelHigh},
		{700, 15, LevelMedium},
		{300, 10, LevelMedium},
		{50, 5, LevelLow},
	}

	for _, tc := range cases {
		a := Calculate(Input{LinesAdded: tc.total})
		f := factorByCategory(t, a, "magnitude")
		assert.Equal(t, tc.weight, f.Weight, "total=%d", tc.total)
		assert.Equal(t, tc.sev, f.Severity, "total=%d", tc.total)
	}
}

func TestCalculate_FileCountThresholds(t *testing.T) {
	cases := []struct {
		count  int
		weight int
	}{
		{25, 15},
		{15, 10},
		{7, 5},
		{3, 2},
	}

	for _, tc := range cases {
		files := make([]string, tc.count)
		for i := range files {
			files[i] = "pkg/util/helpers.go"
		}
		a := Calculate(Input{FilesChanged: files})
		f := factorByCategory(t, a, "file_count")
		assert.Equal(t, tc.weight, f.Weight, "count=%d", tc.count)
	}
}

func TestCalculate_CoverageFactor(t *testing.T) {
	cov := func(v float64) *float64 { return &v }

	cases := []struct {
		coverage float64
		weight   int
	}{
		{40, 20},
		{60, 10},
		{80, 0},
		{90, -5},
	}

	for _, tc := range cases {
		a := Calculate(Input{TestCoverage: cov(tc.coverage)})
		f := factorByCategory(t, a, "coverage")
		assert.Equal(t, tc.weight, f.Weight, "coverage=%f", tc.coverage)
	}

	// Absent coverage contributes no factor at all.
	a := Calculate(Input{})
	for _, f := range a.Factors {
		assert.NotEqual(t, "coverage", f.Category)
	}
}

func TestCalculate_HighCoverageReducesScore(t *testing.T) {
	cov := 95.0
	with := Calculate(Input{LinesAdded: 300, TestCoverage: &cov})
	without := Calculate(Input{LinesAdded: 300})

	assert.Less(t, with.Score, without.Score)
}

func TestCalculate_ScoreClamped(t *testing.T) {
	files := []string{
		"src/auth/login.go",
		"src/payments/charge.go",
		"db/migrations/001.sql",
		"src/security/rbac.go",
	}
	a := Calculate(Input{FilesChanged: files, LinesAdded: 5000})

	assert.Equal(t, 100, a.Score)
	assert.Equal(t, LevelCritical, a.Level)
}

func TestCalculate_RecommendationOrderStable(t *testing.T) {
	in := Input{
		FilesChanged: []string{"src/auth/login.go", "db/schema.sql"},
		LinesAdded:   800,
	}

	first := Calculate(in)
	second := Calculate(in)
	require.Equal(t, first.Recommendations, second.Recommendations)

	// Critical-file recommendations come before the magnitude one.
	require.GreaterOrEqual(t, len(first.Recommendations), 3)
	assert.Contains(t, first.Recommendations[0], "Authentication")
	assert.Contains(t, first.Recommendations[1], "migration")
	assert.Contains(t, first.Recommendations[2], "Large change")
}

func TestLevelFor(t *testing.T) {
	assert.Equal(t, LevelLow, levelFor(0))
	assert.Equal(t, LevelLow, levelFor(29))
	assert.Equal(t, LevelMedium, levelFor(30))
	assert.Equal(t, LevelMedium, levelFor(49))
	assert.Equal(t, LevelHigh, levelFor(50))
	assert.Equal(t, LevelHigh, levelFor(69))
	assert.Equal(t, LevelCritical, levelFor(70))
	assert.Equal(t, LevelCritical, levelFor(100))
}

func factorByCategory(t *testing.T, a Assessment, category string) Factor {
	t.Helper()
	for _, f := range a.Factors {
		if f.Category == category {
			return f
		}
	}
	t.Fatalf("no factor with category %q", category)
	return Factor{}
}
