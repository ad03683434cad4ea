package scoring

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-legal-assistant/internal/domain"
)

const structuredAnswer = `## Overview
In California, a landlord must give a tenant written notice before ending a periodic tenancy, because California Civil Code Section 1946 requires it.

## Authorities
- California Civil Code Section 1946 sets the notice period.
- Jordan v. Talbot (1961) held a landlord liable for a forcible lockout.
- The court reasoned that self-help eviction breaches the lease; however, the tenant must still pay rent.

## Recommendation
**Therefore**, you should keep copies of every notice and consult an attorney if the landlord changes the locks.
The tenant can also file a claim for damages. Evidence of the lockout, such as photos and messages, strengthens the claim.`

func assertBounded(t *testing.T, m domain.PerformanceMetrics) {
	t.Helper()
	for name, v := range map[string]float64{
		"accuracy": m.Accuracy, "relevance": m.Relevance, "reasoning": m.Reasoning,
		"structure": m.StructureScore, "overall": m.Overall,
	} {
		assert.GreaterOrEqual(t, v, 0.0, name)
		assert.LessOrEqual(t, v, 100.0, name)
	}
}

func TestScore_Bounded(t *testing.T) {
	t.Parallel()

	long := strings.Repeat(structuredAnswer+"\n\n", 200)
	refusal := "I'm sorry, I cannot help with that."
	for name, text := range map[string]string{
		"empty":      "",
		"refusal":    refusal,
		"structured": structuredAnswer,
		"very long":  long,
		"one blob":   strings.Repeat("word ", 5000),
	} {
		t.Run(name, func(t *testing.T) {
			assertBounded(t, Score(text, time.Second))
		})
	}
}

func TestScore_Empty(t *testing.T) {
	t.Parallel()

	m := Score("", 0)
	assert.Equal(t, 57.0, m.Accuracy)
	assert.Equal(t, 60.0, m.Relevance)
	assert.Equal(t, 55.0, m.Reasoning)
	assert.Equal(t, 60.0, m.StructureScore)
	assert.Equal(t, 57.0, m.Overall)
	assert.Zero(t, m.WordCount)
	assert.Zero(t, m.LegalTermDensity)
}

func TestScore_StructuredAnswerBeatsRefusal(t *testing.T) {
	t.Parallel()

	good := Score(structuredAnswer, 1500*time.Millisecond)
	bad := Score("I'm sorry, I cannot help with that.", 0)

	assert.Greater(t, good.Overall, bad.Overall)
	assert.Equal(t, int64(1500), good.ResponseTimeMs)
	assert.Equal(t, 2, good.CitationCount)
	assert.Greater(t, good.LegalTermDensity, 5.0)
	assert.Equal(t, Overall(good.Accuracy, good.Relevance, good.Reasoning), good.Overall)
}

func TestExtract_Features(t *testing.T) {
	t.Parallel()

	f := Extract(structuredAnswer)
	assert.Equal(t, 3, f.Headings)
	assert.Equal(t, 3, f.ListItems)
	assert.Equal(t, 1, f.Emphasis)
	assert.True(t, f.Conclusion)
	assert.GreaterOrEqual(t, f.Connectors, 2)
	assert.False(t, f.Refusal)
	assert.False(t, f.Repetitive)

	assert.True(t, Extract(strings.Repeat("the same phrase ", 4)).Repetitive)
	assert.True(t, isNumbered("1. first"))
	assert.True(t, isNumbered("12) twelfth"))
	assert.False(t, isNumbered("1946 was the year"))
}

func TestOverall(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 80.0, Overall(80, 80, 80))
	// 0.4*90 + 0.3*60 + 0.3*71 = 75.3
	assert.Equal(t, 75.0, Overall(90, 60, 71))
}

func TestRank(t *testing.T) {
	t.Parallel()

	assert.Equal(t, -1, Rank(nil))

	cands := []Candidate{
		{ID: "a", Metrics: domain.PerformanceMetrics{Overall: 70}},
		{ID: "b", Metrics: domain.PerformanceMetrics{Overall: 82}},
		{ID: "c", Metrics: domain.PerformanceMetrics{Overall: 82}},
	}
	require.Equal(t, 1, Rank(cands))
	assert.Equal(t, "b", cands[Rank(cands)].ID)
}
