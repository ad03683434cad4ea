// Package scoring computes heuristic quality metrics for an answer text and
// ranks competing answers. Scores use surface features only; there is no
// ground truth.
package scoring

import (
	"math"
	"strings"
	"time"

	"github.com/fairyhunter13/ai-legal-assistant/internal/domain"
	"github.com/fairyhunter13/ai-legal-assistant/internal/service/synthesis"
	"github.com/fairyhunter13/ai-legal-assistant/pkg/textx"
)

const (
	baseAccuracy  = 72.0
	baseRelevance = 75.0
	baseReasoning = 70.0
	baseStructure = 70.0
)

var legalTerms = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`plaintiff defendant statute statutory jurisdiction liability liable tenant
		landlord lease contract court precedent damages breach negligence notice appeal ruling held
		section code act law legal rights obligation remedy claim evidence burden counsel attorney
		judgment injunction eviction tort agreement clause regulation compliance lawsuit litigation
		settlement custody employer employee discrimination ordinance enforceable void`) {
		legalTerms[w] = struct{}{}
	}
}

var (
	conclusionMarkers = []string{"in conclusion", "in summary", "to summarize", "therefore", "overall,", "recommend", "next steps", "bottom line"}
	reasoningMarkers  = []string{"because", "therefore", "however", "although", "as a result", "consequently", "which means", "unless"}
	// phrases a model uses when it declines to answer
	refusalMarkers = []string{"i'm sorry", "i cannot", "i can't", "i'm unable", "i am unable", "i apologize", "i'm afraid", "as an ai"}
)

// Features are the raw surface measurements behind a score.
type Features struct {
	Words      int
	Sentences  int
	TermHits   int
	Citations  int
	Headings   int
	ListItems  int
	Emphasis   int
	Paragraphs int
	Conclusion bool
	Connectors int
	Refusal    bool
	Repetitive bool
}

// Extract measures text.
func Extract(text string) Features {
	var f Features
	words := textx.Words(text)
	f.Words = len(words)
	for _, w := range words {
		if _, ok := legalTerms[w]; ok {
			f.TermHits++
		}
	}
	f.Sentences = len(textx.Sentences(text))
	f.Citations = synthesis.CitationCount(text)

	inPara := false
	for _, line := range strings.Split(text, "\n") {
		t := strings.TrimSpace(line)
		switch {
		case t == "":
			inPara = false
			continue
		case strings.HasPrefix(t, "#"):
			f.Headings++
		case strings.HasPrefix(t, "- "), strings.HasPrefix(t, "* "), strings.HasPrefix(t, "• "), isNumbered(t):
			f.ListItems++
		}
		if !inPara {
			f.Paragraphs++
			inPara = true
		}
	}
	f.Emphasis = strings.Count(text, "**") / 2

	lc := strings.ToLower(text)
	for _, m := range conclusionMarkers {
		if strings.Contains(lc, m) {
			f.Conclusion = true
			break
		}
	}
	for _, m := range reasoningMarkers {
		f.Connectors += strings.Count(lc, m)
	}
	for _, m := range refusalMarkers {
		if strings.Contains(lc, m) {
			f.Refusal = true
			break
		}
	}
	f.Repetitive = repetitive(words)
	return f
}

func isNumbered(s string) bool {
	i := 0
	for i < len(s) && i < 3 && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return i > 0 && i+1 < len(s) && (s[i] == '.' || s[i] == ')') && s[i+1] == ' '
}

// repetitive reports any three-word phrase occurring more than twice.
func repetitive(words []string) bool {
	if len(words) < 10 {
		return false
	}
	seen := map[string]int{}
	for i := 0; i+2 < len(words); i++ {
		k := words[i] + " " + words[i+1] + " " + words[i+2]
		seen[k]++
		if seen[k] > 2 {
			return true
		}
	}
	return false
}

// Density is legal-term hits as a percentage of words.
func (f Features) Density() float64 {
	if f.Words == 0 {
		return 0
	}
	return float64(f.TermHits) / float64(f.Words) * 100
}

func clamp100(v float64) float64 { return math.Max(0, math.Min(100, v)) }

// Score computes bounded metrics for text. Each metric accumulates its
// adjustments from a baseline and is clamped once at the end.
func Score(text string, elapsed time.Duration) domain.PerformanceMetrics {
	f := Extract(text)
	density := f.Density()
	short := f.Words < 50

	accuracy := baseAccuracy
	switch {
	case density > 5:
		accuracy += 10
	case density > 2:
		accuracy += 5
	}
	if f.Citations >= 1 {
		accuracy += 5
	}
	if f.Citations >= 3 {
		accuracy += 5
	}
	if short {
		accuracy -= 15
	}
	if f.Refusal {
		accuracy -= 20
	}

	relevance := baseRelevance
	if f.Words >= 150 && f.Words <= 1200 {
		relevance += 5
	}
	if f.Words > 2000 {
		relevance -= 5
	}
	if f.Conclusion {
		relevance += 5
	}
	if short {
		relevance -= 15
	}
	if f.Refusal {
		relevance -= 20
	}

	reasoning := baseReasoning
	if f.Connectors >= 2 {
		reasoning += 8
	}
	if f.Citations >= 1 {
		reasoning += 5
	}
	if f.Conclusion {
		reasoning += 5
	}
	if f.Sentences >= 5 {
		reasoning += 4
	}
	if f.Repetitive {
		reasoning -= 10
	}
	if short {
		reasoning -= 15
	}

	structure := baseStructure
	switch {
	case f.Headings >= 2:
		structure += 10
	case f.Headings == 1:
		structure += 5
	}
	if f.ListItems >= 2 {
		structure += 5
	}
	if f.Emphasis > 0 {
		structure += 3
	}
	if f.Paragraphs >= 3 {
		structure += 5
	}
	if f.Headings == 0 && f.ListItems == 0 && f.Paragraphs <= 1 && f.Words > 200 {
		structure -= 10
	}
	if short {
		structure -= 10
	}

	accuracy, relevance, reasoning, structure = clamp100(accuracy), clamp100(relevance), clamp100(reasoning), clamp100(structure)
	return domain.PerformanceMetrics{
		Accuracy:         math.Round(accuracy),
		Relevance:        math.Round(relevance),
		Reasoning:        math.Round(reasoning),
		StructureScore:   math.Round(structure),
		Overall:          Overall(accuracy, relevance, reasoning),
		WordCount:        f.Words,
		LegalTermDensity: math.Round(density*100) / 100,
		CitationCount:    f.Citations,
		ResponseTimeMs:   elapsed.Milliseconds(),
	}
}

// Overall applies the fixed 0.4/0.3/0.3 weighting.
func Overall(accuracy, relevance, reasoning float64) float64 {
	return math.Round(0.4*accuracy + 0.3*relevance + 0.3*reasoning)
}

// Candidate is one scored answer.
type Candidate struct {
	ID      string
	Metrics domain.PerformanceMetrics
}

// Rank returns the index of the highest Overall; ties keep the earliest.
// It returns -1 for no candidates.
func Rank(cands []Candidate) int {
	best := -1
	for i, c := range cands {
		if best < 0 || c.Metrics.Overall > cands[best].Metrics.Overall {
			best = i
		}
	}
	return best
}
