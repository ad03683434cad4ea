package synthesis

import (
	"math"
	"strings"

	"github.com/fairyhunter13/ai-legal-assistant/internal/domain"
)

// baselines before any nudges
const (
	baseOverall           = 65.0
	baseEvidence          = 60.0
	baseLegalBasis        = 60.0
	baseJurisdictionalFit = 70.0
)

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

func clamp100(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}

// assessStrength applies keyword and entity nudges to fixed baselines. Values
// are clamped only once every adjustment has been applied.
func assessStrength(text, juris string, a domain.LegalResearchAnalysis) domain.StrengthAssessment {
	lc := strings.ToLower(text)
	evidence, basis, fit := baseEvidence, baseLegalBasis, baseJurisdictionalFit

	if containsAny(lc, strongBasisMarkers) {
		basis += 10
	}
	if containsAny(lc, weakEvidenceMarkers) {
		evidence -= 10
	}
	if containsAny(lc, evidenceMarkers) {
		evidence += 5
	}
	if containsAny(lc, variesMarkers) {
		fit -= 5
	}
	if juris != "" && juris != domain.JurisdictionGeneral && strings.Contains(lc, juris) {
		fit += 10
	}

	extracted := 0
	for _, c := range a.Cases {
		if c.Source == domain.SourceExtracted {
			extracted++
		}
	}
	evidence += math.Min(20, 4*float64(extracted))
	basis += math.Min(20, 5*float64(len(a.Statutes)))
	if extracted == 0 && len(a.Statutes) == 0 {
		evidence -= 10
		basis -= 15
	}
	matching := 0
	for _, s := range a.Statutes {
		if s.Jurisdiction == juris {
			matching++
		}
	}
	fit += math.Min(10, 2.5*float64(matching))

	overall := baseOverall +
		0.4*(evidence-baseEvidence) +
		0.4*(basis-baseLegalBasis) +
		0.2*(fit-baseJurisdictionalFit)

	return domain.StrengthAssessment{
		Overall:           math.Round(clamp100(overall)),
		EvidenceBased:     math.Round(clamp100(evidence)),
		LegalBasis:        math.Round(clamp100(basis)),
		JurisdictionalFit: math.Round(clamp100(fit)),
	}
}
