package domain

import "strings"

// EntitySource records whether an entity was mined from provider text or
// synthesized as a placeholder.
type EntitySource string

const (
	SourceExtracted   EntitySource = "extracted"
	SourceSynthesized EntitySource = "synthesized"
)

// LegalCaseEntity is a case citation found in (or synthesized for) a response.
type LegalCaseEntity struct {
	ID           string       `json:"id"`
	Title        string       `json:"title"`
	Citation     string       `json:"citation,omitempty"`
	Year         int          `json:"year,omitempty"`
	Jurisdiction string       `json:"jurisdiction"`
	Summary      string       `json:"summary"`
	Relevance    float64      `json:"relevance_score"`
	Source       EntitySource `json:"source"`
}

// StatuteEntity is a statute or code section found in a response.
type StatuteEntity struct {
	ID           string       `json:"id"`
	Title        string       `json:"title"`
	Code         string       `json:"code,omitempty"`
	Section      string       `json:"section,omitempty"`
	Jurisdiction string       `json:"jurisdiction"`
	Summary      string       `json:"summary"`
	Relevance    float64      `json:"relevance_score"`
	Source       EntitySource `json:"source"`
}

// StrengthAssessment scores are bounded [0,100].
type StrengthAssessment struct {
	Overall           float64 `json:"overall"`
	EvidenceBased     float64 `json:"evidence_based"`
	LegalBasis        float64 `json:"legal_basis"`
	JurisdictionalFit float64 `json:"jurisdictional_fit"`
}

// AnalysisVariant names the extraction path that produced an analysis.
type AnalysisVariant string

const (
	VariantStructured   AnalysisVariant = "structured"
	VariantUnstructured AnalysisVariant = "unstructured"
)

// LegalResearchAnalysis is the structured report built from provider text.
type LegalResearchAnalysis struct {
	Cases              []LegalCaseEntity  `json:"cases"`
	Statutes           []StatuteEntity    `json:"statutes"`
	Concepts           []string           `json:"concepts"`
	JurisdictionNotes  []string           `json:"jurisdiction_notes"`
	RecommendedActions []string           `json:"recommended_actions"`
	Strength           StrengthAssessment `json:"strength_assessment"`
	Variant            AnalysisVariant    `json:"variant"`
}

// EntityCount returns the number of cases plus statutes.
func (a LegalResearchAnalysis) EntityCount() int { return len(a.Cases) + len(a.Statutes) }

// PerformanceMetrics are heuristic quality scores for one response text.
// Scores are bounded [0,100]; counts are not.
type PerformanceMetrics struct {
	Accuracy         float64 `json:"accuracy"`
	Relevance        float64 `json:"relevance"`
	Reasoning        float64 `json:"reasoning"`
	StructureScore   float64 `json:"structure_score"`
	Overall          float64 `json:"overall"`
	WordCount        int     `json:"word_count"`
	LegalTermDensity float64 `json:"legal_term_density"`
	CitationCount    int     `json:"citation_count"`
	ResponseTimeMs   int64   `json:"response_time_ms"`
}

// Outcome of a case study.
type Outcome string

const (
	OutcomeWon     Outcome = "Won"
	OutcomeLost    Outcome = "Lost"
	OutcomeSettled Outcome = "Settled"
	OutcomePending Outcome = "Pending"
)

// ParseOutcome normalizes free text into an Outcome, defaulting to Pending.
func ParseOutcome(s string) Outcome {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "won", "win", "favorable":
		return OutcomeWon
	case "lost", "loss", "unfavorable":
		return OutcomeLost
	case "settled", "settlement":
		return OutcomeSettled
	}
	return OutcomePending
}

// CaseStudy is an illustrative case-outcome record.
type CaseStudy struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Summary         string   `json:"summary"`
	Outcome         Outcome  `json:"outcome"`
	WinProbability  float64  `json:"win_probability"`
	Relevance       float64  `json:"relevance_score"`
	KeyFactors      []string `json:"key_factors"`
	LegalPrinciples []string `json:"legal_principles"`
	Lessons         []string `json:"lessons"`
}

// Canonical jurisdiction tags. JurisdictionGeneral is used when none is given.
const (
	JurisdictionGeneral = "general"
	JurisdictionFederal = "us-federal"
	JurisdictionCA      = "california"
	JurisdictionNY      = "new york"
	JurisdictionTX      = "texas"
	JurisdictionUK      = "united kingdom"
	JurisdictionCanada  = "canada"
	JurisdictionAus     = "australia"
	JurisdictionEU      = "european union"
	JurisdictionIndia   = "india"
)

var jurisdictionAliases = map[string]string{
	"":               JurisdictionGeneral,
	"general":        JurisdictionGeneral,
	"us":             JurisdictionFederal,
	"usa":            JurisdictionFederal,
	"u.s.":           JurisdictionFederal,
	"federal":        JurisdictionFederal,
	"us-federal":     JurisdictionFederal,
	"united states":  JurisdictionFederal,
	"ca":             JurisdictionCA,
	"cal":            JurisdictionCA,
	"california":     JurisdictionCA,
	"ny":             JurisdictionNY,
	"new york":       JurisdictionNY,
	"tx":             JurisdictionTX,
	"texas":          JurisdictionTX,
	"uk":             JurisdictionUK,
	"gb":             JurisdictionUK,
	"england":        JurisdictionUK,
	"united kingdom": JurisdictionUK,
	"canada":         JurisdictionCanada,
	"au":             JurisdictionAus,
	"australia":      JurisdictionAus,
	"eu":             JurisdictionEU,
	"european union": JurisdictionEU,
	"in":             JurisdictionIndia,
	"india":          JurisdictionIndia,
}

// NormalizeJurisdiction maps user input onto a canonical tag. Unrecognized
// values are returned lower-cased and trimmed.
func NormalizeJurisdiction(s string) string {
	k := strings.ToLower(strings.Join(strings.Fields(s), " "))
	k = strings.ReplaceAll(k, "_", "-")
	if v, ok := jurisdictionAliases[k]; ok {
		return v
	}
	return k
}
