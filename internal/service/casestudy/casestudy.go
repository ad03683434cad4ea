// Package casestudy builds illustrative case-outcome records from a provider
// narrative and estimates win probabilities.
package casestudy

import (
	"encoding/json"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fairyhunter13/ai-legal-assistant/internal/domain"
	"github.com/fairyhunter13/ai-legal-assistant/internal/service/synthesis"
	"github.com/fairyhunter13/ai-legal-assistant/pkg/textx"
)

const (
	minWin = 5.0
	maxWin = 95.0

	indicatorBase = 50.0
	strongStep    = 8.0
	weakStep      = 10.0
)

var (
	strongIndicators = []string{
		"clear evidence", "strong evidence", "well documented", "well-documented", "written agreement",
		"written lease", "clear precedent", "favorable ruling", "witness", "prevailed", "statutory violation",
	}
	weakIndicators = []string{
		"no documentation", "no evidence", "lack of evidence", "verbal agreement", "oral agreement",
		"missed deadline", "statute of limitations has", "unfavorable", "weak case", "no witnesses",
	}
)

// jurisdictionAdjustment is relative to US federal law.
var jurisdictionAdjustment = map[string]float64{
	domain.JurisdictionGeneral: 0,
	domain.JurisdictionFederal: 0,
	domain.JurisdictionCA:      -2,
	domain.JurisdictionNY:      -3,
	domain.JurisdictionTX:      -4,
	domain.JurisdictionUK:      -5,
	domain.JurisdictionCanada:  -6,
	domain.JurisdictionAus:     -7,
	domain.JurisdictionEU:      -8,
	domain.JurisdictionIndia:   -10,
}

const unknownJurisdictionAdjustment = -15.0

// JurisdictionAdjustment returns the fixed offset for a jurisdiction tag.
func JurisdictionAdjustment(jurisdiction string) float64 {
	if v, ok := jurisdictionAdjustment[domain.NormalizeJurisdiction(jurisdiction)]; ok {
		return v
	}
	return unknownJurisdictionAdjustment
}

// WinProbability scores text by indicator phrases from 50, blends 60/40 with
// the mean of existing probabilities, applies the jurisdiction offset and
// clamps to [5,95].
func WinProbability(text string, existing []float64, jurisdiction string) float64 {
	lc := strings.ToLower(text)
	score := indicatorBase
	for _, s := range strongIndicators {
		if strings.Contains(lc, s) {
			score += strongStep
		}
	}
	for _, w := range weakIndicators {
		if strings.Contains(lc, w) {
			score -= weakStep
		}
	}
	if len(existing) > 0 {
		sum := 0.0
		for _, p := range existing {
			sum += p
		}
		score = 0.6*score + 0.4*(sum/float64(len(existing)))
	}
	score += JurisdictionAdjustment(jurisdiction)
	return math.Round(math.Max(minWin, math.Min(maxWin, score)))
}

// Synthesizer is safe for concurrent use.
type Synthesizer struct {
	mu     sync.Mutex
	rnd    *rand.Rand
	winMin int
	winMax int
	newID  func() string
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithFallbackRange bounds the random fallback win probability.
func WithFallbackRange(lo, hi int) Option {
	return func(s *Synthesizer) {
		if lo <= hi {
			s.winMin, s.winMax = lo, hi
		}
	}
}

// WithIDFunc overrides case-study id generation.
func WithIDFunc(f func() string) Option { return func(s *Synthesizer) { s.newID = f } }

// New uses rnd for fallback probabilities; nil means time-seeded.
func New(rnd *rand.Rand, opts ...Option) *Synthesizer {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano())) // #nosec G404
	}
	s := &Synthesizer{rnd: rnd, winMin: 60, winMax: 90, newID: uuid.NewString}
	for _, o := range opts {
		o(s)
	}
	return s
}

// NewSeeded is New with a fixed seed; seed 0 means time-seeded.
func NewSeeded(seed int64, opts ...Option) *Synthesizer {
	if seed == 0 {
		return New(nil, opts...)
	}
	return New(rand.New(rand.NewSource(seed)), opts...) // #nosec G404
}

type rawStudy struct {
	Title           string          `json:"title"`
	Summary         string          `json:"summary"`
	Outcome         string          `json:"outcome"`
	WinProbability  json.RawMessage `json:"win_probability"`
	KeyFactors      []string        `json:"key_factors"`
	LegalPrinciples []string        `json:"legal_principles"`
	Lessons         []string        `json:"lessons"`
}

// Build returns at least one case study for the answer.
func (s *Synthesizer) Build(raw, query, jurisdiction string, a domain.LegalResearchAnalysis, m domain.PerformanceMetrics) []domain.CaseStudy {
	var out []domain.CaseStudy
	var probs []float64
	for _, rs := range decodeStudies(raw) {
		title := strings.TrimSpace(rs.Title)
		if title == "" {
			continue
		}
		text := title + " " + rs.Summary + " " + strings.Join(rs.KeyFactors, " ")
		p, ok := parseProbability(rs.WinProbability)
		if ok {
			p = math.Round(math.Max(minWin, math.Min(maxWin, p)))
		} else {
			p = WinProbability(text, probs, jurisdiction)
		}
		probs = append(probs, p)
		out = append(out, domain.CaseStudy{
			ID:              s.newID(),
			Title:           title,
			Summary:         textx.Truncate(rs.Summary, 400),
			Outcome:         domain.ParseOutcome(rs.Outcome),
			WinProbability:  p,
			Relevance:       synthesis.Relevance(query, text),
			KeyFactors:      nonNil(rs.KeyFactors),
			LegalPrinciples: nonNil(rs.LegalPrinciples),
			Lessons:         nonNil(rs.Lessons),
		})
	}
	if len(out) > 0 {
		return out
	}
	return []domain.CaseStudy{s.fallback(query, a, m)}
}

func (s *Synthesizer) fallback(query string, a domain.LegalResearchAnalysis, m domain.PerformanceMetrics) domain.CaseStudy {
	s.mu.Lock()
	p := float64(s.winMin + s.rnd.Intn(s.winMax-s.winMin+1))
	s.mu.Unlock()

	topic := "your question"
	if len(a.Concepts) > 0 {
		topic = a.Concepts[0]
	} else if q := strings.TrimSpace(query); q != "" {
		topic = textx.Truncate(q, 60)
	}

	factors := take(a.Concepts, 3)
	if len(factors) == 0 {
		factors = []string{"Quality of documentation", "Timeliness of action", "Applicable local rules"}
	}
	var principles []string
	for _, st := range a.Statutes {
		principles = append(principles, st.Title)
	}
	for _, c := range a.Cases {
		if c.Source == domain.SourceExtracted {
			principles = append(principles, c.Title)
		}
	}
	principles = take(principles, 3)
	if len(principles) == 0 {
		principles = []string{"Parties must act in good faith", "The claimant carries the burden of proof"}
	}

	rel := 0.0
	n := 0
	for _, c := range a.Cases {
		rel += c.Relevance
		n++
	}
	for _, st := range a.Statutes {
		rel += st.Relevance
		n++
	}
	if n > 0 {
		rel /= float64(n)
	} else {
		rel = 0.5
	}
	if m.Relevance > 0 {
		rel = 0.5*rel + 0.5*(m.Relevance/100)
	}

	return domain.CaseStudy{
		ID:              s.newID(),
		Title:           "Illustrative scenario: " + topic,
		Summary:         "A representative dispute involving " + topic + ", assembled from the authorities and concepts in this answer rather than a reported case.",
		Outcome:         domain.OutcomePending,
		WinProbability:  p,
		Relevance:       math.Round(rel*100) / 100,
		KeyFactors:      factors,
		LegalPrinciples: principles,
		Lessons:         take(a.RecommendedActions, 3),
	}
}

func decodeStudies(raw string) []rawStudy {
	var blocks []json.RawMessage
	if st, ok := synthesis.Parse(raw).(synthesis.Structured); ok && len(st.Report.CaseStudies) > 0 {
		blocks = append(blocks, st.Report.CaseStudies)
	}
	blocks = append(blocks, synthesis.JSONBlocks(raw)...)
	for _, b := range blocks {
		var list []rawStudy
		if err := json.Unmarshal(b, &list); err == nil && len(list) > 0 {
			return list
		}
		var wrapped struct {
			CaseStudies []rawStudy `json:"case_studies"`
		}
		if err := json.Unmarshal(b, &wrapped); err == nil && len(wrapped.CaseStudies) > 0 {
			return wrapped.CaseStudies
		}
	}
	return nil
}

// parseProbability accepts 72, 0.72, "72%" and "72". Values below one, and
// 1.0 written with a decimal point, are fractions.
func parseProbability(b json.RawMessage) (float64, bool) {
	if len(b) == 0 {
		return 0, false
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return 0, false
	}
	var (
		f       float64
		text    string
		percent bool
	)
	switch t := v.(type) {
	case float64:
		f = t
		text = string(b)
	case string:
		text = strings.TrimSpace(t)
		percent = strings.HasSuffix(text, "%")
		text = strings.TrimSuffix(text, "%")
		var err error
		f, err = strconv.ParseFloat(text, 64)
		if err != nil {
			return 0, false
		}
	default:
		return 0, false
	}
	if !percent && f > 0 && (f < 1 || (f == 1 && strings.Contains(text, "."))) {
		f *= 100
	}
	if f <= 0 || f > 100 {
		return 0, false
	}
	return f, true
}

func take(in []string, n int) []string {
	if len(in) > n {
		in = in[:n]
	}
	return append([]string{}, in...)
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
