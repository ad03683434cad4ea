// Package synthesis turns free-text provider answers into a structured legal
// research analysis: case and statute entities with relevance scores,
// concepts, jurisdiction notes, recommended actions and a strength assessment.
// It never fails; unparseable input degrades to pattern extraction.
package synthesis

import (
	"strings"

	"github.com/google/uuid"

	"github.com/fairyhunter13/ai-legal-assistant/internal/domain"
	"github.com/fairyhunter13/ai-legal-assistant/pkg/textx"
)

const (
	maxConcepts = 10
	maxNotes    = 4
	maxActions  = 5
	maxSummary  = 280
)

// Engine is stateless and safe for concurrent use.
type Engine struct {
	newID func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithIDFunc overrides entity id generation.
func WithIDFunc(f func() string) Option { return func(e *Engine) { e.newID = f } }

func New(opts ...Option) *Engine {
	e := &Engine{newID: uuid.NewString}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Analyze builds the analysis for raw provider text. The result always holds
// at least one case or statute entity.
func (e *Engine) Analyze(raw, query, jurisdiction string) domain.LegalResearchAnalysis {
	juris := domain.NormalizeJurisdiction(jurisdiction)
	raw = textx.SanitizeText(raw)

	var (
		a     domain.LegalResearchAnalysis
		prose string
	)
	switch p := Parse(raw).(type) {
	case Structured:
		a.Variant = domain.VariantStructured
		prose = p.Prose
		a.Cases = e.reportCases(p.Report.Cases, prose, query, juris)
		a.Statutes = e.reportStatutes(p.Report.Statutes, prose, query, juris)
		a.Concepts = appendUnique(nil, p.Report.Concepts, maxConcepts)
		a.RecommendedActions = appendUnique(nil, p.Report.RecommendedActions, maxActions)
	case Unstructured:
		a.Variant = domain.VariantUnstructured
		prose = p.Text
	}

	// prose citations complement the report; duplicates by title are dropped
	a.Cases = mergeCases(a.Cases, e.extractCases(prose, query, juris))
	a.Statutes = mergeStatutes(a.Statutes, e.extractStatutes(prose, query, juris))
	if a.EntityCount() == 0 {
		a.Cases = []domain.LegalCaseEntity{e.fallbackCase(query, juris)}
	}

	a.Concepts = appendUnique(a.Concepts, concepts(prose), maxConcepts)
	a.JurisdictionNotes = notes(prose, juris)
	a.RecommendedActions = appendUnique(a.RecommendedActions, actions(prose), maxActions)
	if len(a.RecommendedActions) == 0 {
		a.RecommendedActions = append([]string(nil), defaultActions...)
	}
	a.Strength = assessStrength(prose, juris, a)
	return a
}

func (e *Engine) extractCases(text, query, juris string) []domain.LegalCaseEntity {
	var out []domain.LegalCaseEntity
	for _, m := range findCases(text) {
		out = append(out, domain.LegalCaseEntity{
			ID:           e.newID(),
			Title:        m.title,
			Citation:     m.citation,
			Year:         m.year,
			Jurisdiction: jurisdictionFor(m.citation, juris),
			Summary:      textx.Truncate(sentenceAround(text, m.at), maxSummary),
			Relevance:    Relevance(query, textx.Window(text, m.at.start, m.at.end, relevanceRadius)),
			Source:       domain.SourceExtracted,
		})
	}
	return out
}

func (e *Engine) extractStatutes(text, query, juris string) []domain.StatuteEntity {
	var out []domain.StatuteEntity
	for _, m := range findStatutes(text) {
		out = append(out, domain.StatuteEntity{
			ID:           e.newID(),
			Title:        m.title,
			Code:         m.code,
			Section:      m.section,
			Jurisdiction: jurisdictionFor(m.code, juris),
			Summary:      textx.Truncate(sentenceAround(text, m.at), maxSummary),
			Relevance:    Relevance(query, textx.Window(text, m.at.start, m.at.end, relevanceRadius)),
			Source:       domain.SourceExtracted,
		})
	}
	return out
}

// reportRelevance scores a reported entity by its own text and, when the
// prose mentions it, the window around that mention.
func reportRelevance(query, prose, needle, own string) float64 {
	r := Relevance(query, own)
	if needle == "" {
		return r
	}
	if i := strings.Index(strings.ToLower(prose), strings.ToLower(needle)); i >= 0 {
		if w := Relevance(query, textx.Window(prose, i, i+len(needle), relevanceRadius)); w > r {
			r = w
		}
	}
	return r
}

func (e *Engine) reportCases(in []ReportCase, prose, query, juris string) []domain.LegalCaseEntity {
	var out []domain.LegalCaseEntity
	for _, c := range in {
		title := strings.TrimSpace(c.Title)
		if title == "" {
			continue
		}
		j := juris
		if c.Jurisdiction != "" {
			j = domain.NormalizeJurisdiction(c.Jurisdiction)
		}
		out = append(out, domain.LegalCaseEntity{
			ID:           e.newID(),
			Title:        title,
			Citation:     strings.TrimSpace(c.Citation),
			Year:         int(c.Year),
			Jurisdiction: j,
			Summary:      textx.Truncate(c.Summary, maxSummary),
			Relevance:    reportRelevance(query, prose, title, title+" "+c.Summary),
			Source:       domain.SourceExtracted,
		})
	}
	return out
}

func (e *Engine) reportStatutes(in []ReportStatute, prose, query, juris string) []domain.StatuteEntity {
	var out []domain.StatuteEntity
	for _, s := range in {
		title := strings.TrimSpace(s.Title)
		if title == "" {
			title = strings.TrimSpace(strings.TrimSpace(s.Code) + " § " + strings.TrimSpace(s.Section))
		}
		if title == "" || title == "§" {
			continue
		}
		j := juris
		if s.Jurisdiction != "" {
			j = domain.NormalizeJurisdiction(s.Jurisdiction)
		}
		needle := s.Section
		if needle == "" {
			needle = title
		}
		out = append(out, domain.StatuteEntity{
			ID:           e.newID(),
			Title:        title,
			Code:         strings.TrimSpace(s.Code),
			Section:      strings.TrimSpace(s.Section),
			Jurisdiction: j,
			Summary:      textx.Truncate(s.Summary, maxSummary),
			Relevance:    reportRelevance(query, prose, needle, title+" "+s.Summary),
			Source:       domain.SourceExtracted,
		})
	}
	return out
}

func (e *Engine) fallbackCase(query, juris string) domain.LegalCaseEntity {
	q := textx.Truncate(strings.Join(strings.Fields(query), " "), 80)
	if q == "" {
		q = "general legal question"
	}
	return domain.LegalCaseEntity{
		ID:           e.newID(),
		Title:        "General analysis: " + q,
		Jurisdiction: juris,
		Summary:      "No specific cases or statutes were cited. This entry summarizes the question so it can be researched further: " + q,
		Relevance:    0.5,
		Source:       domain.SourceSynthesized,
	}
}

func mergeCases(a, b []domain.LegalCaseEntity) []domain.LegalCaseEntity {
	seen := map[string]int{}
	for i, c := range a {
		seen[strings.ToLower(c.Title)] = i
	}
	for _, c := range b {
		if i, ok := seen[strings.ToLower(c.Title)]; ok {
			if a[i].Year == 0 {
				a[i].Year = c.Year
			}
			if c.Relevance > a[i].Relevance {
				a[i].Relevance = c.Relevance
			}
			continue
		}
		seen[strings.ToLower(c.Title)] = len(a)
		a = append(a, c)
	}
	return a
}

func mergeStatutes(a, b []domain.StatuteEntity) []domain.StatuteEntity {
	key := func(s domain.StatuteEntity) string {
		if s.Section != "" {
			return "§" + strings.ToLower(s.Section)
		}
		return strings.ToLower(s.Title)
	}
	seen := map[string]int{}
	for i, s := range a {
		seen[key(s)] = i
	}
	for _, s := range b {
		if i, ok := seen[key(s)]; ok {
			if s.Relevance > a[i].Relevance {
				a[i].Relevance = s.Relevance
			}
			continue
		}
		seen[key(s)] = len(a)
		a = append(a, s)
	}
	return a
}

func concepts(text string) []string {
	lc := strings.ToLower(text)
	var out []string
	for _, c := range legalConcepts {
		if strings.Contains(lc, c) {
			out = append(out, c)
		}
	}
	return out
}

func notes(text, juris string) []string {
	var out []string
	if n, ok := jurisdictionNotes[juris]; ok {
		out = append(out, n)
	}
	if juris == domain.JurisdictionGeneral || juris == "" {
		return out
	}
	for _, s := range textx.Sentences(text) {
		if len(out) >= maxNotes {
			break
		}
		if strings.Contains(strings.ToLower(s), juris) {
			out = appendUnique(out, []string{strings.TrimLeft(s, "-*•# ")}, maxNotes)
		}
	}
	return out
}

func actions(text string) []string {
	var out []string
	for _, s := range textx.Sentences(text) {
		if strings.HasPrefix(s, "#") {
			continue
		}
		ls := strings.ToLower(s)
		for _, m := range advisoryMarkers {
			if strings.Contains(ls, m) {
				out = append(out, strings.TrimSpace(strings.TrimLeft(s, "-*•0123456789.) ")))
				break
			}
		}
		if len(out) >= maxActions {
			break
		}
	}
	return out
}

// appendUnique appends items not already present (case-insensitive) up to limit.
func appendUnique(dst, items []string, limit int) []string {
	seen := map[string]bool{}
	for _, d := range dst {
		seen[strings.ToLower(d)] = true
	}
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" || seen[strings.ToLower(it)] {
			continue
		}
		if len(dst) >= limit {
			break
		}
		seen[strings.ToLower(it)] = true
		dst = append(dst, it)
	}
	return dst
}
