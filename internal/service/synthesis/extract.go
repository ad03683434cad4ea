package synthesis

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/fairyhunter13/ai-legal-assistant/internal/domain"
	"github.com/fairyhunter13/ai-legal-assistant/pkg/textx"
)

// relevanceRadius is the context window either side of a citation.
const relevanceRadius = 175

const (
	minRelevance = 0.3
	maxRelevance = 0.95
)

// a capitalized word; interior periods are allowed ("Cal.3d") but a trailing one is not
const properWord = `[A-Z](?:[A-Za-z0-9'&-]|\.[A-Za-z0-9])*`

const partyPat = properWord + `(?:\s+(?:of|the|and|for|de|ex|rel\.|` + properWord + `)){0,5}`

var (
	caseRe = regexp.MustCompile(`(` + partyPat + `)\s+vs?\.\s+(` + partyPat + `)` +
		`(?:,\s*(\d{1,4}\s+[A-Z][A-Za-z0-9.]*(?:\s[A-Z0-9][A-Za-z0-9.]*)?\s+\d{1,5}))?` +
		`(?:\s*\((?:[^()]{0,40}?\s)?(\d{4})\))?`)

	codeSectionRe = regexp.MustCompile(`((?:[A-Z][a-z]*\.?\s+){1,4}Code)\s*,?\s*(?:Sections?|Sec\.|§§?)\s*(\d+(?:\.\d+)?[a-z]?(?:\([a-z0-9]+\))*)`)
	uscRe         = regexp.MustCompile(`(\d+)\s+U\.\s?S\.\s?C\.?\s*(?:§§?\s*)?(\d+[a-z]?(?:\([a-z0-9]+\))*)`)
	bareSectionRe = regexp.MustCompile(`§§?\s*(\d+(?:\.\d+)?[a-z]?(?:\([a-z0-9]+\))*)`)
	actRe         = regexp.MustCompile(`((?:[A-Z][A-Za-z'-]*)(?:\s+(?:of|and|for|with|the|on|to|[A-Z][A-Za-z'-]*)){0,8}\s+Act)\b(?:\s+of\s+(\d{4}))?`)
)

var signalWords = map[string]bool{
	"in": true, "see": true, "under": true, "also": true, "cf": true, "cf.": true, "compare": true,
	"as": true, "following": true, "per": true, "the": true, "and": true, "but": true, "while": true,
	"citing": true, "accord": true, "e.g.": true, "see,": true, "landmark": true,
	"when": true, "if": true, "after": true, "since": true, "because": true, "although": true,
	"here": true, "this": true, "a": true, "an": true, "cite": true, "cited": true, "courts": true,
}

// stripSignals drops leading citation signals and sentence openers.
func stripSignals(s string) string {
	fields := strings.Fields(s)
	for len(fields) > 1 && signalWords[strings.ToLower(fields[0])] {
		fields = fields[1:]
	}
	return strings.Join(fields, " ")
}

func trimTrailingConnectors(s string) string {
	fields := strings.Fields(s)
	for len(fields) > 1 {
		switch strings.ToLower(fields[len(fields)-1]) {
		case "of", "the", "and", "for", "de", "ex", "rel.":
			fields = fields[:len(fields)-1]
			continue
		}
		break
	}
	return strings.Join(fields, " ")
}

type span struct{ start, end int }

func (s span) overlaps(o span) bool { return s.start < o.end && o.start < s.end }

type caseMatch struct {
	title    string
	citation string
	year     int
	at       span
}

type statuteMatch struct {
	title   string
	code    string
	section string
	at      span
}

func findCases(text string) []caseMatch {
	var out []caseMatch
	seen := map[string]int{}
	for _, m := range caseRe.FindAllStringSubmatchIndex(text, -1) {
		p1 := stripSignals(text[m[2]:m[3]])
		p2 := trimTrailingConnectors(text[m[4]:m[5]])
		if p1 == "" || p2 == "" {
			continue
		}
		cm := caseMatch{title: p1 + " v. " + p2, at: span{m[0], m[1]}}
		if m[6] >= 0 {
			cm.citation = strings.TrimSpace(text[m[6]:m[7]])
		}
		if m[8] >= 0 {
			cm.year, _ = strconv.Atoi(text[m[8]:m[9]])
		}
		key := strings.ToLower(cm.title)
		if i, ok := seen[key]; ok {
			// a later mention may carry the year or reporter the first lacked
			if out[i].year == 0 {
				out[i].year = cm.year
			}
			if out[i].citation == "" {
				out[i].citation = cm.citation
			}
			continue
		}
		seen[key] = len(out)
		out = append(out, cm)
	}
	return out
}

func findStatutes(text string) []statuteMatch {
	var out []statuteMatch
	var taken []span
	seen := map[string]bool{}
	add := func(sm statuteMatch) {
		for _, t := range taken {
			if t.overlaps(sm.at) {
				return
			}
		}
		taken = append(taken, sm.at)
		key := strings.ToLower(sm.code + "|" + sm.section + "|" + sm.title)
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, sm)
	}

	for _, m := range codeSectionRe.FindAllStringSubmatchIndex(text, -1) {
		code := stripSignals(strings.Join(strings.Fields(text[m[2]:m[3]]), " "))
		section := text[m[4]:m[5]]
		add(statuteMatch{title: code + " § " + section, code: code, section: section, at: span{m[0], m[1]}})
	}
	for _, m := range uscRe.FindAllStringSubmatchIndex(text, -1) {
		code := text[m[2]:m[3]] + " U.S.C."
		section := text[m[4]:m[5]]
		add(statuteMatch{title: code + " § " + section, code: code, section: section, at: span{m[0], m[1]}})
	}
	for _, m := range bareSectionRe.FindAllStringSubmatchIndex(text, -1) {
		section := text[m[2]:m[3]]
		add(statuteMatch{title: "§ " + section, section: section, at: span{m[0], m[1]}})
	}
	for _, m := range actRe.FindAllStringSubmatchIndex(text, -1) {
		name := stripSignals(text[m[2]:m[3]])
		if len(strings.Fields(name)) < 2 {
			continue
		}
		if m[4] >= 0 {
			name += " of " + text[m[4]:m[5]]
		}
		add(statuteMatch{title: name, code: name, at: span{m[0], m[1]}})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].at.start < out[j].at.start })
	return out
}

// CitationCount counts distinct case and statute citations in text.
func CitationCount(text string) int {
	return len(findCases(text)) + len(findStatutes(text))
}

// Relevance maps query overlap with text onto [0.3, 0.95].
func Relevance(query, text string) float64 {
	r := minRelevance + 0.65*textx.Overlap(query, text)
	if r < minRelevance {
		return minRelevance
	}
	if r > maxRelevance {
		return maxRelevance
	}
	return r
}

// sentenceAround returns the sentence(s) covering text[s.start:s.end].
func sentenceAround(text string, s span) string {
	lo := s.start
	for lo > 0 {
		c := text[lo-1]
		if c == '\n' || ((c == ' ') && lo >= 2 && (text[lo-2] == '.' || text[lo-2] == '!' || text[lo-2] == '?') && !abbrevBefore(text, lo-2)) {
			break
		}
		lo--
	}
	hi := s.end
	for hi < len(text) {
		c := text[hi]
		if c == '\n' {
			break
		}
		if (c == '.' || c == '!' || c == '?') && (hi+1 == len(text) || text[hi+1] == ' ' || text[hi+1] == '\n') && !abbrevBefore(text, hi) {
			hi++
			break
		}
		hi++
	}
	return strings.TrimLeft(strings.TrimSpace(text[lo:hi]), "-*•# ")
}

// abbrevBefore reports whether the period at i ends an abbreviation such as "v." or "Civ.".
func abbrevBefore(text string, i int) bool {
	j := i
	for j > 0 && text[j-1] != ' ' && text[j-1] != '\n' {
		j--
	}
	w := text[j : i+1]
	if len(w) <= 5 && len(w) > 1 {
		// short tokens ending in a period: v., Cal., Civ., U.S.C.
		if (w[0] >= 'A' && w[0] <= 'Z') || w == "v." || w == "vs." {
			return true
		}
	}
	return strings.Count(w, ".") > 1
}

func jurisdictionFor(code, fallback string) string {
	lc := strings.ToLower(code)
	switch {
	case strings.Contains(lc, "u.s.c"), strings.Contains(lc, "federal"), strings.Contains(lc, "united states"):
		return domain.JurisdictionFederal
	case strings.HasPrefix(lc, "california"), strings.HasPrefix(lc, "cal."):
		return domain.JurisdictionCA
	case strings.HasPrefix(lc, "new york"), strings.HasPrefix(lc, "n.y."):
		return domain.JurisdictionNY
	case strings.HasPrefix(lc, "texas"), strings.HasPrefix(lc, "tex."):
		return domain.JurisdictionTX
	}
	return fallback
}
