package synthesis

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/fairyhunter13/ai-legal-assistant/internal/domain"
)

// Parsed is the tagged result of Parse: either Structured or Unstructured.
type Parsed interface {
	Variant() domain.AnalysisVariant
}

// Structured carries a machine-readable report plus the prose around it.
type Structured struct {
	Report Report
	Prose  string
}

// Unstructured carries prose only.
type Unstructured struct {
	Text string
}

func (Structured) Variant() domain.AnalysisVariant   { return domain.VariantStructured }
func (Unstructured) Variant() domain.AnalysisVariant { return domain.VariantUnstructured }

// Report mirrors the JSON block requested by the research prompt.
type Report struct {
	Cases              []ReportCase    `json:"cases"`
	Statutes           []ReportStatute `json:"statutes"`
	Concepts           []string        `json:"concepts"`
	RecommendedActions []string        `json:"recommended_actions"`
	// CaseStudies is left raw for the case-study synthesizer.
	CaseStudies json.RawMessage `json:"case_studies"`
}

type ReportCase struct {
	Title        string  `json:"title"`
	Citation     string  `json:"citation"`
	Year         flexInt `json:"year"`
	Jurisdiction string  `json:"jurisdiction"`
	Summary      string  `json:"summary"`
}

type ReportStatute struct {
	Title        string `json:"title"`
	Code         string `json:"code"`
	Section      string `json:"section"`
	Jurisdiction string `json:"jurisdiction"`
	Summary      string `json:"summary"`
}

// flexInt accepts 1961, "1961" and "(1961)".
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"()`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		// a malformed year is not worth failing the whole report for
		*f = 0
		return nil
	}
	*f = flexInt(n)
	return nil
}

var (
	analysisTagRe = regexp.MustCompile(`(?is)<analysis>\s*(.*?)\s*</analysis>`)
	fencedJSONRe  = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*\\n(.*?)\\n?```")
	trailingComma = regexp.MustCompile(`,(\s*[}\]])`)
)

// Parse classifies raw provider text. A report is recognized inside
// <analysis> tags or a fenced JSON block carrying cases or statutes.
func Parse(raw string) Parsed {
	if m := analysisTagRe.FindStringSubmatchIndex(raw); m != nil {
		if rep, ok := decodeReport(raw[m[2]:m[3]]); ok {
			return Structured{Report: rep, Prose: strings.TrimSpace(raw[:m[0]] + raw[m[1]:])}
		}
	}
	for _, m := range fencedJSONRe.FindAllStringSubmatchIndex(raw, -1) {
		if rep, ok := decodeReport(raw[m[2]:m[3]]); ok && (len(rep.Cases) > 0 || len(rep.Statutes) > 0) {
			return Structured{Report: rep, Prose: strings.TrimSpace(raw[:m[0]] + raw[m[1]:])}
		}
	}
	return Unstructured{Text: raw}
}

func decodeReport(block string) (Report, bool) {
	block = strings.TrimSpace(block)
	if inner := fencedJSONRe.FindStringSubmatch(block); inner != nil {
		block = inner[1]
	}
	obj := extractObject(block)
	if obj == "" {
		return Report{}, false
	}
	var rep Report
	if err := json.Unmarshal([]byte(obj), &rep); err != nil {
		fixed := trailingComma.ReplaceAllString(obj, "$1")
		if err := json.Unmarshal([]byte(fixed), &rep); err != nil {
			return Report{}, false
		}
	}
	return rep, true
}

// extractObject returns the first balanced {...} in s, honoring JSON strings.
func extractObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth, inStr, esc := 0, false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case esc:
			esc = false
		case c == '\\' && inStr:
			esc = true
		case c == '"':
			inStr = !inStr
		case inStr:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// JSONBlocks returns every decodable JSON value found in fenced blocks or
// tagged sections of raw, in order of appearance.
func JSONBlocks(raw string) []json.RawMessage {
	var out []json.RawMessage
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		if json.Valid([]byte(s)) {
			out = append(out, json.RawMessage(s))
			return
		}
		fixed := trailingComma.ReplaceAllString(s, "$1")
		if json.Valid([]byte(fixed)) {
			out = append(out, json.RawMessage(fixed))
		}
	}
	for _, m := range analysisTagRe.FindAllStringSubmatch(raw, -1) {
		body := m[1]
		if inner := fencedJSONRe.FindStringSubmatch(body); inner != nil {
			body = inner[1]
		}
		add(body)
	}
	for _, m := range fencedJSONRe.FindAllStringSubmatch(raw, -1) {
		add(m[1])
	}
	if len(out) == 0 {
		// bare array somewhere in prose
		if i := strings.IndexByte(raw, '['); i >= 0 {
			if j := strings.LastIndexByte(raw, ']'); j > i {
				add(raw[i : j+1])
			}
		}
	}
	return out
}
