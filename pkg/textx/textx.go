// Package textx provides small text utilities used across the project.
package textx

import (
	"strings"
	"unicode"
)

// SanitizeText removes control characters except tab/newline/CR and trims spaces.
func SanitizeText(s string) string {
	// strip control chars outside tab/newline/carriage return
	var b strings.Builder
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// Normalize collapses whitespace runs to a single space and lower-cases s.
func Normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

var stopWords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`a an and are as at be been but by can could do does for from had has have
		he her his how i if in into is it its me my no not of on or our she should so than that the their them
		then there these they this to under was we were what when where which who will with would you your
		about after also any because before being both did each few more most other over same some such
		very just only own while again further once here why all between out up down off against during`) {
		stopWords[w] = struct{}{}
	}
}

// IsStopWord reports whether w (lower-case) is a common function word.
func IsStopWord(w string) bool {
	_, ok := stopWords[w]
	return ok
}

// Stem strips a few common English suffixes so that "notices" matches
// "notice" and "eviction" matches "evicted". It is not a linguistic stemmer.
func Stem(w string) string {
	for _, suf := range []string{"ations", "ation", "ions", "ion", "ings", "ing", "ies", "ed", "ly"} {
		if len(w) > len(suf)+3 && strings.HasSuffix(w, suf) {
			w = strings.TrimSuffix(w, suf)
			if suf == "ies" {
				w += "y"
			}
			return w
		}
	}
	if len(w) <= 3 {
		return w
	}
	switch {
	case strings.HasSuffix(w, "sses"), strings.HasSuffix(w, "xes"), strings.HasSuffix(w, "zes"),
		strings.HasSuffix(w, "ches"), strings.HasSuffix(w, "shes"):
		return w[:len(w)-2]
	case strings.HasSuffix(w, "ss"), strings.HasSuffix(w, "us"), strings.HasSuffix(w, "is"):
		return w
	case strings.HasSuffix(w, "s"):
		return w[:len(w)-1]
	}
	return w
}

// Words splits s into lower-case alphanumeric words.
func Words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// Tokens returns the distinct stemmed content words of s, in first-seen order.
func Tokens(s string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, w := range Words(s) {
		w = strings.Trim(w, "'")
		if len(w) < 2 || IsStopWord(w) {
			continue
		}
		st := Stem(w)
		if _, ok := seen[st]; ok {
			continue
		}
		seen[st] = struct{}{}
		out = append(out, st)
	}
	return out
}

// Overlap is the fraction of query tokens that also occur in text, in [0,1].
// An empty query yields 0.
func Overlap(query, text string) float64 {
	q := Tokens(query)
	if len(q) == 0 {
		return 0
	}
	have := map[string]struct{}{}
	for _, t := range Tokens(text) {
		have[t] = struct{}{}
	}
	hits := 0
	for _, t := range q {
		if _, ok := have[t]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(q))
}

// Sentences splits s on sentence terminators and line breaks, dropping blanks.
func Sentences(s string) []string {
	var out []string
	var b strings.Builder
	flush := func() {
		if t := strings.TrimSpace(b.String()); t != "" {
			out = append(out, t)
		}
		b.Reset()
	}
	rs := []rune(s)
	for i, r := range rs {
		if r == '\n' {
			flush()
			continue
		}
		b.WriteRune(r)
		if (r == '.' || r == '!' || r == '?') && (i+1 == len(rs) || unicode.IsSpace(rs[i+1])) {
			// keep "v." and "U.S.C." style abbreviations inside one sentence
			if r == '.' && endsWithAbbrev(b.String()) {
				continue
			}
			flush()
		}
	}
	flush()
	return out
}

func endsWithAbbrev(s string) bool {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return false
	}
	last := strings.ToLower(fields[len(fields)-1])
	switch last {
	case "v.", "vs.", "u.s.c.", "cal.", "civ.", "no.", "inc.", "co.", "corp.", "st.", "e.g.", "i.e.", "mr.", "ms.", "dr.", "art.", "sec.":
		return true
	}
	return false
}

// Window returns up to radius bytes either side of s[start:end], snapped to rune boundaries.
func Window(s string, start, end, radius int) string {
	lo := start - radius
	if lo < 0 {
		lo = 0
	}
	hi := end + radius
	if hi > len(s) {
		hi = len(s)
	}
	for lo > 0 && !isRuneStart(s[lo]) {
		lo--
	}
	for hi < len(s) && !isRuneStart(s[hi]) {
		hi++
	}
	return s[lo:hi]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

// Truncate shortens s to at most n runes, appending an ellipsis when cut.
func Truncate(s string, n int) string {
	rs := []rune(strings.TrimSpace(s))
	if len(rs) <= n {
		return string(rs)
	}
	if n <= 1 {
		return string(rs[:n])
	}
	return strings.TrimSpace(string(rs[:n-1])) + "…"
}
