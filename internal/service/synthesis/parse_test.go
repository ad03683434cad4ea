package synthesis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Variants(t *testing.T) {
	t.Parallel()

	p := Parse("plain prose only")
	u, ok := p.(Unstructured)
	require.True(t, ok)
	assert.Equal(t, "plain prose only", u.Text)

	p = Parse("Intro.\n```json\n{\"cases\":[{\"title\":\"Roe v. Wade\",\"year\":1973}]}\n```\nOutro.")
	s, ok := p.(Structured)
	require.True(t, ok)
	require.Len(t, s.Report.Cases, 1)
	assert.Equal(t, 1973, int(s.Report.Cases[0].Year))
	assert.NotContains(t, s.Prose, "```")
	assert.Contains(t, s.Prose, "Outro.")

	// a fenced block without entities is not a report
	_, ok = Parse("```json\n{\"foo\":1}\n```").(Unstructured)
	assert.True(t, ok)

	// broken JSON inside analysis tags degrades
	_, ok = Parse("<analysis>{not json</analysis>").(Unstructured)
	assert.True(t, ok)
}

func TestParse_AnalysisWithFenceAndBraceInString(t *testing.T) {
	t.Parallel()

	raw := "Answer.\n<analysis>\n```json\n{\"cases\":[],\"statutes\":[{\"title\":\"Rule {7}\",\"section\":\"7\"}]}\n```\n</analysis>"
	s, ok := Parse(raw).(Structured)
	require.True(t, ok)
	require.Len(t, s.Report.Statutes, 1)
	assert.Equal(t, "Rule {7}", s.Report.Statutes[0].Title)
	assert.Equal(t, "Answer.", s.Prose)
}

func TestJSONBlocks(t *testing.T) {
	t.Parallel()

	blocks := JSONBlocks("x\n```json\n[{\"title\":\"A\"},]\n```\n")
	require.Len(t, blocks, 1)
	assert.JSONEq(t, `[{"title":"A"}]`, string(blocks[0]))

	blocks = JSONBlocks(`Studies: [{"title":"B"}] end`)
	require.Len(t, blocks, 1)

	assert.Empty(t, JSONBlocks("nothing"))
}
