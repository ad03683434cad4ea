package ai

import (
	"fmt"
	"strings"

	"github.com/fairyhunter13/ai-legal-assistant/internal/domain"
)

// Temperature is low to favor reproducible, factual legal output.
const Temperature float32 = 0.2

// LegalSystemInstruction is sent with every provider call.
const LegalSystemInstruction = `You are a careful legal research assistant.
Answer in structured prose using markdown headings and short bullet lists.
Cite cases as "Name v. Name (Year)" and statutes by code and section (for example "California Civil Code Section 1946" or "42 U.S.C. § 1983").
State the governing jurisdiction, note where the law is unclear or disputed, and end with a "Recommendation" section describing concrete next steps.
Do not invent citations. If you are unsure whether an authority exists, say so.`

// GeneralSystemInstruction is used for general-purpose chat answers.
const GeneralSystemInstruction = `You are a helpful assistant for a legal information service.
Answer clearly in structured prose with headings where useful. Be concise and accurate.`

// ResearchInstruction asks for a machine-readable block after the prose answer.
const ResearchInstruction = `After your answer, append a JSON object wrapped in <analysis></analysis> tags with keys:
"cases" (array of {"title","citation","year","jurisdiction","summary"}),
"statutes" (array of {"title","code","section","jurisdiction","summary"}),
"concepts" (array of strings), "recommended_actions" (array of strings), and
"case_studies" (array of {"title","summary","outcome","win_probability","key_factors","legal_principles","lessons"}).
Outcome is one of Won, Lost, Settled, Pending.`

// AdvicePrompt builds the prompt for a jurisdiction-specific legal question.
func AdvicePrompt(query, jurisdiction string, maxTokens int) domain.Prompt {
	user := strings.TrimSpace(query)
	if j := strings.TrimSpace(jurisdiction); j != "" {
		user = fmt.Sprintf("Jurisdiction: %s\n\nQuestion: %s", j, user)
	}
	return domain.Prompt{System: LegalSystemInstruction, User: user, Temperature: Temperature, MaxTokens: maxTokens}
}

// ResearchPrompt is AdvicePrompt plus a request for a structured analysis block.
func ResearchPrompt(query, jurisdiction string, maxTokens int) domain.Prompt {
	p := AdvicePrompt(query, jurisdiction, maxTokens)
	p.System = LegalSystemInstruction + "\n\n" + ResearchInstruction
	return p
}

// ChatPrompt builds a general-purpose prompt.
func ChatPrompt(query string, maxTokens int) domain.Prompt {
	return domain.Prompt{System: GeneralSystemInstruction, User: strings.TrimSpace(query), Temperature: Temperature, MaxTokens: maxTokens}
}
