package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/fairyhunter13/ai-legal-assistant/internal/domain"
)

// BuiltinID is the offline provider that always answers.
const BuiltinID = "builtin"

// BuiltinProvider produces a deterministic general-information answer without
// any upstream call. Its completions are marked Degraded.
type BuiltinProvider struct{}

func NewBuiltinProvider() *BuiltinProvider { return &BuiltinProvider{} }

func (BuiltinProvider) ID() string               { return BuiltinID }
func (BuiltinProvider) RequiresCredential() bool { return false }

func (p BuiltinProvider) Call(ctx context.Context, prompt domain.Prompt, _ domain.ProviderCredential) (domain.Completion, error) {
	if err := ctx.Err(); err != nil {
		return domain.Completion{}, ClassifyContext(BuiltinID, err)
	}
	jurisdiction, question := splitUserPrompt(prompt.User)

	var b strings.Builder
	b.WriteString("## Overview\n\n")
	b.WriteString("Live AI providers are unavailable right now, so this is a general offline summary rather than a tailored analysis.\n\n")
	if question != "" {
		fmt.Fprintf(&b, "Your question: %s\n\n", question)
	}
	b.WriteString("## General Guidance\n\n")
	if jurisdiction != "" {
		fmt.Fprintf(&b, "- The answer depends on the statutes and case law of %s.\n", jurisdiction)
	} else {
		b.WriteString("- The answer depends on the statutes and case law of your jurisdiction.\n")
	}
	b.WriteString("- Collect the relevant documents, such as contracts, notices, and correspondence.\n")
	b.WriteString("- Note every deadline, because limitation periods and notice requirements are strict.\n\n")
	b.WriteString("## Recommendation\n\n")
	b.WriteString("You should consult a licensed attorney or a local legal aid organization, and try again later for a detailed answer.\n")

	text := b.String()
	return domain.Completion{
		Text:     text,
		Provider: BuiltinID,
		Model:    "offline",
		Degraded: true,
	}, nil
}

// splitUserPrompt undoes the framing applied by AdvicePrompt.
func splitUserPrompt(user string) (jurisdiction, question string) {
	user = strings.TrimSpace(user)
	const jp, qp = "Jurisdiction: ", "Question: "
	if !strings.HasPrefix(user, jp) {
		return "", user
	}
	rest := strings.TrimPrefix(user, jp)
	line, after, _ := strings.Cut(rest, "\n")
	return strings.TrimSpace(line), strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(after), qp))
}
