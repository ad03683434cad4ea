package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fairyhunter13/ai-legal-assistant/internal/usecase"
)

var askCmd = &cobra.Command{
	Use:   "ask QUESTION",
	Short: "Ask a legal question",
	Long: `Ask a legal question and print the answer with the legal disclaimer.

Examples:
  advise ask "Can my landlord enter without notice?" -j CA
  advise ask "What is a tort?" --chat -k groq=gsk_...`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().Bool("chat", false, "general chat without the legal disclaimer")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	req, err := adviceRequestFrom(cmd, args)
	if err != nil {
		return err
	}
	chat, _ := cmd.Flags().GetBool("chat")

	var res usecase.AdviceResult
	if chat {
		res, err = container.Advice.Chat(ctx, req)
	} else {
		res, err = container.Advice.Advise(ctx, req)
	}
	if err != nil {
		return err
	}
	if asJSON(cmd) {
		return writeJSON(cmd.OutOrStdout(), res)
	}
	formatAdvice(cmd.OutOrStdout(), res)
	return nil
}

func adviceRequestFrom(cmd *cobra.Command, args []string) (usecase.AdviceRequest, error) {
	rawKeys, _ := cmd.Flags().GetStringArray("key")
	keys, err := parseKeys(rawKeys)
	if err != nil {
		return usecase.AdviceRequest{}, err
	}
	provider, _ := cmd.Flags().GetString("provider")
	jur, _ := cmd.Flags().GetString("jurisdiction")
	return usecase.AdviceRequest{
		Query:        strings.Join(args, " "),
		Provider:     strings.ToLower(strings.TrimSpace(provider)),
		Jurisdiction: jur,
		Credentials:  keys,
	}, nil
}

// parseKeys turns provider=KEY pairs into a credential map.
func parseKeys(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		id, key, ok := strings.Cut(p, "=")
		id = strings.ToLower(strings.TrimSpace(id))
		key = strings.TrimSpace(key)
		if !ok || id == "" || key == "" {
			return nil, fmt.Errorf("invalid --key %q: want provider=KEY", redact(p))
		}
		out[id] = key
	}
	return out, nil
}

// redact keeps the provider id of a malformed pair and hides the rest.
func redact(pair string) string {
	id, _, ok := strings.Cut(pair, "=")
	if !ok {
		return "***"
	}
	return id + "=***"
}

func asJSON(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatAdvice(w io.Writer, res usecase.AdviceResult) {
	fmt.Fprintln(w, res.Answer)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "-- answered by %s", providerLabel(res.Provider, res.Model))
	if res.FellBack {
		fmt.Fprintf(w, " after %d attempts", len(res.Attempts))
	}
	if res.Degraded {
		fmt.Fprint(w, " (offline)")
	}
	fmt.Fprintln(w)
}

func providerLabel(provider, model string) string {
	if provider == "" {
		return "none"
	}
	if model == "" {
		return provider
	}
	return provider + "/" + model
}
