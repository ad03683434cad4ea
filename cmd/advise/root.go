// Command advise asks legal questions from the terminal using the same
// provider fallback, quota tracking and synthesis as the HTTP server.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/fairyhunter13/ai-legal-assistant/internal/adapter/observability"
	"github.com/fairyhunter13/ai-legal-assistant/internal/app"
	"github.com/fairyhunter13/ai-legal-assistant/internal/config"
)

var container *app.Container

var rootCmd = &cobra.Command{
	Use:   "advise",
	Short: "Ask legal questions across AI providers",
	Long: `Ask legal questions across AI providers with automatic fallback.

Provider keys come from --key provider=KEY flags or the usual environment
variables (OPENAI_API_KEY, ANTHROPIC_API_KEY, ...). When no provider can
answer, the offline assistant replies instead.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		slog.SetDefault(observability.SetupLogger(cfg))
		c, err := app.Bootstrap(cmd.Context(), cfg)
		if err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}
		container = c
		return nil
	},
	PersistentPostRun: func(_ *cobra.Command, _ []string) {
		if container != nil {
			container.Close()
		}
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringArrayP("key", "k", nil, "provider credential as provider=KEY (repeatable)")
	pf.StringP("provider", "p", "", "preferred provider id")
	pf.StringP("jurisdiction", "j", "", "jurisdiction, e.g. CA or federal")
	pf.Bool("json", false, "print the full JSON result")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
