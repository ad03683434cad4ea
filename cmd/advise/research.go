package main

import (
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fairyhunter13/ai-legal-assistant/internal/usecase"
)

var researchCmd = &cobra.Command{
	Use:   "research QUESTION",
	Short: "Research a question and extract cases, statutes and case studies",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runResearch,
}

var compareCmd = &cobra.Command{
	Use:   "compare QUESTION",
	Short: "Ask several providers the same question and rank the answers",
	Long: `Ask several providers the same question and rank the answers.

Examples:
  advise compare "Is a verbal lease binding?" --providers openai,groq -k openai=sk-... -k groq=gsk_...`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCompare,
}

func init() {
	compareCmd.Flags().StringSlice("providers", nil, "providers to compare (default: configured order)")
	rootCmd.AddCommand(researchCmd, compareCmd)
}

func runResearch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	req, err := adviceRequestFrom(cmd, args)
	if err != nil {
		return err
	}
	res, err := container.Research.Research(ctx, usecase.ResearchRequest{
		Query:        req.Query,
		Provider:     req.Provider,
		Jurisdiction: req.Jurisdiction,
		Credentials:  req.Credentials,
	})
	if err != nil {
		return err
	}
	if asJSON(cmd) {
		return writeJSON(cmd.OutOrStdout(), res)
	}
	formatResearch(cmd.OutOrStdout(), res)
	return nil
}

func runCompare(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	req, err := adviceRequestFrom(cmd, args)
	if err != nil {
		return err
	}
	providers, _ := cmd.Flags().GetStringSlice("providers")
	res, err := container.Research.Compare(ctx, usecase.CompareRequest{
		Query:        req.Query,
		Jurisdiction: req.Jurisdiction,
		Providers:    providers,
		Credentials:  req.Credentials,
	})
	if asJSON(cmd) && len(res.Candidates) > 0 {
		if werr := writeJSON(cmd.OutOrStdout(), res); werr != nil {
			return werr
		}
		return err
	}
	if len(res.Candidates) > 0 {
		formatCompare(cmd.OutOrStdout(), res)
	}
	return err
}

func formatResearch(w io.Writer, res usecase.ResearchResult) {
	fmt.Fprintln(w, res.Answer)
	fmt.Fprintln(w)

	a := res.Analysis
	if len(a.Cases) > 0 {
		fmt.Fprintln(w, "CASES")
		for _, c := range a.Cases {
			line := "  " + c.Title
			if c.Year > 0 {
				line += fmt.Sprintf(" (%d)", c.Year)
			}
			fmt.Fprintf(w, "%s  relevance %.2f\n", line, c.Relevance)
		}
	}
	if len(a.Statutes) > 0 {
		fmt.Fprintln(w, "STATUTES")
		for _, s := range a.Statutes {
			fmt.Fprintf(w, "  %s  relevance %.2f\n", s.Title, s.Relevance)
		}
	}
	if len(res.CaseStudies) > 0 {
		fmt.Fprintln(w, "CASE STUDIES")
		for _, cs := range res.CaseStudies {
			fmt.Fprintf(w, "  %s  %s  win %.0f%%\n", cs.Title, cs.Outcome, cs.WinProbability)
		}
	}
	fmt.Fprintf(w, "strength %.0f/100  overall %.0f/100  %s  via %s\n",
		a.Strength.Overall, res.Metrics.Overall, res.Jurisdiction, providerLabel(res.Provider, res.Model))
}

func formatCompare(w io.Writer, res usecase.CompareResult) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PROVIDER\tOVERALL\tCITATIONS\tELAPSED\tSTATUS")
	for _, c := range res.Candidates {
		status := "ok"
		if c.Error != "" {
			status = c.Error
		}
		if c.Provider == res.Winner {
			status += " (winner)"
		}
		fmt.Fprintf(tw, "%s\t%.1f\t%d\t%s\t%s\n",
			c.Provider, c.Metrics.Overall, c.Metrics.CitationCount, c.Elapsed.Round(time.Millisecond), status)
	}
	_ = tw.Flush()

	for _, c := range res.Candidates {
		if c.Provider == res.Winner {
			fmt.Fprintln(w)
			fmt.Fprintln(w, strings.TrimSpace(c.Answer))
		}
	}
}
