package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fairyhunter13/ai-legal-assistant/internal/domain"
)

var quotaCmd = &cobra.Command{
	Use:   "quota PROVIDER",
	Short: "Show the quota window for a provider credential",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuota,
}

func init() {
	quotaCmd.Flags().String("tier", "", "free or paid (default: detected)")
	rootCmd.AddCommand(quotaCmd)
}

func runQuota(cmd *cobra.Command, args []string) error {
	provider := strings.ToLower(strings.TrimSpace(args[0]))
	rawKeys, _ := cmd.Flags().GetStringArray("key")
	keys, err := parseKeys(rawKeys)
	if err != nil {
		return err
	}
	tierFlag, _ := cmd.Flags().GetString("tier")
	tier := domain.ParseTier(tierFlag)
	if tierFlag != "" && tier == domain.TierUnknown {
		return fmt.Errorf("invalid --tier %q: want free or paid", tierFlag)
	}

	st, err := container.Advice.GetQuotaStatus(cmd.Context(), provider, keys[provider], tier)
	if err != nil {
		return err
	}
	if asJSON(cmd) {
		return writeJSON(cmd.OutOrStdout(), st)
	}
	formatQuota(cmd.OutOrStdout(), st, time.Now())
	return nil
}

func formatQuota(w io.Writer, st domain.QuotaStatus, now time.Time) {
	if st.Limit == 0 {
		fmt.Fprintf(w, "%s: unlimited\n", st.Provider)
		return
	}
	fmt.Fprintf(w, "%s (%s): %d/%d used, %d remaining (%.0f%%)\n",
		st.Provider, tierLabel(st.Tier), st.Used, st.Limit, st.Remaining, st.PercentUsed)
	if st.ResetAt.After(now) {
		fmt.Fprintf(w, "resets in %s\n", st.ResetAt.Sub(now).Round(time.Second))
	}
}

func tierLabel(t domain.Tier) string {
	if t == domain.TierUnknown {
		return string(domain.TierFree)
	}
	return string(t)
}
