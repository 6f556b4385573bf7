package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/bradbeattie/api.iscanadafair.ca/internal/model"
	"github.com/bradbeattie/api.iscanadafair.ca/internal/store"
)

var escalationsCmd = &cobra.Command{
	Use:   "escalations",
	Short: "Review queued entity resolution escalations",
	Long:  "Lists escalations recorded in queue mode and records human decisions. Decided escalations replay the next time their sitting is processed.",
}

// -- escalations list --

var escalationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List escalations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, "review")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		sitting, _ := cmd.Flags().GetString("sitting")
		limit, _ := cmd.Flags().GetInt("limit")

		escs, err := st.ListEscalations(ctx, store.EscalationFilter{
			Status:    model.EscalationStatus(status),
			SittingID: sitting,
			Limit:     limit,
		})
		if err != nil {
			return eris.Wrap(err, "escalations list")
		}
		if len(escs) == 0 {
			fmt.Fprintln(os.Stderr, "No escalations found.")
			return nil
		}

		formatEscalations(os.Stdout, escs)
		return nil
	},
}

// -- escalations decide --

var escalationsDecideCmd = &cobra.Command{
	Use:   "decide <escalation-id>",
	Short: "Record the decision for an escalation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		decision, err := decisionFromFlags(cmd)
		if err != nil {
			return err
		}

		st, err := openStore(ctx, "review")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		esc, err := st.DecideEscalation(ctx, args[0], decision)
		if err != nil {
			return eris.Wrapf(err, "escalations decide %s", args[0])
		}
		fmt.Fprintf(os.Stdout, "%s %s", esc.ID, esc.Status)
		if esc.SittingID != "" {
			fmt.Fprintf(os.Stdout, "; rerun sitting %s to apply", esc.SittingID)
		}
		fmt.Fprintln(os.Stdout)
		return nil
	},
}

// decisionFromFlags reads exactly one of --entity, --search or --skip.
func decisionFromFlags(cmd *cobra.Command) (model.EscalationDecision, error) {
	entity, _ := cmd.Flags().GetString("entity")
	search, _ := cmd.Flags().GetString("search")
	skip, _ := cmd.Flags().GetBool("skip")

	set := 0
	for _, ok := range []bool{entity != "", search != "", skip} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return model.EscalationDecision{}, eris.New("exactly one of --entity, --search or --skip is required")
	}
	return model.EscalationDecision{EntityID: entity, CorrectedSearch: search}, nil
}

// formatEscalations writes escalations as an aligned table, one candidate
// list per row.
func formatEscalations(w io.Writer, escs []model.Escalation) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tKIND\tSITTING\tSEARCH\tCANDIDATES\tDECISION")
	for _, e := range escs {
		sitting := e.SittingID
		if sitting == "" {
			sitting = "-"
		}
		cands := make([]string, 0, len(e.Candidates))
		for _, c := range e.Candidates {
			cands = append(cands, fmt.Sprintf("%s(%.2f)", c.EntityID, c.Score))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.ID, e.Status, e.Kind, sitting,
			strings.Join(e.SearchNames, " | "),
			strings.Join(cands, " "),
			formatDecision(e),
		)
	}
	tw.Flush() //nolint:errcheck
}

func formatDecision(e model.Escalation) string {
	switch {
	case e.Status == model.EscalationSkipped:
		return "skip"
	case e.Decision.EntityID != "":
		return e.Decision.EntityID
	case e.Decision.CorrectedSearch != "":
		return fmt.Sprintf("search %q", e.Decision.CorrectedSearch)
	default:
		return "-"
	}
}

func init() {
	escalationsListCmd.Flags().String("status", string(model.EscalationPending), "filter by status (pending, decided, skipped; empty for all)")
	escalationsListCmd.Flags().String("sitting", "", "filter by sitting id")
	escalationsListCmd.Flags().Int("limit", 50, "max rows to show")

	escalationsDecideCmd.Flags().String("entity", "", "choose this entity id")
	escalationsDecideCmd.Flags().String("search", "", "retry matching with this corrected search string")
	escalationsDecideCmd.Flags().Bool("skip", false, "the name has no canonical entity")

	escalationsCmd.AddCommand(escalationsListCmd, escalationsDecideCmd)
	rootCmd.AddCommand(escalationsCmd)
}
