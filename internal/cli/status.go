package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <instance>",
	Short: "List the records an instance would process next, without processing them",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	app, inst := lookupInstance(ctx, args[0])
	defer stopApp(app)

	rows, err := app.Store().Query(ctx, inst.Predicate)
	if err != nil {
		return fmt.Errorf("query store: %w", err)
	}

	claimed := make(map[string]bool)
	if ledger := app.Ledger(); ledger != nil {
		ids, err := ledger.Pending(ctx, inst.Config.Name)
		if err != nil {
			slog.Warn("Failed to read claims", "error", err)
		}
		for _, id := range ids {
			claimed[id] = true
		}
	}

	fmt.Printf("Instance %s (%s): %s\n\n", inst.Config.Name, inst.Config.Kind, inst.Predicate)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tCONTACT\tPAYLOAD\tCLAIMED\tMISSING")
	for _, rec := range inst.Extractor.ExtractAll(rows) {
		missing := inst.Provider.Requires().Missing(rec)
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\n",
			rec.ID, rec.Identity.Name, rec.Identity.Contact, rec.Payload,
			claimed[rec.ID], strings.Join(missing, ","),
		)
	}
	_ = w.Flush()

	fmt.Printf("\n%d eligible\n", len(rows))
	return nil
}
