package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/vietddude/pollmark/internal/control"
	"github.com/vietddude/pollmark/internal/core/claim"
)

var forceRelease bool

var claimsCmd = &cobra.Command{
	Use:   "claims",
	Short: "Inspect and release claim ledger entries",
}

var claimsListCmd = &cobra.Command{
	Use:   "list <instance>",
	Short: "List records claimed or awaiting their mark",
	Args:  cobra.ExactArgs(1),
	RunE:  runClaimsList,
}

var claimsReleaseCmd = &cobra.Command{
	Use:   "release <instance> <record-id>",
	Short: "Drop a stuck claim so the record is processed again",
	Args:  cobra.ExactArgs(2),
	RunE:  runClaimsRelease,
}

func init() {
	claimsReleaseCmd.Flags().BoolVar(&forceRelease, "force", false, "also drop a stored outcome (the side effect may repeat)")
	claimsCmd.AddCommand(claimsListCmd, claimsReleaseCmd)
	rootCmd.AddCommand(claimsCmd)
}

var errClaimsDisabled = errors.New("claims are disabled, set claims.enabled")

func requireLedger(app *control.App) (claim.Ledger, error) {
	ledger := app.Ledger()
	if ledger == nil {
		return nil, errClaimsDisabled
	}
	return ledger, nil
}

func runClaimsList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	app, inst := lookupInstance(ctx, args[0])
	defer stopApp(app)

	ledger, err := requireLedger(app)
	if err != nil {
		return err
	}
	ids, err := ledger.Pending(ctx, inst.Config.Name)
	if err != nil {
		return fmt.Errorf("list claims: %w", err)
	}
	for _, id := range ids {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), id)
	}
	return nil
}

func runClaimsRelease(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	app, inst := lookupInstance(ctx, args[0])
	defer stopApp(app)

	ledger, err := requireLedger(app)
	if err != nil {
		return err
	}
	name, id := inst.Config.Name, args[1]

	release := ledger.Release
	if forceRelease {
		release = ledger.Clear
	}
	if err := release(ctx, name, id); err != nil {
		return fmt.Errorf("release claim %s: %w", id, err)
	}

	if _, pending, err := ledger.Outcome(ctx, name, id); err == nil && pending {
		slog.Warn("Record has a stored outcome, the next cycle will mark it without repeating the side effect; use --force to drop it", "record_id", id)
		return nil
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Released %s/%s\n", name, id)
	return nil
}
