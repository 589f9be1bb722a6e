package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vietddude/pollmark/internal/control"
	"github.com/vietddude/pollmark/internal/core/domain"
	"github.com/vietddude/pollmark/internal/engine/effect"
	"github.com/vietddude/pollmark/internal/infra/store"
)

var reviewCmd = &cobra.Command{
	Use:   "review <instance> <record-id> <score> <feedback...>",
	Short: "Write a manual score and feedback to a record and mark it reviewed",
	Args:  cobra.MinimumNArgs(4),
	RunE:  runReview,
}

func init() {
	rootCmd.AddCommand(reviewCmd)
}

func runReview(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	score, err := strconv.Atoi(args[2])
	if err == nil {
		err = effect.ValidateScore(score)
	}
	if err != nil {
		return fmt.Errorf("invalid score %q: %w", args[2], err)
	}

	app, inst := lookupInstance(ctx, args[0])
	defer stopApp(app)

	return review(ctx, app, inst, args[1], score, strings.Join(args[3:], " "), cmd.OutOrStdout())
}

// review marks one record with a manual score through the instance's
// processor, so the write-back matches an automated evaluation.
func review(ctx context.Context, app *control.App, inst *control.Instance, id string, score int, feedback string, w io.Writer) error {
	if inst.Config.Kind != effect.KindEvaluate {
		return fmt.Errorf("manual review needs an evaluate instance, %s is %s", inst.Config.Name, inst.Config.Kind)
	}

	rec := domain.Record{ID: id}
	if getter, ok := app.Store().(store.RowGetter); ok {
		row, err := getter.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("read record %s: %w", id, err)
		}
		rec = inst.Extractor.Extract(row)
	}

	out := effect.ScoreOutcome(score, feedback, inst.Config.Outcome.ScoreField, inst.Config.Outcome.FeedbackField)
	if err := inst.Processor.Mark(ctx, rec, out); err != nil {
		return fmt.Errorf("write review for %s: %w", id, err)
	}

	_, _ = fmt.Fprintf(w, "Reviewed %s (%s): score %d\n", id, rec.Identity.Name, score)
	return nil
}
