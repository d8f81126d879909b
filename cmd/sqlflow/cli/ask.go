package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/sqlflow/pkg/sqlflow"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/orchestrator"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/pipeline"
)

func newAskCmd(root *rootOptions) *cobra.Command {
	var (
		asJSON  bool
		events  bool
		approve bool
	)
	cmd := &cobra.Command{
		Use:   "ask QUESTION",
		Short: "Ask one question and print the answer",
		Long: `Ask one question against the configured database. When the generated SQL
fails validation the record is left pending; pass --approve to run it anyway
once reviewed on the terminal.`,
		Example: `  sqlflow ask "How many users signed up last week?"
  sqlflow ask --events "Compare revenue across regions"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, logger, err := root.load()
			if err != nil {
				return err
			}
			ctx := commandContext(cmd)
			a, err := newApp(ctx, settings, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			question := strings.Join(args, " ")
			out := cmd.OutOrStdout()

			var record *sqlflow.QueryRecord
			for ev := range a.orch.Stream(ctx, question, "") {
				if events {
					printEvent(out, ev)
				}
				switch ev.Name {
				case orchestrator.EventRecord:
					record, _ = ev.Data["record"].(*sqlflow.QueryRecord)
				case orchestrator.EventError:
					if record == nil {
						return fmt.Errorf("%v", ev.Data["error"])
					}
				}
			}
			if record == nil {
				return fmt.Errorf("no result for %q", question)
			}

			if record.Status == sqlflow.StatusPending && approve {
				record, err = a.orch.Approve(ctx, record.ID, true, "")
				if err != nil {
					return err
				}
			}
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(record)
			}
			printRecord(out, record)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full record as JSON")
	cmd.Flags().BoolVar(&events, "events", false, "print progress events as they happen")
	cmd.Flags().BoolVar(&approve, "approve", false, "run SQL that failed validation without further review")
	return cmd
}

func printEvent(w io.Writer, ev pipeline.Event) {
	if ev.Name == orchestrator.EventRecord {
		return
	}
	fmt.Fprintf(w, "· %s\n", ev.Name)
}

func printRecord(w io.Writer, r *sqlflow.QueryRecord) {
	fmt.Fprintf(w, "status: %s\n", r.Status)
	if r.GeneratedSQL != "" {
		fmt.Fprintf(w, "sql:\n  %s\n", strings.ReplaceAll(r.GeneratedSQL, "\n", "\n  "))
	}
	for _, v := range r.ValidationErrors {
		fmt.Fprintf(w, "validation: %s\n", v)
	}
	if r.Error != "" {
		fmt.Fprintf(w, "error: %s\n", r.Error)
	}
	if r.Answer != "" {
		fmt.Fprintf(w, "\n%s\n", r.Answer)
	}
	if r.Status == sqlflow.StatusPending {
		fmt.Fprintf(w, "\nrecord %s awaits review; rerun with --approve to execute it\n", r.ID)
	}
}
