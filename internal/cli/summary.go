package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/stackshift-io/stackshift/internal/state"
)

var (
	summaryReportsDir string
	summaryOut        string
)

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Summarize classification reports as CSV",
	Long: `Counts the stack ids in every report_stackset_<name>-<kind>.txt file and writes
one CSV row per stack set. Use --out - to print to stdout.`,
	Args: cobra.NoArgs,
	RunE: runSummary,
}

func init() {
	summaryCmd.Flags().StringVar(&summaryReportsDir, "reports-dir", state.ReportsDir("."), "Directory holding the report files")
	summaryCmd.Flags().StringVar(&summaryOut, "out", "summary.csv", "CSV file to write")
}

func runSummary(cmd *cobra.Command, args []string) error {
	rows, err := state.Summarize(summaryReportsDir)
	if err != nil {
		return err
	}

	if summaryOut == "-" {
		return writeSummary(cmd.OutOrStdout(), rows)
	}
	f, err := os.Create(summaryOut)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", summaryOut, err)
	}
	if err := writeSummary(f, rows); err != nil {
		f.Close()
		return err
	}
	if err := closeSummary(f); err != nil {
		return fmt.Errorf("failed to close %s: %w", summaryOut, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d stack sets to %s\n", len(rows), summaryOut)
	return nil
}

// closeSummary closes the written CSV file.
var closeSummary = func(c io.Closer) error { return c.Close() }

func writeSummary(w io.Writer, rows []state.SummaryRow) error {
	if err := state.WriteSummary(w, rows); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return nil
}
