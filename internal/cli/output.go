package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/stackshift-io/stackshift/internal/engine"
	"github.com/stackshift-io/stackshift/internal/ir"
)

var (
	passColor  = color.New(color.FgGreen, color.Bold)
	failColor  = color.New(color.FgRed, color.Bold)
	warnColor  = color.New(color.FgYellow)
	faintColor = color.New(color.Faint)
)

// printResult writes the outcome of a migration run for the operator.
func printResult(w io.Writer, res *engine.Result, runErr error) {
	if res == nil {
		return
	}
	if res.Source != nil {
		printClassification(w, res.Source)
	}
	if res.Verdict != nil {
		printVerdict(w, res.Verdict)
	}

	switch {
	case res.State == engine.StateDone && len(res.Migrated) > 0:
		passColor.Fprintf(w, "\nMigrated %d stack instances into %s.\n", len(res.Migrated), res.Target.Name)
	case res.State == engine.StateDone && res.Target == nil:
		passColor.Fprintf(w, "\n%s is ready for a migration.\n", res.Source.Name)
	case errors.Is(runErr, engine.ErrOperatorAbort):
		warnColor.Fprintln(w, "\nMigration aborted, nothing was changed.")
	}

	if res.Manifest != "" {
		fmt.Fprintf(w, "Manifest: %s\n", res.Manifest)
	}
	var ierr *engine.ImportError
	if errors.As(runErr, &ierr) {
		failColor.Fprintf(w, "\n%d stack instances were detached but not imported:\n", len(ierr.Remaining))
		for _, id := range ierr.Remaining {
			fmt.Fprintf(w, "  %s\n", id)
		}
		fmt.Fprintf(w, "Replay them with: stackshift import -t %s --manifest <file listing the ids above>\n", ierr.StackSet)
	}
}

func printClassification(w io.Writer, snap *ir.StackSetSnapshot) {
	c := snap.Classified
	fmt.Fprintf(w, "Stack set %s: %d instances in %d regions\n", snap.Name, len(snap.Instances), len(snap.Regions()))
	rows := []struct {
		label string
		n     int
	}{
		{"drifted", len(c.Drifted)},
		{"parameter overrides", len(c.Overrides)},
		{"not current", len(c.NonCurrent)},
		{"outside target accounts", len(c.Extras)},
	}
	for _, r := range rows {
		line := fmt.Sprintf("  %-24s %d\n", r.label, r.n)
		if r.n > 0 {
			warnColor.Fprint(w, line)
		} else {
			faintColor.Fprint(w, line)
		}
	}
}

// printVerdict lists every violation with the instances behind it.
func printVerdict(w io.Writer, v *ir.Verdict) {
	if v.Passed() {
		passColor.Fprintln(w, "\nAll checks passed.")
		return
	}
	failColor.Fprintf(w, "\n%d checks failed:\n", len(v.Violations))
	for _, viol := range v.Violations {
		failColor.Fprintf(w, "  ✗ %s", viol.Category)
		fmt.Fprintf(w, ": %s\n", viol.Message)
		for _, ref := range viol.Instances {
			faintColor.Fprintf(w, "      %s\n", ref.StackID)
		}
	}
}
