package state

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var reportName = regexp.MustCompile(`^report_stackset_(.+)-(drift|noncurrent|parameter|extras)\.txt$`)

// SummaryHeader is the first row of every summary.
var SummaryHeader = []string{"name", "drifts", "non_currents", "parameters", "extras_instances"}

// SummaryRow holds the report counts of one stack set. Counts has no key for
// a report file that was missing.
type SummaryRow struct {
	Name   string
	Counts map[ReportKind]int
}

// Summarize counts the stack ids in every report file under dir, grouped by
// stack set and sorted by name.
func Summarize(dir string) ([]SummaryRow, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read reports directory: %w", err)
	}

	rows := make(map[string]*SummaryRow)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := reportName.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := countStackIDs(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		row, ok := rows[m[1]]
		if !ok {
			row = &SummaryRow{Name: m[1], Counts: make(map[ReportKind]int)}
			rows[m[1]] = row
		}
		row.Counts[ReportKind(m[2])] = n
	}

	out := make([]SummaryRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// WriteSummary writes rows as CSV. Missing reports leave their cell empty.
func WriteSummary(w io.Writer, rows []SummaryRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(SummaryHeader); err != nil {
		return err
	}
	for _, row := range rows {
		record := []string{row.Name}
		for _, kind := range []ReportKind{ReportDrift, ReportNonCurrent, ReportParameter, ReportExtras} {
			if n, ok := row.Counts[kind]; ok {
				record = append(record, strconv.Itoa(n))
			} else {
				record = append(record, "")
			}
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func countStackIDs(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open report: %w", err)
	}
	defer f.Close()

	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if strings.HasPrefix(sc.Text(), "arn") {
			n++
		}
	}
	if err := sc.Err(); err != nil {
		return 0, fmt.Errorf("failed to scan %s: %w", path, err)
	}
	return n, nil
}
