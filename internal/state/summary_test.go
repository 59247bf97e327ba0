package state

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarize(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
	a := stackID("us-east-1", "111111111111", "a") + "\n"
	b := stackID("us-east-1", "222222222222", "b") + "\n"

	write("report_stackset_beta-drift.txt", a+b)
	write("report_stackset_beta-noncurrent.txt", "")
	write("report_stackset_beta-parameter.txt", a)
	write("report_stackset_beta-extras.txt", "\n"+b)
	write("report_stackset_alpha-drift.txt", "")
	write("notes.txt", a)

	rows, err := Summarize(dir)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "alpha", rows[0].Name)
	assert.Equal(t, map[ReportKind]int{ReportDrift: 0}, rows[0].Counts)
	assert.Equal(t, "beta", rows[1].Name)
	assert.Equal(t, map[ReportKind]int{
		ReportDrift: 2, ReportNonCurrent: 0, ReportParameter: 1, ReportExtras: 1,
	}, rows[1].Counts)

	var buf bytes.Buffer
	require.NoError(t, WriteSummary(&buf, rows))
	assert.Equal(t,
		"name,drifts,non_currents,parameters,extras_instances\n"+
			"alpha,0,,,\n"+
			"beta,2,0,1,1\n",
		buf.String())
}

func TestSummarize_StoreReports(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(ReportsDir(dir), 0755))
	require.NoError(t, os.WriteFile(ReportPath(dir, "my-set-v2", ReportExtras), []byte(stackID("us-east-1", "1", "x")+"\n"), 0644))

	rows, err := Summarize(ReportsDir(dir))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "my-set-v2", rows[0].Name)
	assert.Equal(t, 1, rows[0].Counts[ReportExtras])
}

func TestSummarize_MissingDir(t *testing.T) {
	_, err := Summarize(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}
