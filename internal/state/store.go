// Package state persists the files a migration leaves behind: classification
// reports, the deleted-instance manifest and the report summary.
package state

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/stackshift-io/stackshift/internal/ir"
	"github.com/stackshift-io/stackshift/internal/logging"
)

// ReportKind names one classification report.
type ReportKind string

const (
	ReportDrift      ReportKind = "drift"
	ReportParameter  ReportKind = "parameter"
	ReportNonCurrent ReportKind = "noncurrent"
	ReportExtras     ReportKind = "extras"
)

// ReportKinds lists every report, in the order they are written.
var ReportKinds = []ReportKind{ReportDrift, ReportParameter, ReportNonCurrent, ReportExtras}

// ManifestSuffix ends the file name of every deleted-instance manifest.
const ManifestSuffix = "-instances-deleted.txt"

// ReportsDir returns the directory holding reports under dir.
func ReportsDir(dir string) string {
	return filepath.Join(dir, "reports")
}

// ReportPath returns the path of one report of stackSet.
func ReportPath(dir, stackSet string, kind ReportKind) string {
	return filepath.Join(ReportsDir(dir), fmt.Sprintf("report_stackset_%s-%s.txt", stackSet, kind))
}

// ManifestName returns the file name of the manifest of source.
func ManifestName(source string) string {
	return source + ManifestSuffix
}

// LogPath returns the path of the run log of source.
func LogPath(dir, source string) string {
	return filepath.Join(dir, "logs", fmt.Sprintf("migrate_stackset_%s.log", source))
}

// Store writes run files under Dir and optionally mirrors the manifest.
type Store struct {
	Dir    string
	Mirror Mirror
}

// NewStore creates a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{Dir: dir}
}

// WriteReports writes the four classification reports of snap, one stack id
// per line. Empty categories produce empty files.
func (s *Store) WriteReports(snap *ir.StackSetSnapshot) error {
	c := snap.Classified
	lists := map[ReportKind][]ir.InstanceRef{
		ReportDrift:      c.Drifted,
		ReportParameter:  c.Overrides,
		ReportNonCurrent: c.NonCurrent,
		ReportExtras:     c.Extras,
	}
	if err := os.MkdirAll(ReportsDir(s.Dir), 0755); err != nil {
		return fmt.Errorf("failed to create reports directory: %w", err)
	}
	for _, kind := range ReportKinds {
		path := ReportPath(s.Dir, snap.Name, kind)
		if err := os.WriteFile(path, lines(ir.StackIDs(lists[kind])), 0644); err != nil {
			return fmt.Errorf("failed to write %s report: %w", kind, err)
		}
	}
	logging.Info("reports written", "stackset", snap.Name, "dir", ReportsDir(s.Dir))
	return nil
}

// WriteManifest records the stack ids about to be detached from source and
// returns the local path. The mirror copy, if any, is written before
// returning so both exist before the delete starts.
func (s *Store) WriteManifest(ctx context.Context, source string, stackIDs []string) (string, error) {
	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(s.Dir, ManifestName(source))
	body := lines(stackIDs)
	if err := os.WriteFile(path, body, 0644); err != nil {
		return "", fmt.Errorf("failed to write manifest: %w", err)
	}
	logging.Info("manifest written", "path", path, "instances", len(stackIDs))

	if s.Mirror != nil {
		location, err := s.Mirror.Put(ctx, ManifestName(source), body)
		if err != nil {
			return path, fmt.Errorf("failed to mirror manifest: %w", err)
		}
		logging.Info("manifest mirrored", "location", location)
	}
	return path, nil
}

// ReadManifest reads a manifest file from disk.
func ReadManifest(path string) ([]string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return ParseManifest(content)
}

// ParseManifest returns the stack ids of a manifest. Blank lines are skipped;
// any other line must be a stack id.
func ParseManifest(content []byte) ([]string, error) {
	var ids []string
	sc := bufio.NewScanner(bytes.NewReader(content))
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		ref, err := ir.ParseInstanceRef(line)
		if err != nil {
			return nil, fmt.Errorf("manifest line %d: %w", n, err)
		}
		if ref.Placeholder {
			return nil, fmt.Errorf("manifest line %d: %s has no stack to import", n, line)
		}
		ids = append(ids, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan manifest: %w", err)
	}
	return ids, nil
}

func lines(items []string) []byte {
	if len(items) == 0 {
		return nil
	}
	return []byte(strings.Join(items, "\n") + "\n")
}
