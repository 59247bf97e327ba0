package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/stackshift-io/stackshift/internal/engine"
	"github.com/stackshift-io/stackshift/internal/logging"
	"github.com/stackshift-io/stackshift/internal/state"
	awsprovider "github.com/stackshift-io/stackshift/providers/aws"
)

var (
	importTarget       string
	importManifest     string
	importRegion       string
	importProfile      string
	importPollInterval time.Duration
	importOpTimeout    time.Duration
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import the stacks listed in a manifest into a stack set",
	Long: `Replays the import step of a migration from a manifest file, one stack id
per line. Use it to finish a migration whose import stopped part way.

The manifest may be a local path or an s3://bucket/key URL.

Example:
  stackshift import -t baseline --manifest legacy-baseline-instances-deleted.txt`,
	Args: cobra.NoArgs,
	RunE: runImport,
}

func init() {
	f := importCmd.Flags()
	f.StringVarP(&importTarget, "target", "t", "", "Target stack set name")
	f.StringVar(&importManifest, "manifest", "", "Manifest file or s3:// URL")
	f.StringVar(&importRegion, "region", "", "AWS region of the stack set")
	f.StringVar(&importProfile, "profile", "", "AWS shared config profile")
	f.DurationVar(&importPollInterval, "poll-interval", engine.DefaultPollInterval, "Interval between operation status polls")
	f.DurationVar(&importOpTimeout, "operation-timeout", 0, "Give up waiting on an import batch after this long (0 waits until it finishes)")
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if importTarget == "" || importManifest == "" {
		return fmt.Errorf("%w: --target and --manifest are required", engine.ErrInvalidOptions)
	}

	var ids []string
	var err error
	remote := strings.HasPrefix(importManifest, "s3://")
	if !remote {
		if ids, err = state.ReadManifest(importManifest); err != nil {
			return err
		}
	}

	sess, err := awsprovider.NewSession(ctx, awsprovider.Options{Region: importRegion, Profile: importProfile})
	if err != nil {
		return err
	}
	if remote {
		if ids, err = readRemoteManifest(ctx, sess, importManifest); err != nil {
			return err
		}
	}
	if len(ids) == 0 {
		logging.Info("manifest lists no stack", "manifest", importManifest)
		return nil
	}

	importer := &engine.Importer{
		Client:   sess.CloudFormation,
		Interval: importPollInterval,
		Retry:    engine.ThrottleRetryPolicy(),
		Timeout:  importOpTimeout,
	}
	if err := importer.Import(ctx, importTarget, ids); err != nil {
		return err
	}
	passColor.Fprintf(cmd.OutOrStdout(), "Imported %d stacks into %s.\n", len(ids), importTarget)
	return nil
}

func readRemoteManifest(ctx context.Context, sess *awsprovider.Session, url string) ([]string, error) {
	bucket, key, err := state.ParseS3URL(url)
	if err != nil {
		return nil, err
	}
	mirror, err := state.NewMirror(ctx, &state.MirrorConfig{
		Type:   "s3",
		Config: map[string]string{"bucket": bucket, "prefix": ""},
		S3:     sess.S3,
	})
	if err != nil {
		return nil, err
	}
	content, err := mirror.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return state.ParseManifest(content)
}
