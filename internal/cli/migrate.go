package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/stackshift-io/stackshift/internal/engine"
	"github.com/stackshift-io/stackshift/internal/logging"
	"github.com/stackshift-io/stackshift/internal/org"
	"github.com/stackshift-io/stackshift/internal/provider"
	"github.com/stackshift-io/stackshift/internal/stackset"
	"github.com/stackshift-io/stackshift/internal/state"
	awsprovider "github.com/stackshift-io/stackshift/providers/aws"
)

var (
	migrateSource         string
	migrateTarget         string
	migrateUnit           string
	migrateDisableDrift   bool
	migrateChangeSets     bool
	migrateRegion         string
	migrateProfile        string
	migrateOutputDir      string
	migrateManifestBucket string
	migrateLogFile        string
	migratePollInterval   time.Duration
	migrateOpTimeout      time.Duration
	migrateConcurrency    int
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Verify two stack sets and move instances from source to target",
	Long: `Loads the source and target stack sets, classifies every source instance and
compares both stack sets. When every check passes and the operator confirms,
the source instances are deleted with their stacks retained and imported
into the target in batches of 10.

Without --target only the source is verified.

Example:
  stackshift migrate -s legacy-baseline -t baseline -o ou-ab12-cdef3456 -c`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

func init() {
	f := migrateCmd.Flags()
	f.StringVarP(&migrateSource, "source", "s", "", "Source stack set name")
	f.StringVarP(&migrateTarget, "target", "t", "", "Target stack set name")
	f.StringVarP(&migrateUnit, "ou", "o", "", "Only migrate instances of this organizational unit")
	f.BoolVarP(&migrateDisableDrift, "disable-drift", "d", false, "Skip drift detection on the source")
	f.BoolVarP(&migrateChangeSets, "change-set", "c", false, "Preview every instance against the target with a change set")
	f.StringVar(&migrateRegion, "region", "", "AWS region of the stack sets")
	f.StringVar(&migrateProfile, "profile", "", "AWS shared config profile")
	f.StringVar(&migrateOutputDir, "output-dir", ".", "Directory for reports, manifest and log")
	f.StringVar(&migrateManifestBucket, "manifest-bucket", "", "Also write the manifest to this S3 bucket")
	f.StringVar(&migrateLogFile, "log-file", "", "Log file (default <output-dir>/logs/migrate_stackset_<source>.log)")
	f.DurationVar(&migratePollInterval, "poll-interval", engine.DefaultPollInterval, "Interval between operation status polls")
	f.DurationVar(&migrateOpTimeout, "operation-timeout", 0, "Give up waiting on a delete or import operation after this long (0 waits until it finishes)")
	f.IntVar(&migrateConcurrency, "changeset-concurrency", engine.DefaultChangeSetConcurrency, "Change sets evaluated at once")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	opts := engine.Options{
		Source:             migrateSource,
		Target:             migrateTarget,
		OrganizationalUnit: migrateUnit,
		DisableDrift:       migrateDisableDrift,
		CheckChangeSets:    migrateChangeSets,
	}
	if err := opts.Validate(); err != nil {
		return err
	}

	logFile := migrateLogFile
	if logFile == "" {
		logFile = state.LogPath(migrateOutputDir, opts.Source)
	}
	if err := logging.AddFile(logFile); err != nil {
		return err
	}
	defer logging.Close()

	sess, err := awsprovider.NewSession(ctx, awsprovider.Options{Region: migrateRegion, Profile: migrateProfile})
	if err != nil {
		return err
	}

	m, err := newMigrator(ctx, cmd, sess)
	if err != nil {
		return err
	}

	res, err := m.Run(ctx, opts)
	printResult(cmd.OutOrStdout(), res, err)
	return err
}

func newMigrator(ctx context.Context, cmd *cobra.Command, sess *awsprovider.Session) (*engine.Migrator, error) {
	retry := engine.ThrottleRetryPolicy()
	resolver := org.NewResolver(sess.Organizations).WithRetry(retry)

	store := state.NewStore(migrateOutputDir)
	if migrateManifestBucket != "" {
		mirror, err := state.NewMirror(ctx, &state.MirrorConfig{
			Type: "s3",
			Config: map[string]string{
				"bucket":  migrateManifestBucket,
				"encrypt": "true",
			},
			S3: sess.S3,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to configure manifest bucket: %w", err)
		}
		store.Mirror = mirror
	}

	changeSets := &engine.ChangeSetEvaluator{
		Clients:     provider.NewRegistry(sess.Config, sess.STS),
		Interval:    migratePollInterval,
		Concurrency: migrateConcurrency,
		Retry:       retry,
	}

	return &engine.Migrator{
		Resolver:   resolver,
		Loader:     stackset.NewLoader(sess.CloudFormation, resolver).WithRetry(retry),
		Evaluator:  stackset.NewEvaluator(sess.CloudFormation).WithRetry(retry),
		Drift:      stackset.NewDriftDetector(sess.CloudFormation, migratePollInterval),
		Comparator: &engine.Comparator{ChangeSets: changeSets},
		Confirmer:  &promptConfirmer{in: cmd.InOrStdin(), out: cmd.ErrOrStderr()},
		Recorder:   store,
		Client:     sess.CloudFormation,
		Interval:   migratePollInterval,
		Retry:      retry,

		OperationTimeout: migrateOpTimeout,
	}, nil
}
