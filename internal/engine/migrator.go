package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cfntypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"

	"github.com/stackshift-io/stackshift/internal/ir"
	"github.com/stackshift-io/stackshift/internal/logging"
)

var (
	// ErrInvalidOptions is returned for option combinations rejected before
	// any provider call.
	ErrInvalidOptions = errors.New("invalid options")
	// ErrEmptyScope is returned when the source has no instance in the
	// requested organizational unit.
	ErrEmptyScope = errors.New("stack set is not deployed in the requested scope")
	// ErrGateFailed is returned when the consistency gate reports violations.
	ErrGateFailed = errors.New("consistency gate failed")
	// ErrOperatorAbort is returned when the operator declines the migration.
	ErrOperatorAbort = errors.New("aborted by operator")
	// ErrOperationFailed is returned when a stack set operation ends in a
	// status other than SUCCEEDED.
	ErrOperationFailed = errors.New("stack set operation failed")
)

// ConfirmToken is the only reply accepted as consent to migrate.
const ConfirmToken = "Y"

// DeleteMaxConcurrentCount caps concurrent accounts per region while
// detaching instances.
const DeleteMaxConcurrentCount = 10

// State is a step of a migration run.
type State string

const (
	StateInit            State = "init"
	StateResolveAccounts State = "resolve-accounts"
	StateLoadTarget      State = "load-target"
	StateLoadSource      State = "load-source"
	StateDetectDrift     State = "detect-drift"
	StateEvaluate        State = "evaluate"
	StateCheckMembership State = "check-membership"
	StateGate            State = "gate"
	StateConfirm         State = "confirm"
	StateDelete          State = "delete"
	StateImport          State = "import"
	StateDone            State = "done"
	StateAborted         State = "aborted"
)

// Options selects what a run migrates.
type Options struct {
	Source             string
	Target             string
	OrganizationalUnit string
	DisableDrift       bool
	CheckChangeSets    bool
}

// Validate rejects option combinations that cannot run.
func (o Options) Validate() error {
	if o.Source == "" {
		return fmt.Errorf("%w: source stack set name is required", ErrInvalidOptions)
	}
	if o.Source == o.Target {
		return fmt.Errorf("%w: cannot migrate %s to itself", ErrInvalidOptions, o.Source)
	}
	if o.CheckChangeSets && o.Target == "" {
		return fmt.Errorf("%w: change set evaluation requires a target stack set", ErrInvalidOptions)
	}
	if o.OrganizationalUnit != "" && !strings.HasPrefix(o.OrganizationalUnit, "ou-") {
		return fmt.Errorf("%w: organizational unit %q must start with ou-", ErrInvalidOptions, o.OrganizationalUnit)
	}
	return nil
}

// SnapshotLoader loads a stack set and narrows its instances to accounts.
type SnapshotLoader interface {
	Load(ctx context.Context, name string, filterAccounts []string) (*ir.StackSetSnapshot, error)
}

// InstanceEvaluator classifies every instance of a snapshot.
type InstanceEvaluator interface {
	Evaluate(ctx context.Context, snap *ir.StackSetSnapshot) error
}

// DriftDetector refreshes the drift status of a stack set.
type DriftDetector interface {
	Detect(ctx context.Context, snap *ir.StackSetSnapshot) error
}

// UnitResolver expands an organizational unit into account ids.
type UnitResolver interface {
	Resolve(ctx context.Context, groupingID string) ([]string, error)
}

// Confirmer asks the operator for consent and returns the raw reply.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) (string, error)
}

// Recorder persists the files produced by a run.
type Recorder interface {
	WriteReports(snap *ir.StackSetSnapshot) error
	WriteManifest(ctx context.Context, source string, stackIDs []string) (string, error)
}

// MigrationAPI is the subset of the CloudFormation client that mutates stack
// sets.
type MigrationAPI interface {
	ImportAPI
	DeleteStackInstances(ctx context.Context, params *cloudformation.DeleteStackInstancesInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DeleteStackInstancesOutput, error)
}

// Result summarizes a run.
type Result struct {
	State    State
	Source   *ir.StackSetSnapshot
	Target   *ir.StackSetSnapshot
	Verdict  *ir.Verdict
	Manifest string
	Migrated []string
}

// Migrator drives a migration from loading both stack sets to importing the
// detached stacks into the target.
type Migrator struct {
	Resolver   UnitResolver
	Loader     SnapshotLoader
	Evaluator  InstanceEvaluator
	Drift      DriftDetector
	Comparator *Comparator
	Confirmer  Confirmer
	Recorder   Recorder
	Client     MigrationAPI

	Interval time.Duration
	Retry    *RetryPolicy
	// OperationTimeout bounds the wait on each stack set operation. Zero
	// waits until the operation is terminal or ctx is done.
	OperationTimeout time.Duration

	// OnTransition, when set, observes every state change.
	OnTransition func(from, to State)

	state State
}

func (m *Migrator) enter(to State) {
	from := m.state
	m.state = to
	logging.Debug("migration state", "from", string(from), "to", string(to))
	if m.OnTransition != nil {
		m.OnTransition(from, to)
	}
}

func (m *Migrator) abort(res *Result, err error) (*Result, error) {
	m.enter(StateAborted)
	res.State = StateAborted
	return res, err
}

// fail stops the run in its current state.
func (m *Migrator) fail(res *Result, err error) (*Result, error) {
	res.State = m.state
	return res, err
}

// Run executes the migration described by opts. Violations, an empty scope
// and a declined confirmation end the run in StateAborted.
func (m *Migrator) Run(ctx context.Context, opts Options) (*Result, error) {
	m.state = ""
	res := &Result{}

	m.enter(StateInit)
	if err := opts.Validate(); err != nil {
		return m.abort(res, err)
	}

	var accounts []string
	if opts.OrganizationalUnit != "" {
		m.enter(StateResolveAccounts)
		var err error
		accounts, err = m.Resolver.Resolve(ctx, opts.OrganizationalUnit)
		if err != nil {
			return m.fail(res, fmt.Errorf("failed to resolve %s: %w", opts.OrganizationalUnit, err))
		}
	}

	if opts.Target != "" {
		m.enter(StateLoadTarget)
		target, err := m.Loader.Load(ctx, opts.Target, nil)
		if err != nil {
			return m.fail(res, err)
		}
		res.Target = target
	} else {
		logging.Info("evaluating source stack set only", "stackset", opts.Source)
	}

	m.enter(StateLoadSource)
	source, err := m.Loader.Load(ctx, opts.Source, accounts)
	if err != nil {
		return m.fail(res, err)
	}
	res.Source = source

	if !opts.DisableDrift {
		m.enter(StateDetectDrift)
		if err := m.Drift.Detect(ctx, source); err != nil {
			return m.fail(res, err)
		}
	}

	m.enter(StateEvaluate)
	if err := m.Evaluator.Evaluate(ctx, source); err != nil {
		return m.fail(res, err)
	}
	if err := m.Recorder.WriteReports(source); err != nil {
		return m.fail(res, err)
	}

	m.enter(StateCheckMembership)
	if opts.OrganizationalUnit != "" {
		if len(source.FilteredInstances) == 0 {
			return m.abort(res, fmt.Errorf("%w: %s has no instance in %s", ErrEmptyScope, source.Name, opts.OrganizationalUnit))
		}
	} else {
		source.WidenFilter()
	}

	m.enter(StateGate)
	verdict, err := m.Comparator.Compare(ctx, source, res.Target, opts.CheckChangeSets)
	if err != nil {
		return m.fail(res, err)
	}
	res.Verdict = verdict
	if !verdict.Passed() {
		LogVerdict(verdict)
		return m.abort(res, fmt.Errorf("%w: %d violations", ErrGateFailed, len(verdict.Violations)))
	}

	if res.Target == nil {
		logging.Info("stack set is ready for a migration", "stackset", source.Name)
		m.enter(StateDone)
		res.State = StateDone
		return res, nil
	}

	ids := ir.StackIDs(source.FilteredInstances)
	if len(ids) == 0 {
		logging.Info("no stack instance to migrate", "stackset", source.Name)
		m.enter(StateDone)
		res.State = StateDone
		return res, nil
	}
	logging.Info("ready to move stack instances",
		"instances", len(ids), "accounts", len(accounts), "target", res.Target.Name)

	m.enter(StateConfirm)
	reply, err := m.Confirmer.Confirm(ctx, confirmPrompt(opts, source))
	if err != nil {
		return m.abort(res, fmt.Errorf("%w: %v", ErrOperatorAbort, err))
	}
	if reply != ConfirmToken {
		logging.Info("aborting now")
		return m.abort(res, ErrOperatorAbort)
	}

	m.enter(StateDelete)
	res.Manifest, err = m.Recorder.WriteManifest(ctx, source.Name, ids)
	if err != nil {
		return m.fail(res, err)
	}
	units := source.OrganizationalUnits
	if opts.OrganizationalUnit != "" {
		units = []string{opts.OrganizationalUnit}
	}
	if err := m.detach(ctx, source, units); err != nil {
		return m.fail(res, fmt.Errorf("%w (manifest %s)", err, res.Manifest))
	}

	m.enter(StateImport)
	importer := &Importer{Client: m.Client, Interval: m.Interval, Retry: m.Retry, Timeout: m.OperationTimeout}
	if err := importer.Import(ctx, res.Target.Name, ids); err != nil {
		var ierr *ImportError
		if errors.As(err, &ierr) {
			ierr.Manifest = res.Manifest
			logging.Error("migration is partial, replay the remaining stacks with the import command",
				"target", res.Target.Name, "manifest", res.Manifest, "remaining", ierr.Remaining)
		}
		return m.fail(res, err)
	}
	res.Migrated = ids

	logging.Info("migration complete, check the status of stack instances on the target stack set",
		"target", res.Target.Name, "instances", len(ids))
	m.enter(StateDone)
	res.State = StateDone
	return res, nil
}

// detach deletes the source instances of units while retaining their stacks.
// The source's observed regions bound the operation.
func (m *Migrator) detach(ctx context.Context, source *ir.StackSetSnapshot, units []string) error {
	regions := source.Regions()
	logging.Info("starting to delete stack instances",
		"stackset", source.Name, "instances", len(source.FilteredInstances), "units", units, "regions", regions)

	out, err := Retry(ctx, m.Retry, func(ctx context.Context) (*cloudformation.DeleteStackInstancesOutput, error) {
		return m.Client.DeleteStackInstances(ctx, &cloudformation.DeleteStackInstancesInput{
			StackSetName:      aws.String(source.Name),
			RetainStacks:      aws.Bool(true),
			DeploymentTargets: &cfntypes.DeploymentTargets{OrganizationalUnitIds: units},
			Regions:           regions,
			OperationPreferences: &cfntypes.StackSetOperationPreferences{
				RegionConcurrencyType: cfntypes.RegionConcurrencyTypeParallel,
				MaxConcurrentCount:    aws.Int32(DeleteMaxConcurrentCount),
			},
		})
	})
	if err != nil {
		return fmt.Errorf("failed to delete stack instances from %s: %w", source.Name, err)
	}

	waiter := &OperationWaiter{Client: m.Client, Interval: m.Interval, Retry: m.Retry, Timeout: m.OperationTimeout}
	status, err := waiter.Wait(ctx, source.Name, aws.ToString(out.OperationId))
	if err != nil {
		return err
	}
	if status != cfntypes.StackSetOperationStatusSucceeded {
		return fmt.Errorf("%w: delete from %s ended %s", ErrOperationFailed, source.Name, status)
	}
	return nil
}

func confirmPrompt(opts Options, source *ir.StackSetSnapshot) string {
	scope := opts.OrganizationalUnit
	if scope == "" {
		scope = strings.Join(source.OrganizationalUnits, ", ")
	}
	return fmt.Sprintf("Deleting stack instances from stack set %s for ou %s and importing them into %s. Are you sure? (Y/N): ",
		opts.Source, scope, opts.Target)
}

// LogVerdict logs every violation and the instances behind it.
func LogVerdict(v *ir.Verdict) {
	for _, viol := range v.Violations {
		logging.Error(viol.Message, "category", string(viol.Category), "instances", len(viol.Instances))
	}
	for _, ref := range v.Instances() {
		logging.Info("offending instance", "stack", ref.StackID)
	}
	logging.Error("a comparison failed, review the log and report files")
}
