package engine

import (
	"context"
	"fmt"
	"slices"

	"github.com/stackshift-io/stackshift/internal/ir"
	"github.com/stackshift-io/stackshift/internal/logging"
)

// Comparator is the consistency gate between a source and a target stack set.
type Comparator struct {
	// ChangeSets is required only when pending changes are checked.
	ChangeSets *ChangeSetEvaluator
}

// Compare evaluates every gate rule and accumulates the violations. target
// may be nil, in which case only the source rules apply. The error is
// reserved for failures that prevent the gate from being evaluated.
func (c *Comparator) Compare(ctx context.Context, source, target *ir.StackSetSnapshot, checkPendingChanges bool) (*ir.Verdict, error) {
	verdict := &ir.Verdict{}

	if len(source.Classified.Drifted) > 0 {
		verdict.Add(ir.ViolationDrift,
			"stack set has drifted stacks; fix the accounts and regions first",
			source.Classified.Drifted...)
	}
	if len(source.Classified.Overrides) > 0 {
		verdict.Add(ir.ViolationOverride,
			"stack set uses parameter overrides; fix the accounts and regions first",
			source.Classified.Overrides...)
	}
	if len(source.Classified.NonCurrent) > 0 {
		verdict.Add(ir.ViolationNonCurrent,
			"stack set has non current stacks; fix the accounts and regions first",
			source.Classified.NonCurrent...)
	}
	if source.HasRegionAsymmetry() {
		verdict.Add(ir.ViolationRegionAsymmetry,
			fmt.Sprintf("stack set is not deployed to the same regions for all accounts: %v", source.InstancesPerRegion()))
	}

	if target == nil {
		return verdict, nil
	}

	if source.Template != target.Template {
		verdict.Add(ir.ViolationTemplateMismatch, "templates differ between source and target stack sets")
	}
	if !ir.ParametersEqual(source.Parameters, target.Parameters) {
		verdict.Add(ir.ViolationParamMismatch, "parameters differ between source and target stack sets")
	}
	if conflicts := Conflicts(source.FilteredInstances, target.Instances); len(conflicts) > 0 {
		verdict.Add(ir.ViolationInstanceConflict,
			"target stack set already has instances in the same accounts and regions",
			conflicts...)
	}

	if checkPendingChanges {
		if c.ChangeSets == nil {
			return nil, fmt.Errorf("pending change check requested without a change set evaluator")
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var pending []ir.InstanceRef
		for _, o := range c.ChangeSets.EvaluateAll(ctx, source.Instances, target) {
			switch {
			case o.Err != nil:
				logging.Error("change set evaluation failed", "stack", o.Instance.StackID, "error", o.Err)
				pending = append(pending, o.Instance)
			case o.Changes > 0:
				logging.Warn("change set has changes", "stack", o.Instance.StackID, "changes", o.Changes)
				pending = append(pending, o.Instance)
			}
		}
		if len(pending) > 0 {
			verdict.Add(ir.ViolationPendingChange,
				"migrating would change these stacks, or their change set could not be evaluated; review them first",
				pending...)
		}
	}

	return verdict, nil
}

// Conflicts returns every ref in source that is colocated with a ref in target.
func Conflicts(source, target []ir.InstanceRef) []ir.InstanceRef {
	var out []ir.InstanceRef
	for _, s := range source {
		if slices.ContainsFunc(target, s.Colocated) {
			out = append(out, s)
		}
	}
	return out
}
