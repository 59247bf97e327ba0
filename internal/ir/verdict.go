package ir

// ViolationCategory tags a failed gate rule.
type ViolationCategory string

const (
	ViolationDrift            ViolationCategory = "drift-found"
	ViolationOverride         ViolationCategory = "override-found"
	ViolationNonCurrent       ViolationCategory = "non-current-found"
	ViolationRegionAsymmetry  ViolationCategory = "region-asymmetry"
	ViolationTemplateMismatch ViolationCategory = "template-mismatch"
	ViolationParamMismatch    ViolationCategory = "parameter-mismatch"
	ViolationInstanceConflict ViolationCategory = "instance-conflict"
	ViolationPendingChange    ViolationCategory = "pending-change-detected"
)

// Violation is a single failed gate rule with the instances that caused it.
type Violation struct {
	Category  ViolationCategory
	Message   string
	Instances []InstanceRef
}

// Verdict is the outcome of comparing two stack sets.
type Verdict struct {
	Violations []Violation
}

// Add records a violation.
func (v *Verdict) Add(category ViolationCategory, message string, instances ...InstanceRef) {
	v.Violations = append(v.Violations, Violation{
		Category:  category,
		Message:   message,
		Instances: instances,
	})
}

// Passed is true when no rule failed.
func (v *Verdict) Passed() bool {
	return len(v.Violations) == 0
}

// Instances returns every instance referenced by a violation, without duplicates.
func (v *Verdict) Instances() []InstanceRef {
	seen := make(map[string]struct{})
	var out []InstanceRef
	for _, viol := range v.Violations {
		for _, inst := range viol.Instances {
			if _, ok := seen[inst.StackID]; ok {
				continue
			}
			seen[inst.StackID] = struct{}{}
			out = append(out, inst)
		}
	}
	return out
}
