package ir

import "slices"

// Parameter is a stack set parameter as returned by the provider.
type Parameter struct {
	Key              string
	Value            string
	UsePreviousValue bool
	ResolvedValue    string
}

// Classification is the result of probing a single stack instance.
type Classification string

const (
	ClassCurrent           Classification = "current"
	ClassNonCurrent        Classification = "non-current"
	ClassDrifted           Classification = "drifted"
	ClassUnknownDrift      Classification = "unknown-drift"
	ClassParameterOverride Classification = "has-parameter-override"
	ClassExtra             Classification = "extra"
)

// InstanceStatus is the probed state of a stack instance.
type InstanceStatus struct {
	Status             string
	DriftStatus        string
	ParameterOverrides int
}

// ClassifyInstance returns every classification that applies to an instance.
// An instance can be both drifted and non-current, for example.
func ClassifyInstance(st InstanceStatus, inTarget bool) []Classification {
	var out []Classification
	if st.ParameterOverrides > 0 {
		out = append(out, ClassParameterOverride)
	}
	if st.Status == "CURRENT" {
		out = append(out, ClassCurrent)
	} else {
		out = append(out, ClassNonCurrent)
	}
	switch st.DriftStatus {
	case "DRIFTED":
		out = append(out, ClassDrifted)
	case "UNKNOWN":
		out = append(out, ClassUnknownDrift)
	}
	if !inTarget {
		out = append(out, ClassExtra)
	}
	return out
}

// Classified holds the instances flagged by the evaluator, per category.
type Classified struct {
	Drifted    []InstanceRef
	Overrides  []InstanceRef
	NonCurrent []InstanceRef
	Extras     []InstanceRef
}

// Add files ref under every matching category. Unknown drift is recorded as
// drift.
func (c *Classified) Add(ref InstanceRef, classes []Classification) {
	for _, cl := range classes {
		switch cl {
		case ClassDrifted, ClassUnknownDrift:
			if !slices.Contains(c.Drifted, ref) {
				c.Drifted = append(c.Drifted, ref)
			}
		case ClassParameterOverride:
			c.Overrides = append(c.Overrides, ref)
		case ClassNonCurrent:
			c.NonCurrent = append(c.NonCurrent, ref)
		case ClassExtra:
			c.Extras = append(c.Extras, ref)
		}
	}
}

// StackSetSnapshot is the loaded state of a stack set for one run.
type StackSetSnapshot struct {
	Name                string
	Template            string
	Parameters          []Parameter
	Capabilities        []string
	ExecutionRoleName   string
	OrganizationalUnits []string
	TargetAccounts      []string

	Instances         []InstanceRef
	FilteredInstances []InstanceRef

	Classified Classified
}

// FilterByAccounts sets FilteredInstances to the instances deployed in one of
// accounts. An empty account list yields no instances.
func (s *StackSetSnapshot) FilterByAccounts(accounts []string) {
	set := make(map[string]struct{}, len(accounts))
	for _, a := range accounts {
		set[a] = struct{}{}
	}
	filtered := make([]InstanceRef, 0)
	for _, inst := range s.Instances {
		if _, ok := set[inst.Account]; ok {
			filtered = append(filtered, inst)
		}
	}
	s.FilteredInstances = filtered
}

// WidenFilter makes every instance part of the filtered set.
func (s *StackSetSnapshot) WidenFilter() {
	s.FilteredInstances = slices.Clone(s.Instances)
}

// IsTargetAccount reports whether account is one of the resolved target accounts.
func (s *StackSetSnapshot) IsTargetAccount(account string) bool {
	return slices.Contains(s.TargetAccounts, account)
}

// Regions returns the regions hosting instances, in first-seen order.
func (s *StackSetSnapshot) Regions() []string {
	var regions []string
	for _, inst := range s.Instances {
		if !slices.Contains(regions, inst.Region) {
			regions = append(regions, inst.Region)
		}
	}
	return regions
}

// InstancesPerRegion counts instances by region.
func (s *StackSetSnapshot) InstancesPerRegion() map[string]int {
	counts := make(map[string]int)
	for _, inst := range s.Instances {
		counts[inst.Region]++
	}
	return counts
}

// ParametersEqual compares two parameter lists exactly, order included.
func ParametersEqual(a, b []Parameter) bool {
	return slices.Equal(a, b)
}

// HasRegionAsymmetry reports whether regions host different numbers of
// instances. A uniform deployment puts the same count in every region.
func (s *StackSetSnapshot) HasRegionAsymmetry() bool {
	first := -1
	for _, n := range s.InstancesPerRegion() {
		if first == -1 {
			first = n
			continue
		}
		if n != first {
			return true
		}
	}
	return false
}
