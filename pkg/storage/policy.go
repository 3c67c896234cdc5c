package storage

import (
	"fmt"
	"strings"
)

// Policy maps the files it is applied to onto a single storage type.
// Striped files are never spread over several types, so a policy carries
// exactly one.
type Policy struct {
	ID   uint8
	Name string
	Type StorageType
}

// Built-in policy IDs.
const (
	ProvidedPolicyID    uint8 = 1
	ColdPolicyID        uint8 = 2
	AllNVDIMMPolicyID   uint8 = 14
	LazyPersistPolicyID uint8 = 15
	AllSSDPolicyID      uint8 = 12
	HotPolicyID         uint8 = 7
)

var builtinPolicies = []Policy{
	{ID: HotPolicyID, Name: "HOT", Type: Disk},
	{ID: ColdPolicyID, Name: "COLD", Type: Archive},
	{ID: AllSSDPolicyID, Name: "ALL_SSD", Type: SSD},
	{ID: AllNVDIMMPolicyID, Name: "ALL_NVDIMM", Type: NVDIMM},
	{ID: LazyPersistPolicyID, Name: "LAZY_PERSIST", Type: RAMDisk},
	{ID: ProvidedPolicyID, Name: "PROVIDED", Type: Provided},
}

// DefaultPolicy returns the policy applied when no directory sets one (HOT).
func DefaultPolicy() Policy {
	return builtinPolicies[0]
}

// Policies returns the built-in storage policies.
func Policies() []Policy {
	out := make([]Policy, len(builtinPolicies))
	copy(out, builtinPolicies)
	return out
}

// LookupPolicy finds a built-in policy by name, case-insensitively.
func LookupPolicy(name string) (Policy, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for _, p := range builtinPolicies {
		if p.Name == upper {
			return p, nil
		}
	}
	return Policy{}, fmt.Errorf("unknown storage policy %q", name)
}

// LookupPolicyID finds a built-in policy by ID.
func LookupPolicyID(id uint8) (Policy, error) {
	for _, p := range builtinPolicies {
		if p.ID == id {
			return p, nil
		}
	}
	return Policy{}, fmt.Errorf("unknown storage policy id %d", id)
}
