// Package storage defines storage media types and the storage policies that
// map a file to the medium its blocks are charged against.
package storage

import (
	"fmt"
	"strings"
)

// StorageType is a class of physical storage medium.
type StorageType uint8

const (
	RAMDisk StorageType = iota
	SSD
	Disk
	Archive
	NVDIMM
	Provided

	// NumTypes is the number of storage types. Arrays indexed by
	// StorageType use it as their length.
	NumTypes = int(Provided) + 1
)

var typeNames = [NumTypes]string{"RAM_DISK", "SSD", "DISK", "ARCHIVE", "NVDIMM", "PROVIDED"}

func (t StorageType) String() string {
	if int(t) < NumTypes {
		return typeNames[t]
	}
	return fmt.Sprintf("StorageType(%d)", uint8(t))
}

// Valid reports whether t is a known storage type.
func (t StorageType) Valid() bool {
	return int(t) < NumTypes
}

// SupportsTypeQuota reports whether per-type quota may be set for t.
// Provided storage lives outside the cluster and is never charged.
func (t StorageType) SupportsTypeQuota() bool {
	return t.Valid() && t != Provided
}

// Types returns all storage types in index order.
func Types() []StorageType {
	out := make([]StorageType, NumTypes)
	for i := range out {
		out[i] = StorageType(i)
	}
	return out
}

// ParseStorageType parses a storage type name, case-insensitively.
func ParseStorageType(s string) (StorageType, error) {
	upper := strings.ToUpper(strings.TrimSpace(s))
	for i, name := range typeNames {
		if name == upper {
			return StorageType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown storage type %q", s)
}

// MarshalText lets storage types be used as map keys in JSON and YAML.
func (t StorageType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid storage type %d", uint8(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText is the inverse of MarshalText.
func (t *StorageType) UnmarshalText(b []byte) error {
	parsed, err := ParseStorageType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
