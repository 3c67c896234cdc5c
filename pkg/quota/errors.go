package quota

import (
	"errors"
	"fmt"

	"github.com/marmos91/ecquota/pkg/storage"
)

// ErrQuotaExceeded matches every *ExceededError via errors.Is.
var ErrQuotaExceeded = errors.New("quota exceeded")

// ErrLockNotHeld is returned when a transaction is attempted without the
// namespace write lock.
var ErrLockNotHeld = errors.New("namespace write lock not held")

type resourceKind uint8

const (
	namespaceResource resourceKind = iota
	storageSpaceResource
	storageTypeResource
)

// Resource identifies the quota dimension a violation occurred in.
type Resource struct {
	kind        resourceKind
	storageType storage.StorageType
}

var (
	// Namespace is the count of files and directories.
	Namespace = Resource{kind: namespaceResource}

	// StorageSpace is the aggregate physical bytes across all media.
	StorageSpace = Resource{kind: storageSpaceResource}
)

// StorageTypeResource is the physical bytes charged to one medium.
func StorageTypeResource(t storage.StorageType) Resource {
	return Resource{kind: storageTypeResource, storageType: t}
}

// StorageType returns the medium for a per-type resource.
func (r Resource) StorageType() (storage.StorageType, bool) {
	return r.storageType, r.kind == storageTypeResource
}

func (r Resource) String() string {
	switch r.kind {
	case namespaceResource:
		return "namespace"
	case storageSpaceResource:
		return "storage space"
	default:
		return "storage type " + r.storageType.String()
	}
}

// ExceededError reports the first quota a delta would breach.
type ExceededError struct {
	// Path is the directory whose quota would be exceeded
	Path string

	Resource Resource
	Quota    int64

	// Attempted is the usage the delta would have produced
	Attempted int64
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("%s quota exceeded on %s: quota=%d attempted=%d",
		e.Resource, e.Path, e.Quota, e.Attempted)
}

func (e *ExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}
