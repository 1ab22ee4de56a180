// ABOUTME: Closed enumeration of the entity kinds log records can be attached to
// ABOUTME: Parse rejects unknown class ids instead of guessing

package classid

import (
	"errors"
	"fmt"
)

// ErrUnknownClass is returned by Parse for ids outside the enumeration.
var ErrUnknownClass = errors.New("unknown class id")

// Kind is the entity kind behind a class id.
type Kind int32

const (
	DockerJob Kind = 1
)

// Kinds lists every defined kind.
func Kinds() []Kind {
	return []Kind{DockerJob}
}

// Parse maps a stored class id to its Kind.
func Parse(id int32) (Kind, error) {
	switch Kind(id) {
	case DockerJob:
		return DockerJob, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnknownClass, id)
	}
}

// ID returns the stored class id.
func (k Kind) ID() int32 {
	return int32(k)
}

func (k Kind) String() string {
	switch k {
	case DockerJob:
		return "docker_job"
	default:
		return fmt.Sprintf("class(%d)", int32(k))
	}
}
