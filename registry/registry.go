// Package registry implements artifact storage with immutable tags. Publishing
// is idempotent: pushing a tag that already exists with identical content is a
// no-op, and pushing different content under an existing tag is rejected.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
)

var (
	// ErrTagNotFound is returned by Pull when no artifact exists under the given tag
	ErrTagNotFound = errors.New("tag not found")
	// ErrTagImmutable is returned by Push when the tag exists with different content
	ErrTagImmutable = errors.New("tag already exists with different content")
	// ErrUnauthorized is returned on permanent authentication or authorization failures
	ErrUnauthorized = errors.New("registry authentication failed")
)

// Artifact is an immutable build output identified by its tag
type Artifact struct {
	// Tag is the immutable identifier, derived deterministically from the source revision
	Tag string `json:"tag"`
	// Revision is the source revision the artifact was built from
	Revision string `json:"revision"`
	// Digest is the content checksum, computed on push if empty
	Digest  string    `json:"digest"`
	BuiltAt time.Time `json:"builtAt"`
	Content []byte    `json:"-"`
}

// Digest computes the content checksum used to decide push idempotence
func Digest(content []byte) string {
	return fmt.Sprintf("xxh64:%016x", xxhash.Sum64(content))
}

// Registry is the artifact store interface
type Registry interface {
	// Push stores the artifact under its tag. Identical re-pushes are no-ops,
	// conflicting re-pushes return ErrTagImmutable.
	Push(ctx context.Context, artifact *Artifact) error
	// Pull returns the artifact stored under tag, or ErrTagNotFound
	Pull(ctx context.Context, tag string) (*Artifact, error)
	// Tags lists all known tags
	Tags(ctx context.Context) ([]string, error)
}

// IsPermanent reports whether a push error must not be retried
func IsPermanent(err error) bool {
	return errors.Is(err, ErrTagImmutable) || errors.Is(err, ErrUnauthorized)
}
