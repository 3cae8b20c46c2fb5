// Package build turns source-change notifications into published artifacts.
// The pipeline is all-or-nothing: a failed build publishes nothing, and a
// confirmed publish is required before any descriptor update may reference
// the new tag.
package build

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/cespare/xxhash/v2"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/windlass-cd/windlass/registry"
)

// ErrBuildFailed wraps build-step failures. These are fatal per revision.
var ErrBuildFailed = errors.New("build failed")

// Tag derives the immutable artifact tag for a source revision. It is a pure
// function of the revision id: a short revision prefix for readability plus an
// xxhash checksum of the full revision so distinct revisions never collide.
func Tag(revision string) string {
	short := revision
	if len(short) > 7 {
		short = short[:7]
	}
	return fmt.Sprintf("%s-%016x", short, xxhash.Sum64String(revision))
}

// BuildFunc produces artifact content for a revision. Implementations run the
// actual build (e.g. a container image build) and return its content bytes.
type BuildFunc func(ctx context.Context, revision string) ([]byte, error)

// Pipeline builds and publishes one artifact per triggering revision
type Pipeline struct {
	Build    BuildFunc
	Registry registry.Registry
	// PublishBackOff configures retries of transient publish failures.
	// Defaults to an exponential backoff with 5 attempts.
	PublishBackOff *backoff.ExponentialBackOff
	PublishRetries uint

	sem *semaphore.Weighted
}

// NewPipeline returns a Pipeline allowing up to maxParallel concurrent builds
func NewPipeline(buildFn BuildFunc, reg registry.Registry, maxParallel int64) *Pipeline {
	if maxParallel < 1 {
		maxParallel = 1
	}
	return &Pipeline{
		Build:    buildFn,
		Registry: reg,
		sem:      semaphore.NewWeighted(maxParallel),
	}
}

// Run builds the revision and publishes the resulting artifact. On build
// failure nothing is published and the error is returned wrapped in
// ErrBuildFailed. Transient publish failures are retried with backoff;
// permanent ones (auth, tag conflict) are surfaced immediately.
func (p *Pipeline) Run(ctx context.Context, revision string) (*registry.Artifact, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer p.sem.Release(1)

	tag := Tag(revision)
	logCtx := log.WithFields(log.Fields{"revision": revision, "tag": tag})
	logCtx.Info("Starting build")

	content, err := p.Build(ctx, revision)
	if err != nil {
		logCtx.Errorf("Build failed: %v", err)
		return nil, fmt.Errorf("%w: revision %s: %v", ErrBuildFailed, revision, err)
	}

	artifact := &registry.Artifact{
		Tag:      tag,
		Revision: revision,
		Digest:   registry.Digest(content),
		BuiltAt:  time.Now().UTC(),
		Content:  content,
	}

	bo := p.PublishBackOff
	if bo == nil {
		bo = backoff.NewExponentialBackOff()
		bo.InitialInterval = 500 * time.Millisecond
	}
	retries := p.PublishRetries
	if retries == 0 {
		retries = 5
	}
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		err := p.Registry.Push(ctx, artifact)
		if err != nil && registry.IsPermanent(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(retries))
	if err != nil {
		logCtx.Errorf("Publish failed: %v", err)
		return nil, fmt.Errorf("publish %s: %w", tag, err)
	}
	logCtx.Info("Artifact published")
	return artifact, nil
}
