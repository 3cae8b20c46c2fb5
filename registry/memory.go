package registry

import (
	"context"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"
)

// InMemory is a Registry keeping artifacts in process memory. It backs local
// mode and tests.
type InMemory struct {
	mu        sync.RWMutex
	artifacts map[string]*Artifact
}

func NewInMemory() *InMemory {
	return &InMemory{artifacts: make(map[string]*Artifact)}
}

func (r *InMemory) Push(_ context.Context, artifact *Artifact) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a := *artifact
	if a.Digest == "" {
		a.Digest = Digest(a.Content)
	}
	if existing, ok := r.artifacts[a.Tag]; ok {
		if existing.Digest == a.Digest {
			log.WithField("tag", a.Tag).Debug("Tag already published with identical content, skipping")
			return nil
		}
		return ErrTagImmutable
	}
	r.artifacts[a.Tag] = &a
	return nil
}

func (r *InMemory) Pull(_ context.Context, tag string) (*Artifact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	artifact, ok := r.artifacts[tag]
	if !ok {
		return nil, ErrTagNotFound
	}
	a := *artifact
	return &a, nil
}

func (r *InMemory) Tags(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tags := make([]string, 0, len(r.artifacts))
	for tag := range r.artifacts {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags, nil
}
